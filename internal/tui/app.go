// Package tui is the terminal shell: a thin rendering and input layer
// over the chat state, the call manager and the channel session.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/call"
	"github.com/einfra-labs/chatbox/internal/channel"
	"github.com/einfra-labs/chatbox/internal/chat"
	"github.com/einfra-labs/chatbox/internal/model"
	"github.com/einfra-labs/chatbox/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	chat   *chat.State
	calls  *call.Manager
	events *bus.Bus
	logger *zap.Logger

	convList   *views.ConversationList
	msgView    *views.MessageView
	composer   *views.Composer
	statusBar  *views.StatusBar
	callView   *views.CallView
	noteList   *views.NotificationList
	ringing    *tview.Modal
	groupInput *tview.InputField

	active    model.ConvKey
	hasActive bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(chatState *chat.State, calls *call.Manager, events *bus.Bus, account string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		chat:       chatState,
		calls:      calls,
		events:     events,
		logger:     logger,
		convList:   views.NewConversationList(),
		msgView:    views.NewMessageView(),
		composer:   views.NewComposer(),
		statusBar:  views.NewStatusBar(),
		callView:   views.NewCallView(),
		noteList:   views.NewNotificationList(),
		ringing:    tview.NewModal(),
		groupInput: tview.NewInputField(),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.statusBar.SetAccount(account)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if entry, ok := a.convList.Selected(); ok {
			a.openConversation(entry)
		}
	})

	a.composer.SetOnSend(func(text string) {
		a.deliver(func(ctx context.Context, key model.ConvKey) error {
			_, err := a.chat.SendText(ctx, key, text)
			return err
		})
	})
	a.composer.SetOnFile(func(path string) {
		a.deliver(func(ctx context.Context, key model.ConvKey) error {
			_, err := a.chat.SendFilePath(ctx, key, path)
			return err
		})
	})

	a.groupInput.SetLabel(" new group > ").SetFieldWidth(0)
	a.groupInput.SetDoneFunc(func(key tcell.Key) {
		name := strings.TrimSpace(a.groupInput.GetText())
		a.groupInput.SetText("")
		a.pages.SwitchToPage("conversations")
		a.app.SetFocus(a.convList)
		if key != tcell.KeyEnter || name == "" {
			return
		}
		go func() {
			if _, err := a.chat.CreateGroup(a.ctx, name); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash("Create group failed: " + err.Error())
				})
			}
		}()
	})
}

// deliver runs a send against the active conversation off the UI
// goroutine, flashing the error if it fails.
func (a *App) deliver(send func(context.Context, model.ConvKey) error) {
	if !a.hasActive {
		return
	}
	key := a.active
	go func() {
		if err := send(a.ctx, key); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash("Send failed: " + err.Error())
			})
		}
	}()
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("newgroup", a.groupInput, true, false)
	a.pages.AddPage("notifications", a.noteList, true, false)
	a.pages.AddPage("call", a.callView, true, false)
	a.pages.AddPage("ringing", a.ringing, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	currentPage, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		switch currentPage {
		case "chat", "notifications", "newgroup":
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
			return nil
		}
	}

	// Let text input widgets handle all keys normally.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}

	if event.Key() != tcell.KeyRune {
		return event
	}

	switch currentPage {
	case "ringing":
		return a.handleRingingKey(event.Rune())
	case "call":
		switch event.Rune() {
		case 'm':
			a.calls.SetMuted(!a.calls.Status().Muted)
			return nil
		case 'h':
			go a.hangUp()
			return nil
		}
	case "chat":
		switch event.Rune() {
		case 'i':
			a.app.SetFocus(a.composer.InputField)
			return nil
		case 'c':
			a.startCall()
			return nil
		}
	}

	if currentPage == "conversations" && event.Rune() == 'g' {
		a.pages.SwitchToPage("newgroup")
		a.app.SetFocus(a.groupInput)
		return nil
	}

	switch event.Rune() {
	case 'q':
		a.Stop()
		return nil
	case 'n':
		a.noteList.Update(a.chat.Notifications())
		a.pages.SwitchToPage("notifications")
		return nil
	}
	return event
}

func (a *App) handleRingingKey(r rune) *tcell.EventKey {
	st := a.calls.Status()
	switch {
	case st.Phase == call.RingingIn && r == 'a':
		go func() {
			if err := a.calls.Accept(a.ctx); err != nil {
				a.logger.Warn("accept failed", zap.Error(err))
			}
		}()
	case st.Phase == call.RingingIn && r == 'r':
		go func() {
			if err := a.calls.Reject(a.ctx); err != nil {
				a.logger.Warn("reject failed", zap.Error(err))
			}
		}()
	case st.Phase == call.GroupIncoming && r == 'j':
		go func() {
			if err := a.calls.JoinGroupCall(a.ctx); err != nil {
				a.logger.Warn("join failed", zap.Error(err))
			}
		}()
	case st.Phase == call.GroupIncoming && r == 'd':
		a.calls.DeclineGroupCall()
	case st.Phase == call.RingingOut && r == 'h':
		go a.hangUp()
	default:
		return nil
	}
	return nil
}

func (a *App) startCall() {
	if !a.hasActive {
		return
	}
	key := a.active
	go func() {
		var err error
		if key.Scope == model.ScopeGroup {
			err = a.calls.StartGroupCall(a.ctx, key.ID)
		} else {
			err = a.calls.Invite(a.ctx, key.ID)
		}
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash("Call failed: " + err.Error())
			})
		}
	}()
}

func (a *App) hangUp() {
	if err := a.calls.EndCall(a.ctx); err != nil {
		a.logger.Warn("hang up failed", zap.Error(err))
	}
}

func (a *App) openConversation(entry views.ConvEntry) {
	a.active = entry.Key
	a.hasActive = true
	go func() {
		msgs, err := a.chat.LoadHistory(a.ctx, entry.Key)
		if err != nil {
			msgs = a.chat.Conversation(entry.Key)
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetConversationName(entry.Name)
			a.msgView.Update(msgs, a.chat.SelfID())
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// Run starts the TUI and its event pump.
func (a *App) Run() error {
	sub, unsubscribe := a.events.Subscribe("", 128)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-a.ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				a.app.QueueUpdateDraw(func() { a.refresh(ev) })
			}
		}
	}()

	// Call duration ticker; cheap no-op while idle.
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if a.calls.Status().Phase == call.Active {
					a.app.QueueUpdateDraw(func() { a.renderCall() })
				}
			}
		}
	}()

	a.refresh(bus.Event{})
	return a.app.Run()
}

// refresh re-renders everything a bus event may have touched. Renders
// are cheap enough that no per-kind diffing is done.
func (a *App) refresh(ev bus.Event) {
	a.convList.Update(a.entries())
	a.statusBar.SetUnread(a.chat.UnreadCount())

	if ev.Kind == bus.KindChannelState {
		if state, ok := ev.Payload.(channel.State); ok {
			a.statusBar.SetChannelState(string(state))
		}
	}
	if ev.Kind == bus.KindChannelError {
		a.statusBar.SetFlash("Connection error")
	}

	if toasts := a.chat.Toasts(); len(toasts) > 0 {
		a.statusBar.SetFlash(toasts[len(toasts)-1].Text)
	} else if ev.Kind == bus.KindChatToast {
		a.statusBar.SetFlash("")
	}

	if a.hasActive {
		currentPage, _ := a.pages.GetFrontPage()
		if currentPage == "chat" {
			a.msgView.Update(a.chat.Conversation(a.active), a.chat.SelfID())
		}
	}

	a.renderCall()
}

// renderCall keeps the visible page consistent with the call phase.
func (a *App) renderCall() {
	st := a.calls.Status()
	currentPage, _ := a.pages.GetFrontPage()

	switch st.Phase {
	case call.Idle:
		a.statusBar.SetCall("")
		if currentPage == "call" || currentPage == "ringing" {
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
		}
	case call.RingingIn:
		a.ringing.SetText("Incoming call from " + a.displayName(st.PeerID) + "\n\na:accept  r:reject")
		a.pages.SwitchToPage("ringing")
	case call.RingingOut:
		a.ringing.SetText("Calling " + a.displayName(st.PeerID) + "...\n\nh:hang up")
		a.pages.SwitchToPage("ringing")
	case call.GroupIncoming:
		a.ringing.SetText("Group call in " + a.groupName(st.GroupID) +
			" started by " + a.displayName(st.CallerID) + "\n\nj:join  d:decline")
		a.pages.SwitchToPage("ringing")
	case call.Active:
		title := a.displayName(st.PeerID)
		if st.Scope == model.ScopeGroup {
			title = a.groupName(st.GroupID)
		}
		var participants []string
		for _, id := range a.calls.Participants() {
			participants = append(participants, a.displayName(id))
		}
		a.callView.Update(views.CallInfo{
			Title:        title,
			Phase:        "in call",
			Participants: participants,
			Muted:        st.Muted,
			Duration:     a.calls.Duration(),
		})
		a.statusBar.SetCall("on call: " + title)
		a.pages.SwitchToPage("call")
	}
}

// entries lists active conversations first, then the rest of the
// directory and groups that have no history yet.
func (a *App) entries() []views.ConvEntry {
	seen := make(map[model.ConvKey]bool)
	var out []views.ConvEntry

	for _, act := range a.chat.ActivityOrder() {
		name := a.displayName(act.Key.ID)
		if act.Key.Scope == model.ScopeGroup {
			name = a.groupName(act.Key.ID)
		}
		out = append(out, views.ConvEntry{Key: act.Key, Name: name, Preview: act.Preview, At: act.At})
		seen[act.Key] = true
	}
	for _, c := range a.chat.Contacts() {
		key := model.UserKey(c.ID)
		if seen[key] || c.ID == a.chat.SelfID() {
			continue
		}
		out = append(out, views.ConvEntry{Key: key, Name: a.displayName(c.ID)})
	}
	for _, g := range a.chat.Groups() {
		key := model.GroupKey(g.ID)
		if seen[key] {
			continue
		}
		out = append(out, views.ConvEntry{Key: key, Name: g.Name})
	}
	return out
}

func (a *App) displayName(userID string) string {
	if c := a.chat.Contact(userID); c != nil && c.Name != "" {
		return c.Name
	}
	return userID
}

func (a *App) groupName(groupID string) string {
	if g := a.chat.Group(groupID); g != nil && g.Name != "" {
		return g.Name
	}
	return groupID
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
