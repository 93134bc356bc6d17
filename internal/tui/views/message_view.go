package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/einfra-labs/chatbox/internal/model"
)

// MessageView renders one conversation's thread, oldest first.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates the thread view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	return &MessageView{TextView: tv}
}

// SetConversationName sets the view title.
func (mv *MessageView) SetConversationName(name string) {
	mv.SetTitle(" " + name + " ")
}

// Update re-renders the thread. Pending messages (no server id yet) are
// marked so the user can tell what is unconfirmed.
func (mv *MessageView) Update(msgs []model.Message, selfID string) {
	mv.Clear()
	for i := range msgs {
		m := &msgs[i]
		name := m.Sender.Name
		if m.SelfAuthored(selfID) {
			name = "You"
		} else if name == "" {
			name = m.Sender.ID
		}

		marker := ""
		if m.ID == "" {
			marker = " [gray](sending...)[-]"
		}
		body := m.Content
		if m.File != nil {
			body = fmt.Sprintf("[file] %s (%s)", m.File.Name, m.File.URL)
		}
		fmt.Fprintf(mv, "[yellow]%s[-] [gray]%s[-]%s\n%s\n\n",
			tview.Escape(name), m.Timestamp.Local().Format("15:04"), marker, tview.Escape(body))
	}
	mv.ScrollToEnd()
}
