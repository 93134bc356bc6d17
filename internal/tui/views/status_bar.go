package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays account, channel state, unread count and transient
// notices on one line.
type StatusBar struct {
	*tview.TextView
	account string
	channel string
	unread  int
	call    string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv}
}

// SetAccount updates the account name display.
func (sb *StatusBar) SetAccount(name string) {
	sb.account = name
	sb.render()
}

// SetChannelState updates the connection indicator.
func (sb *StatusBar) SetChannelState(state string) {
	sb.channel = state
	sb.render()
}

// SetUnread updates the unread notification counter.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetCall updates the in-call indicator; empty hides it.
func (sb *StatusBar) SetCall(text string) {
	sb.call = text
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	unread := ""
	if sb.unread > 0 {
		unread = fmt.Sprintf(" [red]%d![-]", sb.unread)
	}
	callPart := ""
	if sb.call != "" {
		callPart = " [green]" + tview.Escape(sb.call) + "[-]"
	}
	flashPart := ""
	if sb.flash != "" {
		flashPart = "  [yellow]" + tview.Escape(sb.flash) + "[-]"
	}
	fmt.Fprintf(sb, " [aqua]%s[-] | %s%s%s%s  %s",
		tview.Escape(sb.account), sb.channel, unread, callPart, flashPart, clock)
}
