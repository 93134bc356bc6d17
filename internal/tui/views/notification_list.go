package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/einfra-labs/chatbox/internal/chat"
)

// NotificationList shows the persisted notification center.
type NotificationList struct {
	*tview.TextView
}

// NewNotificationList creates the notification page.
func NewNotificationList() *NotificationList {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).SetTitle(" Notifications ")
	return &NotificationList{TextView: tv}
}

// Update re-renders the list, newest first.
func (nl *NotificationList) Update(notes []chat.Notification) {
	nl.Clear()
	if len(notes) == 0 {
		fmt.Fprint(nl, "\n No notifications.")
		return
	}
	for i := len(notes) - 1; i >= 0; i-- {
		n := notes[i]
		marker := " "
		if !n.Read {
			marker = "[red]*[-]"
		}
		fmt.Fprintf(nl, " %s [gray]%s[-]  %s\n",
			marker, n.Timestamp.Local().Format("Jan 02 15:04"), tview.Escape(n.Text))
	}
}
