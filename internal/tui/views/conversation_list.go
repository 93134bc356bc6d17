package views

import (
	"time"

	"github.com/rivo/tview"

	"github.com/einfra-labs/chatbox/internal/model"
)

// ConvEntry is one row of the conversation list.
type ConvEntry struct {
	Key     model.ConvKey
	Name    string
	Preview string
	At      time.Time
}

// ConversationList is the sidebar table of conversations, most recently
// active first.
type ConversationList struct {
	*tview.Table
	entries []ConvEntry
}

// NewConversationList creates the conversation table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(entries []ConvEntry) {
	cl.entries = entries
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, e := range entries {
		row := i + 1
		name := e.Name
		if e.Key.Scope == model.ScopeGroup {
			name = "# " + name
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+e.Preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(e.At)).SetMaxWidth(12))
	}
}

// Selected returns the entry under the cursor.
func (cl *ConversationList) Selected() (ConvEntry, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.entries) {
		return cl.entries[idx], true
	}
	return ConvEntry{}, false
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 02")
}
