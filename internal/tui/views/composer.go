package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the input line for the active conversation. Plain text is
// sent as a message; "/file <path>" sends the file at that path.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onFile func(path string)
}

// NewComposer creates the composer with empty callbacks.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(c.GetText())
		if text == "" {
			return
		}
		if path, ok := strings.CutPrefix(text, "/file "); ok {
			if c.onFile != nil {
				c.onFile(strings.TrimSpace(path))
			}
		} else if c.onSend != nil {
			c.onSend(text)
		}
		c.SetText("")
	})

	return c
}

// SetOnSend sets the callback for plain text entries.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnFile sets the callback for "/file <path>" entries.
func (c *Composer) SetOnFile(fn func(path string)) {
	c.onFile = fn
}
