package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// CallInfo is what the overlay renders.
type CallInfo struct {
	Title        string // counterparty or group name
	Phase        string
	Participants []string
	Muted        bool
	Duration     time.Duration
}

// CallView is the full-screen overlay for a ringing or active call.
type CallView struct {
	*tview.TextView
}

// NewCallView creates the call overlay.
func NewCallView() *CallView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).SetTitle(" Call ")
	return &CallView{TextView: tv}
}

// Update re-renders the overlay.
func (cv *CallView) Update(info CallInfo) {
	cv.Clear()

	mute := ""
	if info.Muted {
		mute = "\n[red]muted[-]"
	}
	duration := ""
	if info.Duration > 0 {
		duration = "\n" + formatDuration(info.Duration)
	}
	participants := ""
	if len(info.Participants) > 0 {
		participants = "\nwith: " + strings.Join(info.Participants, ", ")
	}
	fmt.Fprintf(cv, "\n\n[yellow]%s[-]\n%s%s%s%s\n\n[gray]m:mute  h:hang up[-]",
		tview.Escape(info.Title), info.Phase, duration, participants, mute)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
