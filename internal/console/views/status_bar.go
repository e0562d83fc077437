package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the profile, realtime link state and a flash line.
type StatusBar struct {
	*tview.TextView
	profile string
	link    string
	flash   string
	flashAt time.Time
}

const flashTTL = 5 * time.Second

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetLink updates the realtime link state display.
func (sb *StatusBar) SetLink(state string) {
	sb.link = state
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.flashAt = time.Now()
	sb.render()
}

// Tick re-renders the bar, expiring stale flash messages.
func (sb *StatusBar) Tick() {
	if sb.flash != "" && time.Since(sb.flashAt) > flashTTL {
		sb.flash = ""
	}
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	link := sb.link
	switch link {
	case "live":
		link = "[green]live[-]"
	case "degraded":
		link = "[red]degraded[-]"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.profile, link, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
