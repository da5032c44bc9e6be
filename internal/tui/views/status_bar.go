package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
	"github.com/rivo/tview"
)

// StatusBar shows the instance, the connection status, key hints and the
// current flash message.
type StatusBar struct {
	*tview.TextView
	instance string
	view     status.View
	hints    []string
	flash    string
	now      func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, now: time.Now}
}

// SetInstance updates the instance name display.
func (sb *StatusBar) SetInstance(name string) {
	sb.instance = name
	sb.render()
}

// SetStatus updates the connection status display.
func (sb *StatusBar) SetStatus(v status.View) {
	sb.view = v
	sb.render()
}

// SetHints updates the key hints for the front page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	now := sb.now()
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", tview.Escape(sb.instance), statusMarkup(sb.view))
	if hb := sb.view.LastHeartbeat; hb > 0 && sb.view.Status == status.StatusConnected {
		age := now.Sub(time.UnixMilli(hb)).Truncate(time.Second)
		line += fmt.Sprintf(" [::d]hb %s ago[-:-:-]", age)
	}
	line += " | " + now.Format("15:04")
	if len(sb.hints) > 0 {
		line += " | " + strings.Join(sb.hints, " ")
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}
	return line
}

func statusMarkup(v status.View) string {
	switch v.Status {
	case status.StatusConnected:
		return "[green]" + v.Label() + "[-]"
	case status.StatusReconnecting:
		return "[yellow]" + v.Label() + "[-]"
	default:
		return "[red]" + v.Label() + "[-]"
	}
}
