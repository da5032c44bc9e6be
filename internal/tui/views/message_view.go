package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/rivo/tview"
)

// MessageView displays the cached messages of one chat.
type MessageView struct {
	*tview.TextView
	chatID int64
	now    func() time.Time
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, now: time.Now}
}

// SetChat updates the title for the open chat.
func (mv *MessageView) SetChat(chatID int64, name string) {
	mv.chatID = chatID
	if name == "" {
		name = fmt.Sprintf("chat %d", chatID)
	}
	mv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// ChatID returns the chat shown, 0 if none.
func (mv *MessageView) ChatID() int64 { return mv.chatID }

// Update renders msgs, which arrive oldest first, and scrolls to the newest.
func (mv *MessageView) Update(msgs []chat.Message) {
	mv.Clear()
	now := mv.now()
	for _, m := range msgs {
		_, _ = fmt.Fprint(mv, formatMessage(m, now))
	}
	mv.ScrollToEnd()
}

func formatMessage(m chat.Message, now time.Time) string {
	return fmt.Sprintf("[::b]%s[-:-:-] [::d]%s #%d[-:-:-]\n%s\n\n",
		tview.Escape(sanitizeForTerminal(m.Sender)),
		formatTimestamp(m.Timestamp, now),
		m.ID,
		tview.Escape(sanitizeForTerminal(m.Body)))
}
