package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/rivo/tview"
)

// ChatList is the chat list table, most recent chat first.
type ChatList struct {
	*tview.Table
	chats []chat.Summary
	now   func() time.Time
}

// NewChatList creates a new chat list table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chats ")

	return &ChatList{Table: table, now: time.Now}
}

// Update refreshes the list, keeping the selection on the same chat when it
// is still present.
func (cl *ChatList) Update(chats []chat.Summary) {
	selected := cl.SelectedChat()
	cl.chats = chats
	cl.Clear()

	headers := []string{" NAME", " LAST MESSAGE", " TIME"}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAttributes(tcell.AttrBold))
	}

	now := cl.now()
	row := 1
	for i, c := range chats {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("chat %d", c.ChatID)
		}
		name = cellText(name)
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, c.UnreadCount)
		}

		r := i + 1
		cl.SetCell(r, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(r, 1, tview.NewTableCell(" "+cellText(c.LastMessagePreview)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(r, 2, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt, now)).SetMaxWidth(12))
		if c.ChatID == selected {
			row = r
		}
	}
	if len(chats) > 0 {
		cl.Select(row, 0)
	}
}

// SelectedChat returns the id of the currently selected chat, 0 if none.
func (cl *ChatList) SelectedChat() int64 {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx].ChatID
	}
	return 0
}
