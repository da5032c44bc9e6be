package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/rivo/tview"
)

// SearchView runs a query across all chats and lists the hits.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	data    []chat.Message
	names   func(chatID int64) string
	now     func() time.Time
}

// NewSearchView creates a new search view. names resolves a chat id to a
// display name for the results table.
func NewSearchView(names func(chatID int64) string) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Results ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	return &SearchView{
		Flex:    flex,
		input:   input,
		results: results,
		names:   names,
		now:     time.Now,
	}
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && fn != nil {
			fn(sv.input.GetText())
		}
	})
}

// Update refreshes search results.
func (sv *SearchView) Update(results []chat.Message) {
	sv.data = results
	sv.results.Clear()

	headers := []string{" CHAT", " SENDER", " MESSAGE", " TIME"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAttributes(tcell.AttrBold))
	}

	now := sv.now()
	for i, m := range results {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+cellText(sv.names(m.ChatID))).SetMaxWidth(25))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+cellText(m.Sender)).SetMaxWidth(12))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+cellText(m.Body)).SetExpansion(1))
		sv.results.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(m.Timestamp, now)).SetMaxWidth(12))
	}
}

// SelectedChat returns the chat of the selected hit, 0 if none.
func (sv *SearchView) SelectedChat() int64 {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ChatID
	}
	return 0
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
