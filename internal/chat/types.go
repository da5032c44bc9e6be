// Package chat holds the domain types shared by the server, the store and the
// client cache.
package chat

// Message is a single chat message. ID is globally unique and never reused.
type Message struct {
	ID        int64
	ChatID    int64
	Timestamp int64 // unix milliseconds
	Sender    string
	Body      string
}

// Summary is the chat-list entry for one chat.
// LastMessageAt never decreases over the lifetime of a summary.
type Summary struct {
	ChatID             int64
	Name               string
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}

// Before reports whether m sorts before o in a chat's message list:
// timestamp ascending, id breaking ties.
func (m Message) Before(o Message) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.ID < o.ID
}

// Preview truncates a message body for the chat list.
func Preview(body string, maxLen int) string {
	r := []rune(body)
	if len(r) <= maxLen {
		return body
	}
	return string(r[:maxLen])
}
