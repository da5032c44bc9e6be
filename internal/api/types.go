package api

import "github.com/matheus3301/chatsync/internal/chat"

// Message is the JSON form of a chat message.
type Message struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chatId"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

// Chat is the JSON form of a chat summary.
type Chat struct {
	ChatID             int64  `json:"chatId"`
	Name               string `json:"name"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int    `json:"unreadCount"`
}

// ChatsPage is the response of GET /api/chats.
type ChatsPage struct {
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Chats  []Chat `json:"chats"`
}

// MessagesPage is the response of the message listing and search routes.
type MessagesPage struct {
	ChatID   int64     `json:"chatId,omitempty"`
	Offset   int       `json:"offset"`
	Limit    int       `json:"limit"`
	Messages []Message `json:"messages"`
}

// DisconnectResult is the response of the simulate-disconnect route.
type DisconnectResult struct {
	Dropped int `json:"dropped"`
}

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

func FromMessage(m chat.Message) Message {
	return Message{ID: m.ID, ChatID: m.ChatID, Timestamp: m.Timestamp, Sender: m.Sender, Body: m.Body}
}

func (m Message) ToChat() chat.Message {
	return chat.Message{ID: m.ID, ChatID: m.ChatID, Timestamp: m.Timestamp, Sender: m.Sender, Body: m.Body}
}

func FromSummary(s chat.Summary) Chat {
	return Chat{
		ChatID:             s.ChatID,
		Name:               s.Name,
		LastMessageAt:      s.LastMessageAt,
		LastMessagePreview: s.LastMessagePreview,
		UnreadCount:        s.UnreadCount,
	}
}

func (c Chat) ToChat() chat.Summary {
	return chat.Summary{
		ChatID:             c.ChatID,
		Name:               c.Name,
		LastMessageAt:      c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
		UnreadCount:        c.UnreadCount,
	}
}

func fromMessages(msgs []chat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}
