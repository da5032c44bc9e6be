package store

import (
	"strings"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SearchLimit caps the number of rows a search returns.
const SearchLimit = 100

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns messages of one chat whose body contains query
// (case-insensitive for ASCII), newest first.
func (db *DB) SearchMessages(chatID int64, query string) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, sender, body, timestamp
		FROM messages
		WHERE chat_id = ? AND body LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, likePattern(query), SearchLimit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// SearchAllMessages is SearchMessages across every chat.
func (db *DB) SearchAllMessages(query string) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, sender, body, timestamp
		FROM messages
		WHERE body LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, likePattern(query), SearchLimit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}
