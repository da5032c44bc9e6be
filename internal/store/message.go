package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateID is returned when a message id is already taken.
var ErrDuplicateID = errors.New("message id already exists")

// InsertMessage stores a new message. The id is the primary key, so reusing
// one fails with ErrDuplicateID.
func (db *DB) InsertMessage(m chat.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender, body, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Sender, m.Body, m.Timestamp, time.Now().UnixMilli())
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("insert message %d: %w", m.ID, ErrDuplicateID)
	}
	return err
}

// GetMessages returns one page of a chat's history. Offset counts back from
// the newest message, so offset 0 is the latest page and growing offsets load
// older pages. Each page is ordered by timestamp ascending, and consecutive
// pages neither overlap nor leave gaps.
func (db *DB) GetMessages(chatID int64, offset, limit int) ([]chat.Message, error) {
	offset, limit = clampPage(offset, limit)
	rows, err := db.Query(`
		SELECT id, chat_id, sender, body, timestamp FROM (
			SELECT id, chat_id, sender, body, timestamp
			FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ? OFFSET ?
		) ORDER BY timestamp ASC, id ASC`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MaxMessageID returns the highest stored message id, or 0 for an empty log.
func (db *DB) MaxMessageID() (int64, error) {
	var id int64
	err := db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM messages`).Scan(&id)
	return id, err
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	defer func() { _ = rows.Close() }()

	msgs := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
