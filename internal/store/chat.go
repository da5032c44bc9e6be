package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// ChatName is the display name given to seeded and auto-created chats.
func ChatName(chatID int64) string {
	return fmt.Sprintf("Chat %d", chatID)
}

// SeedChats makes sure chats 1..n exist. Existing rows are left untouched.
func (db *DB) SeedChats(n int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO chats (chat_id, name, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for id := int64(1); id <= int64(n); id++ {
		if _, err := stmt.Exec(id, ChatName(id), now); err != nil {
			return fmt.Errorf("seed chat %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpdateChatLastMessage records a new message in the chat's summary.
// last_message_at only moves forward; the unread counter always grows.
func (db *DB) UpdateChatLastMessage(chatID, ts int64, preview string) error {
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
				THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			unread_count = chats.unread_count + 1,
			updated_at = excluded.updated_at`,
		chatID, ChatName(chatID), ts, preview, time.Now().UnixMilli())
	return err
}

// GetChats returns chats sorted by last message timestamp descending.
func (db *DB) GetChats(offset, limit int) ([]chat.Summary, error) {
	offset, limit = clampPage(offset, limit)
	rows, err := db.Query(`
		SELECT chat_id, name, unread_count, last_message_at, last_message_preview
		FROM chats
		ORDER BY last_message_at DESC, chat_id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chats := []chat.Summary{}
	for rows.Next() {
		var c chat.Summary
		if err := rows.Scan(&c.ChatID, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat, or nil if it does not exist.
func (db *DB) GetChat(chatID int64) (*chat.Summary, error) {
	var c chat.Summary
	err := db.QueryRow(`
		SELECT chat_id, name, unread_count, last_message_at, last_message_preview
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkChatAsRead clears the chat's unread counter.
func (db *DB) MarkChatAsRead(chatID int64) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE chat_id = ?`,
		time.Now().UnixMilli(), chatID)
	return err
}
