package store

import (
	"time"

	"github.com/einfra-labs/chatbox/internal/model"
)

// UpsertMessage inserts or updates one confirmed message (idempotent on
// conversation + message id). Pending messages never reach the cache.
func (db *DB) UpsertMessage(key model.ConvKey, m *model.Message) error {
	var fileName, fileURL string
	if m.File != nil {
		fileName = m.File.Name
		fileURL = m.File.URL
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conv_scope, conv_id, msg_id, sender_id, sender_name, body, file_name, file_url, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_scope, conv_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			file_name = excluded.file_name,
			file_url = excluded.file_url,
			timestamp = excluded.timestamp`,
		string(key.Scope), key.ID, m.ID, m.Sender.ID, m.Sender.Name, m.Content,
		fileName, fileURL, m.Timestamp.UnixMilli(), now)
	return err
}

// ListMessages returns a conversation's cached messages, oldest first.
func (db *DB) ListMessages(key model.ConvKey, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT msg_id, sender_id, sender_name, body, file_name, file_url, timestamp
		FROM messages
		WHERE conv_scope = ? AND conv_id = ?
		ORDER BY timestamp ASC
		LIMIT ?`, string(key.Scope), key.ID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var fileName, fileURL string
		var ts int64
		if err := rows.Scan(&m.ID, &m.Sender.ID, &m.Sender.Name, &m.Content, &fileName, &fileURL, &ts); err != nil {
			return nil, err
		}
		if fileURL != "" {
			m.File = &model.FileMeta{Name: fileName, URL: fileURL}
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		if key.Scope == model.ScopeGroup {
			m.Group = key.ID
		} else {
			m.Recipient = key.ID
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
