package cache

import (
	"database/sql"
	"time"

	"github.com/chatdesk/chatdesk/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_uuid + uuid). Callers must not pass pending messages.
func (db *DB) UpsertMessage(m *model.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation_uuid, uuid, content, type, author_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_uuid, uuid) DO UPDATE SET
			content = excluded.content,
			type = excluded.type,
			author_id = excluded.author_id`,
		m.ConversationUUID, m.UUID, m.Content, string(m.Type), authorID(m), m.CreatedAt.UnixMilli())
	return err
}

// ListMessages returns cached messages for a conversation using keyset
// pagination by timestamp, newest first like the server.
func (db *DB) ListMessages(conversationUUID string, beforeMillis int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMillis <= 0 {
		beforeMillis = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT conversation_uuid, uuid, content, type, author_id, created_at
		FROM messages
		WHERE conversation_uuid = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationUUID, beforeMillis, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m       model.Message
			typ     string
			author  sql.NullInt64
			created int64
		)
		if err := rows.Scan(&m.ConversationUUID, &m.UUID, &m.Content, &typ, &author, &created); err != nil {
			return nil, err
		}
		m.Type = model.MessageType(typ)
		if author.Valid {
			m.AuthorID = &author.Int64
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func authorID(m *model.Message) any {
	if m.AuthorID == nil {
		return nil
	}
	return *m.AuthorID
}
