package cache

import (
	"database/sql"
	"time"

	"github.com/chatdesk/chatdesk/internal/model"
)

// UpsertConversation inserts or updates a conversation (idempotent on
// uuid). The merge mirrors the in-memory non-regression rule so that
// replaying duplicate or out-of-order events leaves the row correct:
// last_message_at and message_count only move forward, and status only
// changes when the incoming row is at least as fresh.
func (db *DB) UpsertConversation(c *model.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (uuid, status, message_count, last_message_at, joined_at, closed_at, archived_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			message_count = MAX(conversations.message_count, excluded.message_count),
			last_message_at = MAX(COALESCE(conversations.last_message_at, 0), COALESCE(excluded.last_message_at, 0)),
			status = CASE
				WHEN COALESCE(excluded.last_message_at, 0) >= COALESCE(conversations.last_message_at, 0) THEN excluded.status
				ELSE conversations.status
			END,
			joined_at = COALESCE(conversations.joined_at, excluded.joined_at),
			closed_at = COALESCE(conversations.closed_at, excluded.closed_at),
			archived_at = COALESCE(conversations.archived_at, excluded.archived_at),
			updated_at = excluded.updated_at`,
		c.UUID, string(c.Status), c.MessageCount, toMillis(c.LastMessageAt),
		toMillis(c.JoinedAt), toMillis(c.ClosedAt), toMillis(c.ArchivedAt),
		c.CreatedAt.UnixMilli(), now)
	return err
}

// ListConversations returns cached conversations, most recent activity
// first.
func (db *DB) ListConversations(limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT uuid, status, message_count, last_message_at, joined_at, closed_at, archived_at, created_at, updated_at
		FROM conversations
		ORDER BY COALESCE(last_message_at, created_at) DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a cached conversation, or nil when absent.
func (db *DB) GetConversation(uuid string) (*model.Conversation, error) {
	row := db.QueryRow(`
		SELECT uuid, status, message_count, last_message_at, joined_at, closed_at, archived_at, created_at, updated_at
		FROM conversations WHERE uuid = ?`, uuid)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (model.Conversation, error) {
	var (
		c       model.Conversation
		status  string
		lastAt  sql.NullInt64
		joined  sql.NullInt64
		closed  sql.NullInt64
		arch    sql.NullInt64
		created int64
		updated int64
	)
	if err := s.Scan(&c.UUID, &status, &c.MessageCount, &lastAt, &joined, &closed, &arch, &created, &updated); err != nil {
		return model.Conversation{}, err
	}
	c.Status = model.Status(status)
	c.LastMessageAt = fromMillis(lastAt)
	c.JoinedAt = fromMillis(joined)
	c.ClosedAt = fromMillis(closed)
	c.ArchivedAt = fromMillis(arch)
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 == 0 {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
