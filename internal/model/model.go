package model

import "time"

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Rank orders statuses along the conversation lifecycle. A conversation
// never moves backwards: merges reject any update whose status ranks
// below the one already recorded.
func (s Status) Rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInProgress:
		return 1
	case StatusClosed:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// MessageType identifies the author role of a message.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageAgent     MessageType = "agent"
	MessageSystem    MessageType = "system"
)

// Conversation is a support conversation between a visitor, the AI
// assistant and optionally a human agent. The server is authoritative;
// local copies are reconciled views.
type Conversation struct {
	UUID          string     `json:"uuid"`
	Status        Status     `json:"status"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
	JoinedAt      *time.Time `json:"joined_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Archived reports whether the conversation has been archived. Archival
// is orthogonal to status, not a terminal state.
func (c *Conversation) Archived() bool {
	return c.ArchivedAt != nil
}

// Message is a single message in a conversation. Pending is local-only:
// true while a locally-sent message awaits server confirmation. Exactly
// one non-pending message exists per server UUID.
type Message struct {
	UUID             string      `json:"uuid"`
	ConversationUUID string      `json:"conversation_uuid,omitempty"`
	Content          string      `json:"content"`
	Type             MessageType `json:"type"`
	AuthorID         *int64      `json:"author_id"`
	CreatedAt        time.Time   `json:"created_at"`
	Pending          bool        `json:"-"`
}

// Pagination is the server's page envelope for list endpoints.
type Pagination struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	Total    int  `json:"total"`
	HasMore  bool `json:"has_more"`
}
