package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatdesk/chatdesk/internal/model"
)

// Broadcast event names on conversation channels.
const (
	EventMessageCreated      = "message-created"
	EventConversationCreated = "conversation-created"
)

// Event is a decoded broadcast payload.
type Event interface {
	Name() string
}

// MessageCreated is delivered whenever any actor posts to a
// conversation in the subscribed scope. ConversationUpdate carries the
// server's partial view of the conversation after the message.
type MessageCreated struct {
	ConversationUUID   string             `json:"conversation_uuid"`
	Message            model.Message      `json:"message"`
	ConversationUpdate ConversationUpdate `json:"conversation_update"`
}

// Name implements Event.
func (*MessageCreated) Name() string { return EventMessageCreated }

// ConversationUpdate is a partial conversation: nil fields were absent
// from the payload and must not overwrite local state.
type ConversationUpdate struct {
	MessageCount  *int          `json:"message_count"`
	LastMessageAt *time.Time    `json:"last_message_at"`
	JoinedAt      *time.Time    `json:"joined_at"`
	Status        *model.Status `json:"status"`
	ClosedAt      *time.Time    `json:"closed_at"`
	ArchivedAt    *time.Time    `json:"archived_at"`
}

// ConversationCreated is delivered when a visitor opens a new
// conversation.
type ConversationCreated struct {
	Conversation model.Conversation `json:"conversation"`
}

// Name implements Event.
func (*ConversationCreated) Name() string { return EventConversationCreated }

// Decode parses a broadcast payload into a typed event. Unknown event
// names return (nil, nil) so the wire format can grow without breaking
// old consumers. A payload that fails to parse or fails basic identity
// checks returns an error; the caller drops it.
func Decode(name string, data []byte) (Event, error) {
	switch name {
	case EventMessageCreated:
		var evt MessageCreated
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if evt.ConversationUUID == "" {
			return nil, fmt.Errorf("decode %s: missing conversation_uuid", name)
		}
		if evt.Message.UUID == "" {
			return nil, fmt.Errorf("decode %s: missing message uuid", name)
		}
		if evt.ConversationUpdate.Status != nil && !evt.ConversationUpdate.Status.Valid() {
			return nil, fmt.Errorf("decode %s: unknown status %q", name, *evt.ConversationUpdate.Status)
		}
		return &evt, nil

	case EventConversationCreated:
		var evt ConversationCreated
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if evt.Conversation.UUID == "" {
			return nil, fmt.Errorf("decode %s: missing conversation uuid", name)
		}
		return &evt, nil
	}
	return nil, nil
}
