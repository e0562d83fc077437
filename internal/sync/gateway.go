package sync

import (
	"context"

	"github.com/chatdesk/chatdesk/internal/model"
)

// Gateway is the REST surface the reconcilers drive. Results feed back
// into reconciler state; realtime echoes of the same actions arrive
// independently and must merge to no-ops.
type Gateway interface {
	ListConversations(ctx context.Context, page, pageSize int, orderBy string) ([]model.Conversation, model.Pagination, error)
	GetMessages(ctx context.Context, conversationUUID string, page, pageSize int) ([]model.Message, model.Pagination, error)
	JoinConversation(ctx context.Context, conversationUUID string) (*model.Message, error)
	CloseConversation(ctx context.Context, conversationUUID string) (*model.Message, error)
	SendAgentMessage(ctx context.Context, conversationUUID, content string) (*model.Message, error)
}
