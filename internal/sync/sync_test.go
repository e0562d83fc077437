package sync

import (
	"context"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/internal/model"
)

// fakeGateway implements Gateway with per-test function hooks. Nil
// hooks return empty results.
type fakeGateway struct {
	listFn  func(page, pageSize int) ([]model.Conversation, model.Pagination, error)
	getFn   func(conversationUUID string, page, pageSize int) ([]model.Message, model.Pagination, error)
	joinFn  func(conversationUUID string) (*model.Message, error)
	closeFn func(conversationUUID string) (*model.Message, error)
	sendFn  func(conversationUUID, content string) (*model.Message, error)
}

func (f *fakeGateway) ListConversations(_ context.Context, page, pageSize int, _ string) ([]model.Conversation, model.Pagination, error) {
	if f.listFn == nil {
		return nil, model.Pagination{}, nil
	}
	return f.listFn(page, pageSize)
}

func (f *fakeGateway) GetMessages(_ context.Context, conversationUUID string, page, pageSize int) ([]model.Message, model.Pagination, error) {
	if f.getFn == nil {
		return nil, model.Pagination{}, nil
	}
	return f.getFn(conversationUUID, page, pageSize)
}

func (f *fakeGateway) JoinConversation(_ context.Context, conversationUUID string) (*model.Message, error) {
	return f.joinFn(conversationUUID)
}

func (f *fakeGateway) CloseConversation(_ context.Context, conversationUUID string) (*model.Message, error) {
	return f.closeFn(conversationUUID)
}

func (f *fakeGateway) SendAgentMessage(_ context.Context, conversationUUID, content string) (*model.Message, error) {
	return f.sendFn(conversationUUID, content)
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func tsp(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed := ts(t, s)
	return &parsed
}

func conv(uuid string, status model.Status, count int, lastMessageAt *time.Time) model.Conversation {
	return model.Conversation{
		UUID:          uuid,
		Status:        status,
		MessageCount:  count,
		LastMessageAt: lastMessageAt,
	}
}
