package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/model"
	"github.com/chatdesk/chatdesk/internal/realtime"
)

const defaultThreadPageSize = 50

// ThreadSnapshot is the bus payload for thread updates.
type ThreadSnapshot struct {
	ConversationUUID string
	Messages         []model.Message
	Prepended        int
}

// ThreadReconciler owns the message array of exactly one open
// conversation. Switching conversations clears and reloads; responses
// that resolve for a conversation no longer open are detected by
// comparing their target id against the currently open id at resolution
// time, and dropped.
//
// Messages are kept in chronological ascending order. A locally-sent
// message starts pending under a temporary id and is replaced, never
// duplicated, by whichever confirmation arrives first: the REST
// response or the realtime echo.
type ThreadReconciler struct {
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	current  string
	messages []*model.Message
	page     int
	pageSize int
	hasMore  bool
}

// NewThreadReconciler creates a reconciler with no open conversation.
func NewThreadReconciler(gw Gateway, b *bus.Bus, logger *zap.Logger) *ThreadReconciler {
	return &ThreadReconciler{
		gw:       gw,
		bus:      b,
		logger:   logger,
		pageSize: defaultThreadPageSize,
	}
}

// Open switches to a conversation: the previous thread is evicted
// immediately, then the newest page is fetched. A stale fetch for a
// previously-open conversation is dropped silently, never surfaced.
func (t *ThreadReconciler) Open(ctx context.Context, conversationUUID string) error {
	t.mu.Lock()
	t.current = conversationUUID
	t.messages = nil
	t.page = 0
	t.hasMore = false
	t.mu.Unlock()
	t.publish(0)

	msgs, pg, err := t.gw.GetMessages(ctx, conversationUUID, 1, t.pageSize)

	t.mu.Lock()
	if t.current != conversationUUID {
		t.mu.Unlock()
		t.logger.Debug("dropping stale message page", zap.String("conversation", conversationUUID))
		return nil
	}
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("load messages: %w", err)
	}
	t.messages = reverseChronological(msgs)
	t.page = 1
	t.hasMore = pg.HasMore
	t.mu.Unlock()

	t.publish(0)
	return nil
}

// LoadOlder prepends the next (older) page. It returns how many
// messages were added so the view can restore its scroll anchor.
func (t *ThreadReconciler) LoadOlder(ctx context.Context) (int, error) {
	t.mu.Lock()
	conversationUUID := t.current
	if conversationUUID == "" || !t.hasMore {
		t.mu.Unlock()
		return 0, nil
	}
	next := t.page + 1
	t.mu.Unlock()

	msgs, pg, err := t.gw.GetMessages(ctx, conversationUUID, next, t.pageSize)

	t.mu.Lock()
	if t.current != conversationUUID {
		t.mu.Unlock()
		t.logger.Debug("dropping stale message page", zap.String("conversation", conversationUUID))
		return 0, nil
	}
	if err != nil {
		t.mu.Unlock()
		return 0, fmt.Errorf("load older messages: %w", err)
	}

	existing := make(map[string]struct{}, len(t.messages))
	for _, m := range t.messages {
		existing[m.UUID] = struct{}{}
	}
	var older []*model.Message
	for _, m := range reverseChronological(msgs) {
		if _, ok := existing[m.UUID]; ok {
			// New arrivals shift server pages; skip rows already held.
			continue
		}
		older = append(older, m)
	}
	t.messages = append(older, t.messages...)
	t.page = next
	t.hasMore = pg.HasMore
	added := len(older)
	t.mu.Unlock()

	t.publish(added)
	return added, nil
}

// Send appends an optimistic pending message, then posts it. On
// confirmation the pending entry is replaced in place; on failure it is
// removed entirely and the error returned — content is not requeued.
func (t *ThreadReconciler) Send(ctx context.Context, content string) error {
	t.mu.Lock()
	conversationUUID := t.current
	if conversationUUID == "" {
		t.mu.Unlock()
		return fmt.Errorf("no open conversation")
	}
	temp := &model.Message{
		UUID:             "pending-" + uuid.NewString(),
		ConversationUUID: conversationUUID,
		Content:          content,
		Type:             model.MessageAgent,
		CreatedAt:        time.Now().UTC(),
		Pending:          true,
	}
	t.messages = append(t.messages, temp)
	t.mu.Unlock()
	t.publish(0)

	msg, err := t.gw.SendAgentMessage(ctx, conversationUUID, content)

	t.mu.Lock()
	if err != nil {
		t.removeLocked(temp.UUID)
		t.mu.Unlock()
		t.publish(0)
		t.bus.Publish(bus.Event{Topic: bus.TopicSendFailed, At: time.Now(), Payload: err.Error()})
		return fmt.Errorf("send message: %w", err)
	}
	if t.current == conversationUUID {
		confirmed := *msg
		confirmed.ConversationUUID = conversationUUID
		confirmed.Pending = false
		if !t.replaceLocked(temp.UUID, &confirmed) {
			// The realtime echo won the race and already replaced the
			// pending entry; fold the REST copy in by server id.
			t.upsertLocked(&confirmed)
		}
	}
	t.mu.Unlock()

	t.publish(0)
	return nil
}

// ApplyMessageCreated merges a realtime message into the open thread.
// The order of checks is load-bearing: a pending local message matching
// on (type, content) is replaced before falling back to id matching,
// which prevents a duplicate-then-disappear flash when the REST
// response and the realtime echo race.
func (t *ThreadReconciler) ApplyMessageCreated(evt *realtime.MessageCreated) {
	t.mu.Lock()
	if evt.ConversationUUID != t.current {
		t.mu.Unlock()
		return
	}

	incoming := evt.Message
	incoming.ConversationUUID = evt.ConversationUUID
	incoming.Pending = false

	replaced := false
	for i, m := range t.messages {
		if m.Pending && m.Type == incoming.Type && m.Content == incoming.Content {
			t.messages[i] = &incoming
			replaced = true
			break
		}
	}
	if !replaced {
		t.upsertLocked(&incoming)
	}
	t.mu.Unlock()

	t.publish(0)
}

// Conversation returns the currently open conversation id, or empty.
func (t *ThreadReconciler) Conversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// HasOlder reports whether older pages remain on the server.
func (t *ThreadReconciler) HasOlder() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Snapshot returns a copy of the open thread for rendering.
func (t *ThreadReconciler) Snapshot() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *ThreadReconciler) snapshotLocked() []model.Message {
	out := make([]model.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m
	}
	return out
}

// upsertLocked overwrites by server id, appending when unknown.
func (t *ThreadReconciler) upsertLocked(msg *model.Message) {
	for i, m := range t.messages {
		if m.UUID == msg.UUID {
			t.messages[i] = msg
			return
		}
	}
	t.messages = append(t.messages, msg)
}

// replaceLocked swaps the entry with the given id in place, keeping its
// position. Returns false if the id is gone.
func (t *ThreadReconciler) replaceLocked(uuid string, msg *model.Message) bool {
	for i, m := range t.messages {
		if m.UUID == uuid {
			t.messages[i] = msg
			return true
		}
	}
	return false
}

func (t *ThreadReconciler) removeLocked(uuid string) {
	for i, m := range t.messages {
		if m.UUID == uuid {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

func (t *ThreadReconciler) publish(prepended int) {
	t.mu.Lock()
	snap := ThreadSnapshot{
		ConversationUUID: t.current,
		Messages:         t.snapshotLocked(),
		Prepended:        prepended,
	}
	t.mu.Unlock()

	t.bus.Publish(bus.Event{Topic: bus.TopicThreadUpdated, At: time.Now(), Payload: snap})
}

// reverseChronological flips a newest-first server page into ascending
// order for display.
func reverseChronological(msgs []model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i := range msgs {
		m := msgs[len(msgs)-1-i]
		out[i] = &m
	}
	return out
}
