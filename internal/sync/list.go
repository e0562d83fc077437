package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/model"
	"github.com/chatdesk/chatdesk/internal/realtime"
)

const defaultListPageSize = 20

// ConversationEntry is one row of the agent's conversation list. New is
// an ephemeral flag set when a conversation first appears during this
// session; opening the conversation clears it.
type ConversationEntry struct {
	model.Conversation
	New bool
}

// ListReconciler owns the ordered conversation list for the active
// agent scope. Three input streams converge here: paginated REST
// fetches, realtime events, and local join/close results. All merges
// are idempotent and never regress a conversation's status, so REST
// responses and realtime echoes may arrive in either order.
type ListReconciler struct {
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	entries  []*ConversationEntry
	index    map[string]*ConversationEntry
	seen     map[string]struct{}
	page     int
	pageSize int
	hasMore  bool
}

// NewListReconciler creates an empty list reconciler.
func NewListReconciler(gw Gateway, b *bus.Bus, logger *zap.Logger) *ListReconciler {
	return &ListReconciler{
		gw:       gw,
		bus:      b,
		logger:   logger,
		index:    make(map[string]*ConversationEntry),
		seen:     make(map[string]struct{}),
		pageSize: defaultListPageSize,
	}
}

// LoadPage fetches one page of conversations. Page 1 replaces the list;
// later pages append without touching rows already loaded, so a page-2
// load leaves the first page's entries structurally unchanged. On error
// the loaded rows are kept as-is.
func (r *ListReconciler) LoadPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	convs, pg, err := r.gw.ListConversations(ctx, page, r.pageSize, "last_message_at desc")
	if err != nil {
		return fmt.Errorf("load conversations page %d: %w", page, err)
	}

	r.mu.Lock()
	loaded := r.page > 0
	if page == 1 {
		r.entries = nil
		r.index = make(map[string]*ConversationEntry)
	}
	for i := range convs {
		c := convs[i]
		if _, ok := r.index[c.UUID]; ok {
			// Realtime prepends can shift server pages; an id we
			// already hold keeps its existing row.
			continue
		}
		e := &ConversationEntry{Conversation: c}
		if _, known := r.seen[c.UUID]; !known && loaded {
			// First sighting after the initial load, e.g. a refresh
			// while the realtime link was down.
			e.New = true
		}
		r.entries = append(r.entries, e)
		r.index[c.UUID] = e
		r.seen[c.UUID] = struct{}{}
	}
	r.page = page
	r.hasMore = pg.HasMore
	r.mu.Unlock()

	r.publish()
	return nil
}

// LoadMore appends the next page if the server reported one.
func (r *ListReconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	if !r.hasMore {
		r.mu.Unlock()
		return nil
	}
	next := r.page + 1
	r.mu.Unlock()
	return r.LoadPage(ctx, next)
}

// ApplyMessageCreated merges a realtime message event into the list. A
// conversation not currently loaded belongs to a page we have not
// fetched; it is ignored rather than synthesized.
func (r *ListReconciler) ApplyMessageCreated(evt *realtime.MessageCreated) {
	r.mu.Lock()
	e, ok := r.index[evt.ConversationUUID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("message for unloaded conversation ignored",
			zap.String("conversation", evt.ConversationUUID))
		return
	}
	changed := mergeUpdate(e, evt.ConversationUpdate)
	r.mu.Unlock()

	if changed {
		r.publish()
	}
}

// ApplyConversationCreated prepends a conversation opened by a visitor.
// Duplicate deliveries of the same id are no-ops.
func (r *ListReconciler) ApplyConversationCreated(evt *realtime.ConversationCreated) {
	r.mu.Lock()
	if _, ok := r.index[evt.Conversation.UUID]; ok {
		r.mu.Unlock()
		return
	}
	e := &ConversationEntry{Conversation: evt.Conversation, New: true}
	r.entries = append([]*ConversationEntry{e}, r.entries...)
	r.index[e.UUID] = e
	r.seen[e.UUID] = struct{}{}
	r.mu.Unlock()

	r.publish()
}

// MarkOpened clears the ephemeral new flag once the agent opens the
// conversation.
func (r *ListReconciler) MarkOpened(conversationUUID string) {
	r.mu.Lock()
	e, ok := r.index[conversationUUID]
	changed := ok && e.New
	if changed {
		e.New = false
	}
	r.mu.Unlock()

	if changed {
		r.publish()
	}
}

// Join takes the conversation over. The local status is set only after
// the server confirms; the realtime echo that follows merges to a
// no-op. On error nothing is mutated.
func (r *ListReconciler) Join(ctx context.Context, conversationUUID string) error {
	msg, err := r.gw.JoinConversation(ctx, conversationUUID)
	if err != nil {
		return fmt.Errorf("join conversation: %w", err)
	}
	status := model.StatusInProgress
	r.applyAction(conversationUUID, realtime.ConversationUpdate{
		Status:   &status,
		JoinedAt: &msg.CreatedAt,
	})
	return nil
}

// Close closes the conversation. The confirming system message's
// created_at becomes closed_at.
func (r *ListReconciler) Close(ctx context.Context, conversationUUID string) error {
	msg, err := r.gw.CloseConversation(ctx, conversationUUID)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	status := model.StatusClosed
	r.applyAction(conversationUUID, realtime.ConversationUpdate{
		Status:   &status,
		ClosedAt: &msg.CreatedAt,
	})
	return nil
}

func (r *ListReconciler) applyAction(conversationUUID string, upd realtime.ConversationUpdate) {
	r.mu.Lock()
	e, ok := r.index[conversationUUID]
	changed := ok && mergeUpdate(e, upd)
	r.mu.Unlock()

	if changed {
		r.publish()
	}
}

// Snapshot returns a copy of the current list for rendering.
func (r *ListReconciler) Snapshot() []ConversationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConversationEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// HasMore reports whether the server holds further pages.
func (r *ListReconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

func (r *ListReconciler) publish() {
	r.bus.Publish(bus.Event{
		Topic:   bus.TopicListUpdated,
		At:      time.Now(),
		Payload: r.Snapshot(),
	})
}

// mergeUpdate folds a partial conversation update into an entry under
// last-writer-wins by timestamp, never arrival order. An update whose
// last_message_at is older than the entry's is stale and rejected
// whole. Within an accepted update, status only moves forward along
// the lifecycle and message_count never shrinks, which makes the merge
// commutative and idempotent against duplicate or echoed deliveries.
func mergeUpdate(e *ConversationEntry, upd realtime.ConversationUpdate) bool {
	if upd.LastMessageAt != nil && e.LastMessageAt != nil && upd.LastMessageAt.Before(*e.LastMessageAt) {
		return false
	}

	changed := false
	if upd.MessageCount != nil && *upd.MessageCount > e.MessageCount {
		e.MessageCount = *upd.MessageCount
		changed = true
	}
	if upd.LastMessageAt != nil && (e.LastMessageAt == nil || upd.LastMessageAt.After(*e.LastMessageAt)) {
		t := *upd.LastMessageAt
		e.LastMessageAt = &t
		changed = true
	}
	if upd.Status != nil && upd.Status.Rank() > e.Status.Rank() {
		e.Status = *upd.Status
		changed = true
	}
	if upd.JoinedAt != nil && e.JoinedAt == nil {
		t := *upd.JoinedAt
		e.JoinedAt = &t
		changed = true
	}
	if upd.ClosedAt != nil && e.ClosedAt == nil {
		t := *upd.ClosedAt
		e.ClosedAt = &t
		changed = true
	}
	if upd.ArchivedAt != nil && e.ArchivedAt == nil {
		t := *upd.ArchivedAt
		e.ArchivedAt = &t
		changed = true
	}
	if changed {
		e.UpdatedAt = time.Now().UTC()
	}
	return changed
}
