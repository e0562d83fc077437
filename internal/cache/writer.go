package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/sync"
)

// Writer mirrors reconciler state into the cache. It subscribes to the
// reconcilers' published snapshots, so everything the agent sees —
// whether it arrived by REST or by realtime — lands here through one
// path. Pending messages are filtered out.
type Writer struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewWriter creates a cache writer.
func NewWriter(db *DB, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{db: db, bus: b, logger: logger}
}

// Start subscribes to list and thread snapshots on the bus.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe(256, bus.TopicListUpdated, bus.TopicThreadUpdated)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the writer.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Writer) handle(evt bus.Event) {
	switch evt.Topic {
	case bus.TopicListUpdated:
		entries, ok := evt.Payload.([]sync.ConversationEntry)
		if !ok {
			return
		}
		for i := range entries {
			if err := w.db.UpsertConversation(&entries[i].Conversation); err != nil {
				w.logger.Error("cache conversation upsert failed",
					zap.String("conversation", entries[i].UUID), zap.Error(err))
			}
		}

	case bus.TopicThreadUpdated:
		snap, ok := evt.Payload.(sync.ThreadSnapshot)
		if !ok {
			return
		}
		for i := range snap.Messages {
			m := &snap.Messages[i]
			if m.Pending {
				continue
			}
			if m.ConversationUUID == "" {
				m.ConversationUUID = snap.ConversationUUID
			}
			if err := w.db.UpsertMessage(m); err != nil {
				w.logger.Error("cache message upsert failed",
					zap.String("message", m.UUID), zap.Error(err))
			}
		}
	}
}
