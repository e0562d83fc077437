package realtime

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
)

// Router turns raw broadcast payloads into typed bus events. It keeps
// no state and performs no merging; malformed payloads are dropped with
// a log so one bad event never breaks delivery of the next.
type Router struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRouter creates a router publishing onto b.
func NewRouter(b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{bus: b, logger: logger}
}

// Handlers returns the per-event-name handler map to register on a
// conversation channel subscription.
func (r *Router) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		EventMessageCreated:      func(data json.RawMessage) { r.route(EventMessageCreated, data) },
		EventConversationCreated: func(data json.RawMessage) { r.route(EventConversationCreated, data) },
	}
}

func (r *Router) route(name string, data json.RawMessage) {
	evt, err := Decode(name, data)
	if err != nil {
		r.logger.Warn("dropping malformed event", zap.String("event", name), zap.Error(err))
		return
	}
	if evt == nil {
		return
	}

	switch e := evt.(type) {
	case *MessageCreated:
		r.bus.Publish(bus.Event{Topic: bus.TopicMessageCreated, At: time.Now(), Payload: e})
	case *ConversationCreated:
		r.bus.Publish(bus.Event{Topic: bus.TopicConversationCreated, At: time.Now(), Payload: e})
	}
}
