package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/realtime"
	"github.com/chatdesk/chatdesk/internal/status"
)

// Engine fans decoded realtime events out to both reconcilers and
// drives the link state machine. One event updates the list and the
// open thread consistently: the same dispatcher goroutine applies it to
// each in turn, so realtime mutation is serialized.
type Engine struct {
	list    *ListReconciler
	thread  *ThreadReconciler
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEngine creates a dispatcher over the given reconcilers.
func NewEngine(list *ListReconciler, thread *ThreadReconciler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		list:    list,
		thread:  thread,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to realtime topics on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(256, "rt.")

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handle(evt bus.Event) {
	switch evt.Topic {
	case bus.TopicMessageCreated:
		mc, ok := evt.Payload.(*realtime.MessageCreated)
		if !ok {
			return
		}
		e.list.ApplyMessageCreated(mc)
		e.thread.ApplyMessageCreated(mc)

	case bus.TopicConversationCreated:
		cc, ok := evt.Payload.(*realtime.ConversationCreated)
		if !ok {
			return
		}
		e.list.ApplyConversationCreated(cc)

	case bus.TopicLinkSubscribed:
		if err := e.machine.Transition(status.Live); err != nil {
			e.logger.Debug("link transition rejected", zap.Error(err))
		}

	case bus.TopicLinkClosed, bus.TopicLinkError:
		// No resubscription attempt: the session continues on REST
		// state alone until the next restart.
		if err := e.machine.Transition(status.Degraded); err != nil {
			e.logger.Debug("link transition rejected", zap.Error(err))
		}
	}
}
