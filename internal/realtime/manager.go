package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
)

// Credentials locate and authorize a realtime connection. The widget
// may supply them per call; the console takes them from configuration.
type Credentials struct {
	Endpoint string
	Key      string
}

func (c Credentials) valid() bool {
	return c.Endpoint != "" && c.Key != ""
}

// Manager owns at most one live connection per distinct credentials
// pair. Changing credentials yields a fresh connection; subscribing
// twice with the same pair reuses the existing one.
type Manager struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	conns map[Credentials]*conn
}

// NewManager creates a connection manager.
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		bus:    b,
		logger: logger,
		conns:  make(map[Credentials]*conn),
	}
}

// Subscribe attaches handlers to a channel, connecting lazily on first
// use. Missing credentials degrade to no-live-updates: a warning is
// logged and the returned unsubscribe function is inert, so
// unauthenticated contexts never fail here. The unsubscribe function
// releases the channel but intentionally leaves the shared connection
// alive for other scopes.
func (m *Manager) Subscribe(creds Credentials, channel string, handlers map[string]HandlerFunc) func() {
	if !creds.valid() {
		m.logger.Warn("realtime credentials missing, live updates disabled",
			zap.String("channel", channel))
		return func() {}
	}

	m.mu.Lock()
	c, ok := m.conns[creds]
	if !ok {
		c = newConn(creds.Endpoint, creds.Key, m.bus, m.logger)
		m.conns[creds] = c
	}
	m.mu.Unlock()

	unsub, err := c.subscribe(channel, handlers)
	if err != nil {
		m.logger.Warn("channel subscription failed, continuing without live updates",
			zap.String("channel", channel), zap.Error(err))
		m.bus.Publish(bus.Event{Topic: bus.TopicLinkError, At: time.Now(), Payload: channel})
		return func() {}
	}
	return unsub
}

// Close tears down every connection. Called once at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for creds, c := range m.conns {
		c.close()
		delete(m.conns, creds)
	}
}
