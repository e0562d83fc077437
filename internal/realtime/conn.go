package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
)

// HandlerFunc receives the raw data of one broadcast event.
type HandlerFunc func(data json.RawMessage)

const dialTimeout = 15 * time.Second

// frame is the wire envelope. "subscribe" and "unsubscribe" are sent by
// the client; "subscription_succeeded" and broadcast events come back.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// conn is one live websocket connection for a (endpoint, key) pair,
// shared by every channel subscribed through it. Reconnection is the
// transport's problem, not ours: when the read loop ends the link
// merely reports closed and the session continues on REST state.
type conn struct {
	endpoint string
	key      string
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[string]map[int]map[string]HandlerFunc // channel -> sub id -> event -> handler
	nextID int
	closed bool
	cancel context.CancelFunc
}

func newConn(endpoint, key string, b *bus.Bus, logger *zap.Logger) *conn {
	return &conn{
		endpoint: endpoint,
		key:      key,
		bus:      b,
		logger:   logger,
		subs:     make(map[string]map[int]map[string]HandlerFunc),
	}
}

// dial opens the websocket and starts the read loop. Caller holds c.mu.
func (c *conn) dial() error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse realtime endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.key)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}
	c.ws = ws

	readCtx, readCancel := context.WithCancel(context.Background())
	c.cancel = readCancel
	go c.readLoop(readCtx)

	c.logger.Info("realtime connection established", zap.String("endpoint", c.endpoint))
	return nil
}

// subscribe registers handlers for a channel, dialing lazily on the
// first subscription. Returns an unsubscribe function that releases
// the channel but keeps the connection alive for reuse.
func (c *conn) subscribe(channel string, handlers map[string]HandlerFunc) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("realtime connection closed")
	}
	if c.ws == nil {
		if err := c.dial(); err != nil {
			return nil, err
		}
	}

	first := len(c.subs[channel]) == 0
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[int]map[string]HandlerFunc)
	}
	id := c.nextID
	c.nextID++
	c.subs[channel][id] = handlers

	if first {
		if err := c.send(frame{Event: "subscribe", Channel: channel}); err != nil {
			delete(c.subs[channel], id)
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[channel], id)
		if len(c.subs[channel]) == 0 {
			delete(c.subs, channel)
			if c.ws != nil && !c.closed {
				_ = c.send(frame{Event: "unsubscribe", Channel: channel})
			}
		}
	}, nil
}

// send writes a control frame. Caller holds c.mu.
func (c *conn) send(f frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.ws, f)
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		var f frame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.mu.Unlock()
			if !wasClosed {
				c.logger.Warn("realtime link closed", zap.Error(err))
				c.bus.Publish(bus.Event{Topic: bus.TopicLinkClosed, At: time.Now(), Payload: err.Error()})
			}
			return
		}

		switch f.Event {
		case "subscription_succeeded":
			c.logger.Info("channel subscribed", zap.String("channel", f.Channel))
			c.bus.Publish(bus.Event{Topic: bus.TopicLinkSubscribed, At: time.Now(), Payload: f.Channel})
		case "error":
			c.logger.Warn("realtime channel error", zap.String("channel", f.Channel), zap.ByteString("data", f.Data))
			c.bus.Publish(bus.Event{Topic: bus.TopicLinkError, At: time.Now(), Payload: f.Channel})
		default:
			c.dispatch(f)
		}
	}
}

// dispatch fans one broadcast frame out to every handler registered for
// its (channel, event) pair. A handler that panics must not take down
// delivery of subsequent events.
func (c *conn) dispatch(f frame) {
	c.mu.Lock()
	var targets []HandlerFunc
	for _, handlers := range c.subs[f.Channel] {
		if h, ok := handlers[f.Event]; ok {
			targets = append(targets, h)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("event handler panicked",
						zap.String("channel", f.Channel),
						zap.String("event", f.Event),
						zap.Any("panic", r))
				}
			}()
			h(f.Data)
		}()
	}
}

// close tears the connection down. Used at process shutdown only.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		_ = c.ws.Close(websocket.StatusNormalClosure, "shutdown")
	}
}
