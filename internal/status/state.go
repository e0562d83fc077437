package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chatdesk/chatdesk/internal/bus"
)

// State describes the realtime link. Degraded means the channel is gone
// and the console is running on REST state alone; that mode is fully
// functional, just without live updates.
type State string

const (
	Booting    State = "BOOTING"
	Connecting State = "CONNECTING"
	Live       State = "LIVE"
	Degraded   State = "DEGRADED"
	Closed     State = "CLOSED"
)

var validTransitions = map[State][]State{
	Booting:    {Connecting, Degraded, Closed},
	Connecting: {Live, Degraded, Closed},
	Live:       {Degraded, Closed},
	Degraded:   {Connecting, Closed},
	Closed:     {},
}

// Machine tracks and enforces realtime link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Returns an error if the transition
// is not allowed; a transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid link transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Topic:   bus.TopicLinkStatusChanged,
			At:      time.Now(),
			Payload: Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for link status change events.
type Change struct {
	From State
	To   State
}
