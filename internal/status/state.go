package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the client connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal and
// only reachable through explicit teardown.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Reconnecting, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {},
}

// ConnectionState is the full client connection record.
type ConnectionState struct {
	State         State
	Attempts      int
	LastHeartbeat int64 // unix ms as reported by the server, 0 if none yet
}

// StatusChange is the payload for conn.status_changed events.
type StatusChange struct {
	From State
	To   State
	Now  ConnectionState
}

// Machine tracks and enforces connection state transitions.
// Only the connection manager mutates it; everyone else reads.
type Machine struct {
	mu      sync.RWMutex
	current ConnectionState
	bus     *bus.Bus
}

// NewMachine creates a machine in the Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: ConnectionState{State: Disconnected},
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State
}

// Snapshot returns a copy of the full connection record.
func (m *Machine) Snapshot() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Entering Connected resets the attempt
// counter. Returns an error if the edge is not in the transition table.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current.State
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current.State = to
	if to == Connected {
		m.current.Attempts = 0
	}
	snap := m.current
	m.mu.Unlock()

	m.bus.PublishNow(bus.KindStatusChanged, StatusChange{From: from, To: to, Now: snap})
	return nil
}

// NextAttempt returns the attempt count to base the next backoff on and
// increments the stored counter.
func (m *Machine) NextAttempt() int {
	m.mu.Lock()
	n := m.current.Attempts
	m.current.Attempts++
	snap := m.current
	m.mu.Unlock()

	m.bus.PublishNow(bus.KindStatusChanged, StatusChange{From: snap.State, To: snap.State, Now: snap})
	return n
}

// SetHeartbeat records the server timestamp of the latest heartbeat or pong.
func (m *Machine) SetHeartbeat(ts int64) {
	m.mu.Lock()
	m.current.LastHeartbeat = ts
	m.mu.Unlock()
	m.bus.PublishNow(bus.KindHeartbeat, ts)
}
