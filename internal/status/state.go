// Package status holds the sync engine's coarse runtime state.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/feedsync/internal/bus"
)

// State is one of the engine states reported by the control API.
type State string

const (
	Booting State = "BOOTING"
	Offline State = "OFFLINE"
	Online  State = "ONLINE"
	Syncing State = "SYNCING"
	Error   State = "ERROR"
)

// EventStatusChanged is published on every accepted transition.
const EventStatusChanged = "sync.status_changed"

var validTransitions = map[State][]State{
	Booting: {Offline, Online, Error},
	Offline: {Online, Error},
	Online:  {Syncing, Offline, Error},
	Syncing: {Online, Offline, Error},
	Error:   {Booting, Offline, Online},
}

// InvalidTransitionError is returned for a move the table does not allow.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Snapshot is the state and when it was entered.
type Snapshot struct {
	State State
	Since time.Time
}

// Machine serialises state changes and announces them on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	now     func() time.Time
	bus     *bus.Bus
}

// NewMachine starts in Booting.
func NewMachine(b *bus.Bus) *Machine {
	m := &Machine{current: Booting, now: time.Now, bus: b}
	m.since = m.now()
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state together with its entry time.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.current, Since: m.since}
}

// Transition moves to the given state. Moving to the current state is a
// no-op and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	change := StatusChange{From: m.current, To: to}
	m.current = to
	m.since = m.now()
	at := m.since
	m.mu.Unlock()

	// Published outside the lock so subscribers may call Current.
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: EventStatusChanged, Timestamp: at, Payload: change})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
