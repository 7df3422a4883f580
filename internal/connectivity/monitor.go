package connectivity

import (
	"sync"

	"github.com/matheus3301/feedsync/internal/bus"
)

// Monitor reports whether the remote is reachable.
type Monitor interface {
	Online() bool
	// Subscribe returns a channel that first receives the current state and
	// then every transition. Call the returned func to unsubscribe.
	Subscribe(buf int) (<-chan bool, func())
}

// Controllable is a monitor whose state can be forced, e.g. by an operator
// simulating a network outage.
type Controllable interface {
	Monitor
	SetOnline(online bool)
}

// state is the shared transition bookkeeping behind Switch and Prober.
type state struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
	bus    *bus.Bus
}

func newState(initial bool, b *bus.Bus) *state {
	return &state{online: initial, subs: make(map[int]chan bool), bus: b}
}

func (s *state) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *state) Subscribe(buf int) (<-chan bool, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan bool, buf)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- s.online
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// set records a new state and fans it out. Only transitions are emitted.
func (s *state) set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return false
	}
	s.online = online
	for _, ch := range s.subs {
		select {
		case ch <- online:
		default:
			// Slow subscriber: replace the stale value so the latest wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
	if s.bus != nil {
		kind := bus.KindNetOffline
		if online {
			kind = bus.KindNetOnline
		}
		s.bus.Publish(bus.NewEvent(kind, online))
	}
	return true
}

// Switch is a manually driven monitor.
type Switch struct {
	*state
}

var _ Controllable = (*Switch)(nil)

// NewSwitch creates a switch in the given initial state.
func NewSwitch(online bool, b *bus.Bus) *Switch {
	return &Switch{state: newState(online, b)}
}

// Set changes the state and reports whether it was a transition.
func (s *Switch) Set(online bool) bool {
	return s.set(online)
}

// SetOnline changes the state.
func (s *Switch) SetOnline(online bool) {
	s.set(online)
}
