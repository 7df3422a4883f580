package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared between the write path, the connectivity monitor and
// the sync coordinator.
const (
	KindOutboxEnqueued = "outbox.enqueued"
	KindActionFailed   = "action.failed"
	KindActionDone     = "action.completed"
	KindSyncDrained    = "sync.drained"
	KindNetOnline      = "net.online"
	KindNetOffline     = "net.offline"
	KindCacheChanged   = "cache.changed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
