package bus

import "time"

// Event kinds published in-process. Subscribers filter by prefix, so
// "conn." receives every connection event.
const (
	KindStatusChanged = "conn.status_changed"
	KindHeartbeat     = "conn.heartbeat"
	KindCacheUpdated  = "cache.updated"
	KindChatsRepaired = "cache.repaired"
	KindFaultInjected = "hub.fault_injected"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
