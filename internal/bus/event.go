package bus

import "time"

// Event kinds published by the synchronization engine. Subscribers filter
// by namespace prefix, so "state." matches every reactive update.
const (
	// KindStateUpdated fires whenever any reactive field changes; the
	// subscriber re-reads the coordinator's snapshot.
	KindStateUpdated = "state.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
