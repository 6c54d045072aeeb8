package conn

import (
	"encoding/json"

	"github.com/telechat/telechat/internal/store"
)

// EventKind discriminates the events a Manager delivers to its consumer.
type EventKind int

const (
	// KindStateChanged reports a connection state transition.
	KindStateChanged EventKind = iota
	// KindMessage carries a normalized live message.
	KindMessage
	// KindMembership carries a chat membership change (informational).
	KindMembership
	// KindServerFault carries a server-reported error event.
	KindServerFault
	// KindConnectivity carries a transport-level failure signal. Retryable
	// is false once the reconnect attempt budget is exhausted.
	KindConnectivity
)

// Event is the single typed envelope delivered on the Manager's channel,
// in arrival order, with no batching across frames.
type Event struct {
	Kind       EventKind
	State      State
	Message    *store.Message
	Sender     *store.User
	Membership *Membership
	Fault      *Fault
}

// Membership describes a join_chat event. The raw payload is forwarded
// untouched for future roster handling.
type Membership struct {
	ChatID string
	UserID string
	Raw    json.RawMessage
}

// Fault describes a server-reported or transport-level failure.
type Fault struct {
	Message   string
	Code      string
	Retryable bool
}
