package conn

import "slices"

// State is the connection state exposed to observers. It is owned
// exclusively by the Manager; everyone else reads it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected},
}

func canTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}
