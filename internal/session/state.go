package session

// State is a session lifecycle state
type State int32

const (
	StateAwaitingConfig State = iota
	StateStreaming
	StateDraining
	StateClosed
)

// String returns the state name used in logs and metrics
func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is a legal lifecycle step
func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	return to == from+1
}
