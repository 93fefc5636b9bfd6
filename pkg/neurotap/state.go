package neurotap

// State is the acquisition engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
