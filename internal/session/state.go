package session

// State is the lifecycle position of a Manager.
type State int

const (
	// StateUninitialized means no overlay has been built yet.
	StateUninitialized State = iota
	// StateCreated means the overlay exists but has not bootstrapped.
	StateCreated
	// StateBootstrapping means a bootstrap is in progress.
	StateBootstrapping
	// StateReady means the overlay can carry traffic.
	StateReady
	// StateClosed means the Manager has been closed.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
