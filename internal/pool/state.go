package pool

// WorkerState is the lifecycle state of a stage worker:
//
//	uninitialized → initializing → ready → (busy ⇄ ready)* → stopped
//
// A worker never re-enters initializing.
type WorkerState int32

const (
	StateUninitialized WorkerState = iota
	StateInitializing
	StateReady
	StateBusy
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
