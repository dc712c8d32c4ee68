package orchestration

// State is the lifecycle position of a single turn.
type State int

const (
	StateIdle State = iota
	StateAwaitingChannel
	StateProcessing
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingChannel:
		return "awaiting_channel"
	case StateProcessing:
		return "processing"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}
