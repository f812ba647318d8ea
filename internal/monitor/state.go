// internal/monitor/state.go
package monitor

// State is the lifecycle stage of a monitored position.
type State int

const (
	StateEntered State = iota
	StateMonitoring
	StateClosing
	StateClosed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateEntered:
		return "entered"
	case StateMonitoring:
		return "monitoring"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ExitReason records why a close was triggered.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitTrailingStop
	ExitSafety
	ExitTimeout
)

func (r ExitReason) String() string {
	switch r {
	case ExitTrailingStop:
		return "trailing stop"
	case ExitSafety:
		return "safety recheck failed"
	case ExitTimeout:
		return "max hold time at a loss"
	default:
		return "none"
	}
}
