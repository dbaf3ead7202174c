package realtime

// State is the lifecycle of one logical channel connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives channel telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	StateChanged(ns Namespace, state State)
	Reconnected(ns Namespace)
	EventReceived(ns Namespace, event string)
	EventSent(ns Namespace, event string)
}

type nopObserver struct{}

func (nopObserver) StateChanged(Namespace, State)    {}
func (nopObserver) Reconnected(Namespace)            {}
func (nopObserver) EventReceived(Namespace, string) {}
func (nopObserver) EventSent(Namespace, string)     {}
