package client

// State is the connection state of a Client.
//
// Transitions are strictly sequential and driven only by Begin, Run and
// Disconnect:
//
//	Idle -> ConnectingNetwork -> ConnectingBroker -> Connected
//	Connected -> Disconnected -> (auto-reconnect) ConnectingBroker
//	any connect failure -> Error (until the next explicit or automatic retry)
type State int

const (
	// StateIdle is the initial state before Begin is called.
	StateIdle State = iota

	// StateConnectingNetwork means a network join is in progress.
	StateConnectingNetwork

	// StateConnectingBroker means a broker connect is in progress.
	StateConnectingBroker

	// StateConnected means the broker session is established.
	StateConnected

	// StateDisconnected means an established session was lost.
	StateDisconnected

	// StateError means the last connect attempt failed.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectingNetwork:
		return "connecting_network"
	case StateConnectingBroker:
		return "connecting_broker"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
