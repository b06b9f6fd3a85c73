package bunny

// ConnectionState is the state of the client's connection state machine.
type ConnectionState int32

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingHandshake
	StateAuthenticating
	StateReady
	StateReconnecting
	StateFailed
)

// String returns the state name.
func (state ConnectionState) String() string {
	switch state {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// hasSession reports whether the broker has issued a client id for the
// current transport.
func (state ConnectionState) hasSession() bool {
	return state == StateAuthenticating || state == StateReady
}

// ConnectionStateListener receives connection state updates. Listeners run
// on the client's event loop and must not block.
type ConnectionStateListener interface {
	ConnectionStateChanged(ConnectionState)
}

// ConnectionStateListenerFunc adapts a function to ConnectionStateListener.
type ConnectionStateListenerFunc func(ConnectionState)

// ConnectionStateChanged implements ConnectionStateListener.
func (listener ConnectionStateListenerFunc) ConnectionStateChanged(state ConnectionState) {
	if listener != nil {
		listener(state)
	}
}
