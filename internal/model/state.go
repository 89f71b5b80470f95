package model

// ConnectionState is the lifecycle state of a quote stream.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// AllStates lists every state, in display order.
var AllStates = []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateError}
