package model

// ConnectionState is the dual-channel client's state machine (spec.md §3).
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateSigningOn
	StateSignedOn
	StateReconnecting
	StateDisconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSigningOn:
		return "SIGNING_ON"
	case StateSignedOn:
		return "SIGNED_ON"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the allowed ConnectionState transitions from
// spec.md §3: DISCONNECTED -> CONNECTING -> CONNECTED -> SIGNING_ON ->
// SIGNED_ON -> {RECONNECTING|DISCONNECTING|FAILED}, plus the recovery edges
// back to CONNECTING from RECONNECTING and to DISCONNECTED from both
// DISCONNECTING and FAILED (operator-driven reset).
var legalTransitions = map[ConnectionState]map[ConnectionState]bool{
	StateDisconnected: {
		StateConnecting: true,
	},
	StateConnecting: {
		StateConnected:     true,
		StateFailed:        true,
		StateDisconnecting: true,
	},
	StateConnected: {
		StateSigningOn:     true,
		StateFailed:        true,
		StateDisconnecting: true,
		StateReconnecting:  true,
	},
	StateSigningOn: {
		StateSignedOn:      true,
		StateFailed:        true,
		StateDisconnecting: true,
		StateReconnecting:  true,
	},
	StateSignedOn: {
		StateReconnecting:  true,
		StateDisconnecting: true,
		StateFailed:        true,
	},
	StateReconnecting: {
		StateConnecting:    true,
		StateFailed:        true,
		StateDisconnecting: true,
	},
	StateDisconnecting: {
		StateDisconnected: true,
	},
	StateFailed: {
		StateDisconnected: true, // operator reset
	},
}

// IsLegalTransition reports whether moving from `from` to `to` is permitted.
func IsLegalTransition(from, to ConnectionState) bool {
	if from == to {
		return false
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ServerState is the dual-channel server's lifecycle (spec.md §3).
type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerStarting
	ServerRunning
	ServerStopping
	ServerFailed
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "STOPPED"
	case ServerStarting:
		return "STARTING"
	case ServerRunning:
		return "RUNNING"
	case ServerStopping:
		return "STOPPING"
	case ServerFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
