package coordination

// ConnectionState describes the liveness of the session backing a Client.
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateSuspended
	StateLost
	StateReconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	case StateLost:
		return "lost"
	case StateReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state invalidates any claim to leadership held
// under the current session.
func (s ConnectionState) Terminal() bool {
	return s == StateSuspended || s == StateLost
}
