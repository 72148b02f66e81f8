package channel

// State is the lifecycle state of a Channel.
//
// A channel starts Closed, moves to Opening while the transport connects,
// to Open once the receive loop runs, and to Closing when Close is called.
// It returns to Closed only when its receive loop exits.
type State int

const (
	// StateClosed is the initial state and the state after the receive loop exits.
	StateClosed State = iota

	// StateOpening means Open is connecting the transport.
	StateOpening

	// StateOpen means the transport is connected and the receive loop runs.
	StateOpen

	// StateClosing means Close has been called and the receive loop is stopping.
	StateClosing
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// IsReceiving returns true for states in which the receive loop keeps running.
func (s State) IsReceiving() bool {
	return s == StateOpening || s == StateOpen
}

// Role is the local side of a connection.
//
// The role decides which side sends the first handshake message: the side
// whose role equals the configured handshake initiator.
type Role int

const (
	// RoleUnknown indicates an uninitialized role.
	RoleUnknown Role = iota

	// RoleClient is the side that dialed the connection.
	RoleClient

	// RoleServer is the side that accepted the connection.
	RoleServer
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the role is a defined value.
func (r Role) IsValid() bool {
	return r == RoleClient || r == RoleServer
}

// Invert returns the peer's role.
func (r Role) Invert() Role {
	switch r {
	case RoleClient:
		return RoleServer
	case RoleServer:
		return RoleClient
	default:
		return RoleUnknown
	}
}
