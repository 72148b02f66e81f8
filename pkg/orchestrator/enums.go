package orchestrator

// State is the lifecycle state of an Orchestrator.
type State int

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = iota

	// StateHandshaking means the handshake is in progress.
	StateHandshaking

	// StateStarted means messages are being exchanged.
	StateStarted

	// StateFinished is terminal.
	StateFinished
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateHandshaking:
		return "Handshaking"
	case StateStarted:
		return "Started"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// HandshakeState is the handshake sub-state, meaningful while Handshaking.
//
// The initiator only ever awaits the Ack. The receiver awaits the Sync and,
// for three-way handshakes, the Verack.
type HandshakeState int

const (
	// HandshakeNotStarted means no handshake message has been expected yet.
	HandshakeNotStarted HandshakeState = iota

	// HandshakeAwaitingSync means the receiver waits for the initiator's Sync.
	HandshakeAwaitingSync

	// HandshakeAwaitingAck means the initiator sent Sync and waits for the Ack.
	HandshakeAwaitingAck

	// HandshakeAwaitingVerack means the receiver sent its Ack and waits for the Verack.
	HandshakeAwaitingVerack
)

// String returns a human-readable name for the handshake state.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeNotStarted:
		return "NotStarted"
	case HandshakeAwaitingSync:
		return "AwaitingSync"
	case HandshakeAwaitingAck:
		return "AwaitingAck"
	case HandshakeAwaitingVerack:
		return "AwaitingVerack"
	default:
		return "Unknown"
	}
}

// Direction tags a message error with the queue it happened on.
type Direction int

const (
	// DirectionInbound covers decoding and dispatching received frames.
	DirectionInbound Direction = iota

	// DirectionOutbound covers encoding and sending envelopes.
	DirectionOutbound
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}
