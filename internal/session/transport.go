package session

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// FrameText carries one chat line or command in Frame.Text.
	FrameText FrameKind = iota
	// FrameBinary is a binary message; the relay protocol is text only.
	FrameBinary
	// FramePing is a liveness probe from the peer. The transport has already answered it.
	FramePing
	// FramePong answers a Ping sent by the session.
	FramePong
	// FrameClose is the peer's closing handshake.
	FrameClose
	// FrameError carries a transport failure in Frame.Err.
	FrameError
)

// Frame is one inbound unit from a Transport.
type Frame struct {
	Kind FrameKind
	Text string
	Err  error
}

// Transport is a persistent, ordered, bidirectional frame stream.
// Answering pings with pongs is the transport's job.
type Transport interface {
	// Frames delivers inbound frames. It is closed when the stream ends.
	Frames() <-chan Frame
	// WriteText sends one text frame.
	WriteText(text string) error
	// Ping sends a liveness probe.
	Ping() error
	// Close terminates the stream. It may be called more than once.
	Close() error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// State is the lifecycle phase of a session.
type State int

const (
	// StateConnecting is the phase before the broker has assigned an identity.
	StateConnecting State = iota
	// StateActive is the phase in which frames and relayed messages are processed.
	StateActive
	// StateClosing is the phase in which the session deregisters and releases its transport.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
