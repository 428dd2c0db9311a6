package tcppoll

import "time"

// State is a lifecycle state of a polling connection.
//
// A connection starts in [StateConnecting] and always ends in [StateClosed],
// passing through [StateError] when the transport failed and through
// [StateClosing] when it was shut down with a termination handshake.
type State string

const (
	// StateConnecting means the transport is being established.
	StateConnecting State = "connecting"

	// StateConnected means the connection is idle between poll requests.
	StateConnected State = "connected"

	// StateAwaitingResponse means a poll request was written and no inbound
	// data has arrived since.
	StateAwaitingResponse State = "awaiting_response"

	// StateClosing means the final termination token is being written.
	StateClosing State = "closing"

	// StateClosed is terminal. The transport has been released.
	StateClosed State = "closed"

	// StateError means the transport failed. It is always followed by
	// [StateClosed].
	StateError State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// EventKind says what an [Event] records.
type EventKind string

const (
	// KindState records a state transition.
	KindState EventKind = "state"

	// KindSent records a message written to the peer: a poll request or a
	// termination token.
	KindSent EventKind = "sent"

	// KindReceived records a message read from the peer.
	KindReceived EventKind = "received"

	// KindTimeout records a response timeout. The connection stays open.
	KindTimeout EventKind = "timeout"

	// KindError records a transport failure.
	KindError EventKind = "error"
)

// ResponseKind is the interpretation of an inbound message.
type ResponseKind string

const (
	// ResponseAck is the peer's acknowledgement of a poll request.
	ResponseAck ResponseKind = "ack"

	// ResponseTerminate is the peer's request to end the session.
	ResponseTerminate ResponseKind = "terminate"

	// ResponseUnrecognized is any other message. It is logged and ignored.
	ResponseUnrecognized ResponseKind = "unrecognized"
)

// Framing selects how messages are delimited on the wire.
type Framing string

const (
	// FramingRaw writes messages as-is and treats every socket read as one
	// message. This is the plain polling protocol. A reply that the network
	// splits across two reads is seen as two unrecognized messages.
	FramingRaw Framing = "raw"

	// FramingLine terminates every message with '\n'. Inbound lines may end in
	// "\r\n"; partial lines are buffered until complete.
	FramingLine Framing = "line"

	// FramingLength prefixes every message with its length as a 2-byte
	// big-endian integer.
	FramingLength Framing = "length"
)

// Event records one thing that happened during a polling session.
//
// Events are delivered to callbacks registered with [WithEventCallback] and,
// when enabled with [WithTranscript], kept in the client transcript.
type Event struct {
	// Session is the identifier of the session that produced the event.
	Session string

	// Kind is what happened.
	Kind EventKind

	// State is the session state right after the event.
	State State

	// Payload is the message content for [KindSent] and [KindReceived].
	Payload []byte

	// Request is the sequence number of a sent poll request, or of the request
	// a timeout refers to. It is -1 for events not tied to a request,
	// including sent termination tokens.
	Request int64

	// Response is the classification of a [KindReceived] message.
	Response ResponseKind

	// At is when the event happened.
	At time.Time

	// Err is the failure for [KindError] events.
	Err error
}
