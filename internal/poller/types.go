package poller

import (
	"context"
	"net"
	"time"
)

// State is a lifecycle state of a polling connection.
//
// This is the poller-internal version of tcppoll.State, kept as a separate
// type to avoid an import cycle.
type State string

const (
	StateConnecting       State = "connecting"
	StateConnected        State = "connected"
	StateAwaitingResponse State = "awaiting_response"
	StateClosing          State = "closing"
	StateClosed           State = "closed"
	StateError            State = "error"
)

// EventKind says what a session [Event] records.
type EventKind string

const (
	KindState    EventKind = "state"
	KindSent     EventKind = "sent"
	KindReceived EventKind = "received"
	KindTimeout  EventKind = "timeout"
	KindError    EventKind = "error"
)

// ResponseKind is the interpretation of an inbound message.
type ResponseKind string

const (
	ResponseAck          ResponseKind = "ack"
	ResponseTerminate    ResponseKind = "terminate"
	ResponseUnrecognized ResponseKind = "unrecognized"
)

// Classifier decides what an inbound message means.
type Classifier func(payload []byte) ResponseKind

// DialFunc opens the transport to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Event records one thing that happened during a session.
type Event struct {
	// Session is the identifier of the emitting session.
	Session string

	// Kind is what happened.
	Kind EventKind

	// State is the session state right after the event.
	State State

	// Payload is the message for KindSent and KindReceived.
	Payload []byte

	// Request is the sequence number of a sent poll request, or of the
	// request a timeout refers to. -1 when not applicable.
	Request int64

	// Response is the classification of a received message.
	Response ResponseKind

	// At is when the event happened.
	At time.Time

	// Err is the failure for KindError.
	Err error
}
