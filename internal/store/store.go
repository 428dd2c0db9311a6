package store

import "time"

// Event is one entry of a session transcript.
//
// Event is the storage representation of a session event, shaped for JSON
// output. It is decoupled from the poller's internal types to allow
// independent evolution.
type Event struct {
	// Index is the position of the event in the transcript, assigned by the store.
	Index int `json:"index"`

	// Session is the identifier of the session that produced the event.
	Session string `json:"session"`

	// Kind is what happened: "state", "sent", "received", "timeout" or "error".
	Kind string `json:"kind"`

	// State is the session state after the event.
	State string `json:"state"`

	// Payload is the message content for "sent" and "received" events.
	Payload string `json:"payload,omitempty"`

	// Request is the poll request sequence number for sent requests, -1 otherwise.
	Request int64 `json:"request"`

	// Response is the classification of a received message.
	Response string `json:"response,omitempty"`

	// At is when the event happened.
	At time.Time `json:"at"`

	// Error contains the error message for "error" events.
	Error *string `json:"error,omitempty"`
}

// Store is an append-only session transcript.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Append adds an event at the end of the transcript and returns it with
	// its Index filled in.
	Append(ev Event) Event

	// All returns the transcript in append order.
	// The returned slice is a snapshot; modifications do not affect the store.
	All() []Event

	// Len returns the number of events recorded.
	Len() int
}
