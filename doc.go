// Package tcppoll provides a TCP polling client: it holds one persistent
// connection to a remote endpoint, writes numbered poll requests on a fixed
// cadence and drives the connection through an orderly or error-driven
// shutdown.
//
// # Quick Start
//
// Create a target and run a client with graceful shutdown:
//
//	target, _ := tcppoll.NewTarget("localhost", 5000)
//	c, _ := tcppoll.New(tcppoll.WithTarget(target))
//
//	// SIGINT/SIGTERM send the shutdown token and close the connection
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	err := c.Run(ctx) // blocks until the connection is closed
//
// # Protocol
//
// Every send period the client writes "REQUEST<n>", n counting up from 0,
// and waits for any reply for at most the response timeout. A missing reply
// only logs a warning. The peer answers with "ACK", pushes any other message
// it likes, and ends the session with the termination token, which the
// client echoes once before closing. The client ends the session itself with
// the shutdown token when its request budget is used up or its context is
// cancelled.
//
// Two presets cover the protocol variants in use, see [VariantBye] and
// [VariantClose]. Individual settings are available as options:
//
//	c, err := tcppoll.New(
//	    tcppoll.WithTarget(target),
//	    tcppoll.WithVariant(tcppoll.VariantClose),
//	    tcppoll.WithRequestBudget(10),
//	    tcppoll.WithSendPeriod(500 * time.Millisecond),
//	    tcppoll.WithResponseTimeout(200 * time.Millisecond),
//	)
//
// # Framing
//
// By default messages are raw: every socket read is taken as one message.
// This matches the plain protocol but cannot tell two replies that arrive
// together from one, nor rejoin a reply split across reads. Peers that agree
// on it can use [FramingLine] or [FramingLength] instead, see [WithFraming].
//
// # Classifiers
//
// Classifiers decide what an inbound message means:
//
//   - [ExactClassifier]: Byte-for-byte match against the ack and termination tokens (default)
//   - [TrimClassifier]: Strips surrounding whitespace before delegating
//   - [FirstMatch]: Tries several classifiers in order
//
// # Observing a session
//
// Every state change, message, timeout and error is an [Event]. Events are
// passed to callbacks registered with [WithEventCallback]. With
// [WithTranscript] they are also kept in a transcript available from
// [Client.Transcript] and [Client.WriteTranscript].
//
// # Architecture
//
// tcppoll consists of several internal packages (under internal/):
//
//   - internal/poller: The connection state machine, send-timer and response timeout
//   - internal/wire: Message framing codecs
//   - internal/store: In-memory session transcript
//   - internal/mockserver: A scriptable poll server for tests and demos
//
// The internal packages are not part of the public API and may change
// without notice.
package tcppoll
