package tcppoll

import (
	"bytes"

	"github.com/jpalmerr/tcppoll/internal/poller"
)

// Classifier decides what an inbound message means.
//
// A Classifier must be a pure function of the payload. It is called from the
// session goroutine, once per inbound message, and must not retain payload.
//
// # Panic Safety
//
// Classifiers are called within a panic recovery boundary. If a classifier
// panics, the message is treated as [ResponseUnrecognized] and the panic is
// logged with a correlation ID and stack trace. The connection stays open.
type Classifier func(payload []byte) ResponseKind

// ExactClassifier returns a [Classifier] that compares the payload byte for
// byte against the acknowledgement and termination tokens.
//
// Nothing is trimmed: with raw framing "ACK\n" is not an acknowledgement.
// An empty token never matches.
func ExactClassifier(ack, term string) Classifier {
	exact := poller.ExactClassifier([]byte(ack), []byte(term))
	return func(payload []byte) ResponseKind {
		return ResponseKind(exact(payload))
	}
}

// TrimClassifier returns a [Classifier] that strips leading and trailing
// ASCII whitespace from the payload before calling next.
//
// This is useful against peers that end every raw message with a newline.
//
// Example:
//
//	c := tcppoll.TrimClassifier(tcppoll.ExactClassifier("ACK", "BYE"))
//	c([]byte("ACK\r\n")) // ResponseAck
func TrimClassifier(next Classifier) Classifier {
	return func(payload []byte) ResponseKind {
		return next(bytes.TrimSpace(payload))
	}
}

// FirstMatch returns a [Classifier] that tries each classifier in order and
// returns the first result other than [ResponseUnrecognized].
//
// Nil classifiers are skipped. If every classifier returns
// ResponseUnrecognized, so does FirstMatch.
//
// Example:
//
//	c := tcppoll.FirstMatch(
//	    tcppoll.ExactClassifier("ACK", "BYE"),
//	    tcppoll.ExactClassifier("OK", "CLOSE"),
//	)
func FirstMatch(classifiers ...Classifier) Classifier {
	return func(payload []byte) ResponseKind {
		for _, c := range classifiers {
			if c == nil {
				continue
			}
			if kind := c(payload); kind != ResponseUnrecognized {
				return kind
			}
		}
		return ResponseUnrecognized
	}
}
