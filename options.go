package tcppoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jpalmerr/tcppoll/internal/wire"
)

// NoBudget disables the request budget: the client polls until the peer ends
// the session or the context is cancelled.
const NoBudget = -1

// DialFunc opens the transport to addr. network is always "tcp".
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// clientConfig holds mutable state during Client construction.
type clientConfig struct {
	target           *Target
	budget           int
	sendPeriod       time.Duration
	responseTimeout  time.Duration
	ackToken         string
	terminationToken string
	shutdownToken    string
	requestLabel     string
	framing          Framing
	classifier       Classifier
	trimPayloads     bool
	transcript       bool
	logger           *slog.Logger
	eventCallbacks   []func(Event)
	dialTimeout      time.Duration
	dialAttempts     int
	dial             DialFunc
}

// Option is a function that configures a [Client] during construction.
//
// Options are applied in order, so a later option overrides an earlier one.
// Options return an error if validation fails.
type Option func(*clientConfig) error

// WithTarget sets the remote endpoint to poll. Required.
//
// Example:
//
//	target, _ := tcppoll.NewTarget("localhost", 5000)
//	c, err := tcppoll.New(tcppoll.WithTarget(target))
func WithTarget(t Target) Option {
	return func(cfg *clientConfig) error {
		if t.host == "" {
			return errors.New("target must be created with NewTarget")
		}
		cfg.target = &t
		return nil
	}
}

// WithRequestBudget bounds how many poll requests are sent.
//
// Once n requests have been written, the next tick writes the shutdown token
// instead and the connection closes. A budget of 0 closes on the first tick.
// Pass [NoBudget] to poll until the peer ends the session, which is the
// default.
//
// Returns an error if n is negative and not NoBudget.
func WithRequestBudget(n int) Option {
	return func(cfg *clientConfig) error {
		if n < 0 && n != NoBudget {
			return fmt.Errorf("request budget must be non-negative or NoBudget, got %d", n)
		}
		cfg.budget = n
		return nil
	}
}

// WithVariant applies the timing and tokens of a protocol [Variant].
//
// Because options apply in order, pass WithVariant before options that
// override individual settings. Defaults to [VariantBye].
//
// Example:
//
//	c, err := tcppoll.New(
//	    tcppoll.WithTarget(target),
//	    tcppoll.WithVariant(tcppoll.VariantClose),
//	    tcppoll.WithRequestBudget(10),
//	)
func WithVariant(v Variant) Option {
	return func(cfg *clientConfig) error {
		if v.SendPeriod <= 0 {
			return fmt.Errorf("variant %q: send period must be positive", v.Name)
		}
		if v.TerminationToken == "" {
			return fmt.Errorf("variant %q: termination token cannot be empty", v.Name)
		}
		applyVariant(cfg, v)
		return nil
	}
}

func applyVariant(cfg *clientConfig, v Variant) {
	cfg.sendPeriod = v.SendPeriod
	cfg.responseTimeout = v.ResponseTimeout
	cfg.terminationToken = v.TerminationToken
	cfg.shutdownToken = v.ShutdownToken
}

// WithSendPeriod sets the time between poll requests.
//
// Returns an error if the duration is zero or negative.
func WithSendPeriod(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("send period must be positive")
		}
		cfg.sendPeriod = d
		return nil
	}
}

// WithResponseTimeout sets how long to wait for any reply after a poll
// request before logging a warning. A timeout never ends the connection.
//
// Zero disables the timeout. Returns an error if the duration is negative.
func WithResponseTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return errors.New("response timeout cannot be negative")
		}
		cfg.responseTimeout = d
		return nil
	}
}

// WithAckToken sets the peer's acknowledgement message. Defaults to "ACK".
func WithAckToken(token string) Option {
	return func(cfg *clientConfig) error {
		if token == "" {
			return errors.New("ack token cannot be empty")
		}
		cfg.ackToken = token
		return nil
	}
}

// WithTerminationToken sets the message that ends a session in either
// direction.
func WithTerminationToken(token string) Option {
	return func(cfg *clientConfig) error {
		if token == "" {
			return errors.New("termination token cannot be empty")
		}
		cfg.terminationToken = token
		return nil
	}
}

// WithShutdownToken sets the message written when the client ends the
// session on its own: request budget used up or context cancelled. Empty
// means the termination token.
func WithShutdownToken(token string) Option {
	return func(cfg *clientConfig) error {
		cfg.shutdownToken = token
		return nil
	}
}

// WithRequestLabel sets the prefix of poll requests. Defaults to "REQUEST",
// producing "REQUEST0", "REQUEST1", and so on.
func WithRequestLabel(label string) Option {
	return func(cfg *clientConfig) error {
		if label == "" {
			return errors.New("request label cannot be empty")
		}
		cfg.requestLabel = label
		return nil
	}
}

// WithFraming sets the message framing. Defaults to [FramingRaw].
//
// Both sides of the connection must use the same framing.
func WithFraming(f Framing) Option {
	return func(cfg *clientConfig) error {
		if _, err := wire.ParseFraming(string(f)); err != nil {
			return err
		}
		cfg.framing = f
		return nil
	}
}

// WithClassifier replaces the default [ExactClassifier] built from the ack
// and termination tokens.
//
// Nil classifiers are silently ignored.
func WithClassifier(c Classifier) Option {
	return func(cfg *clientConfig) error {
		if c == nil {
			return nil
		}
		cfg.classifier = c
		return nil
	}
}

// WithTrimmedPayloads wraps the classifier in [TrimClassifier], so that
// "ACK\n" counts as an acknowledgement under raw framing.
func WithTrimmedPayloads(trim bool) Option {
	return func(cfg *clientConfig) error {
		cfg.trimPayloads = trim
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the client.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEventCallback registers a function to be called for every session
// [Event]: state transitions, messages sent and received, timeouts and
// errors.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks run synchronously on the session goroutine and must
// not block. A blocking callback delays the send cadence.
//
// Panics within callbacks are recovered and logged; they do not affect the
// connection.
//
// Nil callbacks are silently ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *clientConfig) error {
		if cb == nil {
			return nil
		}
		cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		return nil
	}
}

// WithTranscript keeps every session event in memory for [Client.Transcript]
// and [Client.WriteTranscript]. Off by default: a session without a request
// budget can run indefinitely, and the transcript grows with every request.
func WithTranscript(keep bool) Option {
	return func(cfg *clientConfig) error {
		cfg.transcript = keep
		return nil
	}
}

// WithDialTimeout bounds each connection attempt. Defaults to 10 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		cfg.dialTimeout = d
		return nil
	}
}

// WithDialAttempts sets how many times to try connecting before giving up.
// Attempts are spaced with jittered exponential backoff. Defaults to 1,
// meaning no retry.
func WithDialAttempts(n int) Option {
	return func(cfg *clientConfig) error {
		if n < 1 {
			return fmt.Errorf("dial attempts must be at least 1, got %d", n)
		}
		cfg.dialAttempts = n
		return nil
	}
}

// WithDialFunc replaces the TCP dialer, for example to connect through a
// proxy or over an in-memory pipe in tests. The dial timeout does not apply
// to a custom dialer; bound it with the context instead.
func WithDialFunc(dial DialFunc) Option {
	return func(cfg *clientConfig) error {
		if dial == nil {
			return errors.New("dial func cannot be nil")
		}
		cfg.dial = dial
		return nil
	}
}
