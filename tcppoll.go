package tcppoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/tcppoll/internal/poller"
	"github.com/jpalmerr/tcppoll/internal/store"
	"github.com/jpalmerr/tcppoll/internal/wire"
)

const (
	defaultAckToken     = "ACK"
	defaultRequestLabel = "REQUEST"
	defaultDialTimeout  = 10 * time.Second
)

var (
	// ErrConnect is wrapped by the error [Client.Run] returns when the
	// connection could not be established.
	ErrConnect = poller.ErrConnect

	// ErrTransport is wrapped by the error [Client.Run] returns when the
	// transport failed after connecting.
	ErrTransport = poller.ErrTransport

	// ErrClosed is returned when writing to a connection that has already
	// been released. It wraps [net.ErrClosed].
	ErrClosed = poller.ErrClosed

	// ErrAlreadyStarted is returned by a second call to [Client.Run].
	ErrAlreadyStarted = poller.ErrAlreadyStarted
)

// Client polls one TCP endpoint over a persistent connection.
//
// A Client connects, writes numbered poll requests ("REQUEST0", "REQUEST1",
// ...) on a fixed cadence, interprets the peer's replies and shuts the
// connection down when the peer sends the termination token, when the
// request budget is used up, when the peer closes its side, or when the
// context is cancelled. It is created using [New] with functional options
// and started with [Client.Run].
//
// The typical lifecycle is:
//
//	target, _ := tcppoll.NewTarget("localhost", 5000)
//	c, err := tcppoll.New(tcppoll.WithTarget(target), tcppoll.WithRequestBudget(5))
//	if err != nil {
//	    slog.Error("failed to create client", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	err = c.Run(ctx) // blocks until the connection is closed
//
// A Client runs one connection. Create a new Client to poll again.
type Client struct {
	target     Target
	cfg        clientConfig
	codec      wire.Codec
	classifier Classifier
	logger     *slog.Logger
	callbacks  []func(Event)
	transcript store.Store
	requests   atomic.Int64

	started atomic.Bool
	mu      sync.Mutex
	session *poller.Session
}

// New creates a [Client] with the given options.
//
// A target must be configured via [WithTarget]. Other options have defaults:
//   - Variant: [VariantBye] (3 second period, 2 second timeout, "BYE")
//   - Request budget: [NoBudget]
//   - Ack token: "ACK"
//   - Request label: "REQUEST"
//   - Framing: [FramingRaw]
//   - Dial: one attempt with a 10 second timeout
//   - Transcript: not kept
//
// Returns an error if no target is configured, if any option is invalid, or
// if the combined settings are inconsistent: a response timeout that is not
// shorter than the send period, identical ack and termination tokens, or
// tokens containing a newline under [FramingLine].
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		budget:       NoBudget,
		ackToken:     defaultAckToken,
		requestLabel: defaultRequestLabel,
		framing:      FramingRaw,
		dialTimeout:  defaultDialTimeout,
		dialAttempts: 1,
	}
	applyVariant(cfg, VariantBye)

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.target == nil {
		return nil, errors.New("a target is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	framing, _ := wire.ParseFraming(string(cfg.framing))
	codec, err := wire.NewCodec(framing)
	if err != nil {
		return nil, err
	}

	classifier := cfg.classifier
	if classifier == nil {
		classifier = ExactClassifier(cfg.ackToken, cfg.terminationToken)
	}
	if cfg.trimPayloads {
		classifier = TrimClassifier(classifier)
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		target:     *cfg.target,
		cfg:        *cfg,
		codec:      codec,
		classifier: classifier,
		logger:     logger,
		callbacks:  cfg.eventCallbacks,
	}
	if cfg.transcript {
		c.transcript = store.NewMemoryStore()
	}
	return c, nil
}

// validateConfig checks settings that span several options.
func validateConfig(cfg *clientConfig) error {
	if cfg.responseTimeout > 0 && cfg.responseTimeout >= cfg.sendPeriod {
		return fmt.Errorf("response timeout (%s) must be shorter than the send period (%s)",
			cfg.responseTimeout, cfg.sendPeriod)
	}
	if cfg.ackToken == cfg.terminationToken {
		return fmt.Errorf("ack token and termination token must differ, both are %q", cfg.ackToken)
	}

	if cfg.framing == FramingLine {
		tokens := map[string]string{
			"ack token":         cfg.ackToken,
			"termination token": cfg.terminationToken,
			"shutdown token":    cfg.shutdownToken,
			"request label":     cfg.requestLabel,
		}
		for name, tok := range tokens {
			if strings.ContainsAny(tok, "\r\n") {
				return fmt.Errorf("%s %q cannot contain a line break with line framing", name, tok)
			}
		}
	}
	return nil
}

// Run connects to the target and polls until the connection is closed.
//
// Run blocks until the session ends. It returns nil when the session ended
// gracefully: the peer sent the termination token, the request budget was
// used up, the peer closed its side, or ctx was cancelled. Cancelling ctx
// sends the shutdown token before closing.
//
// It returns an error wrapping [ErrConnect] if the connection could not be
// established, and one wrapping [ErrTransport] if the transport failed
// afterwards. A second call returns [ErrAlreadyStarted].
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	budget := "none"
	if c.cfg.budget != NoBudget {
		budget = fmt.Sprint(c.cfg.budget)
	}
	c.logger.Info("tcppoll starting",
		"target", c.target.Addr(),
		"period", c.cfg.sendPeriod.String(),
		"timeout", c.cfg.responseTimeout.String(),
		"budget", budget,
		"framing", string(c.codec.Framing()),
	)

	session := poller.NewSession(c.toPollerConfig(), c.logger)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	err := session.Run(ctx)
	if err != nil {
		c.logger.Error("tcppoll stopped with error", "error", err, "requests_sent", c.RequestsSent())
		return err
	}
	if c.transcript != nil {
		c.logger.Info("tcppoll stopped", "requests_sent", c.RequestsSent(), "transcript_events", c.transcript.Len())
		return nil
	}
	c.logger.Info("tcppoll stopped", "requests_sent", c.RequestsSent())
	return nil
}

// toPollerConfig converts the client settings to the poller's format.
func (c *Client) toPollerConfig() poller.Config {
	classify := c.classifier

	var dial poller.DialFunc
	if c.cfg.dial != nil {
		dial = poller.DialFunc(c.cfg.dial)
	}

	return poller.Config{
		Addr:             c.target.Addr(),
		SendPeriod:       c.cfg.sendPeriod,
		ResponseTimeout:  c.cfg.responseTimeout,
		Budget:           c.cfg.budget,
		RequestLabel:     c.cfg.requestLabel,
		AckToken:         []byte(c.cfg.ackToken),
		TerminationToken: []byte(c.cfg.terminationToken),
		ShutdownToken:    []byte(c.cfg.shutdownToken),
		Codec:            c.codec,
		Classifier: func(payload []byte) poller.ResponseKind {
			return poller.ResponseKind(classify(payload))
		},
		Dial:         dial,
		DialTimeout:  c.cfg.dialTimeout,
		DialAttempts: c.cfg.dialAttempts,
		Emit:         c.record,
	}
}

// record counts and stores a session event and hands it to the callbacks.
func (c *Client) record(ev poller.Event) {
	if ev.Kind == poller.KindSent && ev.Request >= 0 {
		c.requests.Add(1)
	}
	// store first, callbacks observe a transcript that already contains ev
	if c.transcript != nil {
		c.transcript.Append(pollerEventToStoreEvent(ev))
	}

	if len(c.callbacks) == 0 {
		return
	}
	public := pollerEventToPublicEvent(ev)
	for _, cb := range c.callbacks {
		invokeCallbackSafe(cb, public, c.logger)
	}
}

// Target returns the configured target.
func (c *Client) Target() Target {
	return c.target
}

// SessionID returns the identifier of the running or finished session, or
// an empty string before [Client.Run] is called.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// State returns the current lifecycle state, or an empty State before
// [Client.Run] is called. Safe for concurrent use.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return State(c.session.State())
}

// RequestsSent returns how many poll requests have been written so far.
// Termination tokens are not counted. Safe for concurrent use.
func (c *Client) RequestsSent() int {
	return int(c.requests.Load())
}

// Transcript returns every event of the session so far, in order. It is
// empty unless the client was created with [WithTranscript].
//
// The returned slice is a copy. Safe for concurrent use.
func (c *Client) Transcript() []Event {
	if c.transcript == nil {
		return nil
	}
	events := c.transcript.All()
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = storeEventToPublicEvent(ev)
	}
	return out
}

// WriteTranscript writes the session transcript to w as JSON lines, one
// event per line. It writes nothing unless the client was created with
// [WithTranscript].
func (c *Client) WriteTranscript(w io.Writer) error {
	if c.transcript == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	for _, ev := range c.transcript.All() {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
	}
	return nil
}

// pollerEventToStoreEvent converts a poller event to its storage form.
func pollerEventToStoreEvent(ev poller.Event) store.Event {
	var errStr *string
	if ev.Err != nil {
		s := ev.Err.Error()
		errStr = &s
	}

	return store.Event{
		Session:  ev.Session,
		Kind:     string(ev.Kind),
		State:    string(ev.State),
		Payload:  string(ev.Payload),
		Request:  ev.Request,
		Response: string(ev.Response),
		At:       ev.At,
		Error:    errStr,
	}
}

// pollerEventToPublicEvent converts a poller event to the public API type.
// The payload is copied so callbacks may retain it.
func pollerEventToPublicEvent(ev poller.Event) Event {
	return Event{
		Session:  ev.Session,
		Kind:     EventKind(ev.Kind),
		State:    State(ev.State),
		Payload:  copyBytes(ev.Payload),
		Request:  ev.Request,
		Response: ResponseKind(ev.Response),
		At:       ev.At,
		Err:      ev.Err,
	}
}

// storeEventToPublicEvent converts a transcript entry to the public API type.
// Errors come back as plain messages.
func storeEventToPublicEvent(ev store.Event) Event {
	out := Event{
		Session:  ev.Session,
		Kind:     EventKind(ev.Kind),
		State:    State(ev.State),
		Request:  ev.Request,
		Response: ResponseKind(ev.Response),
		At:       ev.At,
	}
	if ev.Payload != "" {
		out.Payload = []byte(ev.Payload)
	}
	if ev.Error != nil {
		out.Err = errors.New(*ev.Error)
	}
	return out
}

// copyBytes returns a copy of the byte slice, or nil if input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// invokeCallbackSafe calls an event callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Event), ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event callback panicked",
				"panic", r,
				"session", ev.Session,
				"kind", string(ev.Kind),
			)
		}
	}()
	cb(ev)
}
