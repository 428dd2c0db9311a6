package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/tcppoll/internal/wire"
)

// NoBudget disables the request budget: the session polls until the peer
// ends it.
const NoBudget = -1

var (
	// ErrConnect wraps a failure to establish the connection.
	ErrConnect = errors.New("connect failed")

	// ErrTransport wraps a transport failure after the connection was established.
	ErrTransport = errors.New("transport error")

	// ErrClosed is returned when writing to a released connection.
	ErrClosed = fmt.Errorf("connection released: %w", net.ErrClosed)

	// ErrAlreadyStarted is returned by a second call to [Session.Run].
	ErrAlreadyStarted = errors.New("session already started")
)

// Config holds everything a [Session] needs to run one connection.
type Config struct {
	// Addr is the host:port of the peer.
	Addr string

	// SendPeriod is the time between poll request ticks.
	SendPeriod time.Duration

	// ResponseTimeout is how long to wait for any inbound data after a
	// request before logging a warning. Zero disables the timeout.
	ResponseTimeout time.Duration

	// Budget is the number of requests to send before shutting down.
	// Use [NoBudget] to poll until the peer ends the session.
	Budget int

	// RequestLabel prefixes the sequence number in poll requests.
	RequestLabel string

	// AckToken is the peer's acknowledgement message.
	AckToken []byte

	// TerminationToken is the graceful termination message. It is echoed back
	// when the peer sends it and written as a courtesy when the peer ends the
	// stream without it.
	TerminationToken []byte

	// ShutdownToken is written when the session ends on its own initiative
	// (budget exhausted or context cancelled). Empty means TerminationToken.
	ShutdownToken []byte

	// Codec frames outbound messages and splits inbound bytes.
	// Nil means raw framing.
	Codec wire.Codec

	// Classifier interprets inbound messages. Nil means [ExactClassifier]
	// over AckToken and TerminationToken.
	Classifier Classifier

	// Dial opens the transport. Nil means a TCP dial with DialTimeout.
	Dial DialFunc

	// DialTimeout bounds each connection attempt when Dial is nil.
	DialTimeout time.Duration

	// DialAttempts is how many times to try connecting. Values below 1 mean 1.
	DialAttempts int

	// Emit receives every session event. It is called from the session
	// goroutine and must not block.
	Emit func(Event)
}

// inbound is what the reader goroutine hands to the session loop.
type inbound struct {
	payload []byte
	end     bool
	err     error
}

// Session drives one polling connection through its lifecycle.
//
// All state is owned by the goroutine executing [Session.Run]. A second
// goroutine reads the socket and hands data, end-of-stream and errors to the
// loop over a channel, so events are handled strictly one at a time and no
// lock guards the timers or the connection.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger

	state atomic.Value // State

	conn     net.Conn
	released bool

	ticker   *time.Ticker
	tickC    <-chan time.Time
	timeout  *time.Timer
	timeoutC <-chan time.Time

	// seq is the next request sequence number, and so the count of
	// requests sent
	seq uint64

	inbound chan inbound
	done    chan struct{}
	readers sync.WaitGroup

	startOnce sync.Once
}

// NewSession creates a [Session] for cfg. The session does nothing until
// [Session.Run] is called.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Codec == nil {
		cfg.Codec, _ = wire.NewCodec(wire.FramingRaw)
	}
	if len(cfg.ShutdownToken) == 0 {
		cfg.ShutdownToken = cfg.TerminationToken
	}
	if cfg.Classifier == nil {
		cfg.Classifier = ExactClassifier(cfg.AckToken, cfg.TerminationToken)
	}

	id := uuid.NewString()
	s := &Session{
		cfg:     cfg,
		id:      id,
		logger:  logger.With("session", id),
		inbound: make(chan inbound),
		done:    make(chan struct{}),
	}
	s.state.Store(StateConnecting)
	return s
}

// ID returns the session identifier attached to every log line and event.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Session) State() State {
	return s.state.Load().(State)
}

// Sent returns how many poll requests have been written. Only meaningful
// once Run has returned.
func (s *Session) Sent() uint64 {
	return s.seq
}

// Run connects to the peer and polls until the connection ends.
//
// Run blocks until the session reaches [StateClosed]. It returns nil when the
// session ended gracefully: peer termination token, request budget
// exhausted, peer half-close, or ctx cancelled after connecting. It returns
// an error wrapping [ErrConnect] when the connection could not be
// established and one wrapping [ErrTransport] when the transport failed
// afterwards.
//
// Run may be called only once per Session.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.emitState()
	s.logger.Info("connecting to server", "addr", s.cfg.Addr)

	conn, err := s.dial(ctx)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.cfg.Addr, err)
	}
	s.conn = conn

	s.setState(StateConnected)
	s.logger.Info("client connected to server",
		"local", conn.LocalAddr().String(),
		"remote", conn.RemoteAddr().String(),
	)

	s.readers.Add(1)
	go s.readLoop(conn)

	s.armTicker()
	err = s.loop(ctx)

	// no-op unless a handler returned without releasing
	s.release()
	s.readers.Wait()
	return err
}

// loop dispatches events until a handler reports the session is over.
func (s *Session) loop(ctx context.Context) error {
	for {
		var (
			done bool
			err  error
		)

		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, closing connection", "cause", context.Cause(ctx))
			done, err = true, s.closeGracefully(s.cfg.ShutdownToken)
		case <-s.tickC:
			done, err = s.onTick()
		case <-s.timeoutC:
			s.onTimeout()
		case in := <-s.inbound:
			done, err = s.onInbound(in)
		}

		if done {
			return err
		}
	}
}

// onTick sends the next poll request, or the shutdown token once the
// request budget is used up.
func (s *Session) onTick() (bool, error) {
	if s.cfg.Budget >= 0 && s.seq >= uint64(s.cfg.Budget) {
		s.logger.Info("request budget exhausted, closing connection",
			"budget", s.cfg.Budget,
			"token", string(s.cfg.ShutdownToken),
		)
		return true, s.closeGracefully(s.cfg.ShutdownToken)
	}

	n := s.seq
	msg := wire.AppendRequest(nil, s.cfg.RequestLabel, n)
	if err := s.write(msg); err != nil {
		s.fail(err)
		return true, fmt.Errorf("%w: writing request %d: %w", ErrTransport, n, err)
	}
	s.seq++

	s.emit(Event{Kind: KindSent, Payload: msg, Request: int64(n)})
	s.logger.Info("sent request", "seq", n, "payload", string(msg))

	s.armTimeout()
	s.setState(StateAwaitingResponse)
	return false, nil
}

// onTimeout handles an expired response timeout. It never ends the session;
// the send-timer keeps running independently.
func (s *Session) onTimeout() {
	s.disarmTimeout()
	s.emit(Event{Kind: KindTimeout, Request: int64(s.seq) - 1})
	s.logger.Warn("timeout waiting for a response to polling request, continuing to wait",
		"seq", s.seq-1,
		"timeout", s.cfg.ResponseTimeout.String(),
	)
}

// onInbound handles one event from the reader goroutine.
func (s *Session) onInbound(in inbound) (bool, error) {
	switch {
	case in.err != nil:
		s.fail(in.err)
		return true, fmt.Errorf("%w: %w", ErrTransport, in.err)
	case in.end:
		s.onPeerEnd()
		return true, nil
	}

	// any data at all cancels the pending timeout, ack or not
	s.disarmTimeout()

	kind := s.classify(in.payload)
	s.emit(Event{Kind: KindReceived, Payload: in.payload, Response: kind, Request: -1})

	switch kind {
	case ResponseAck:
		s.logger.Info("server acknowledged polling request", "bytes", len(in.payload))
	case ResponseTerminate:
		s.logger.Info("server closing connection", "token", string(in.payload))
		return true, s.closeGracefully(s.cfg.TerminationToken)
	default:
		s.logger.Info("message received",
			"bytes", len(in.payload),
			"payload", string(in.payload),
		)
	}

	s.setState(StateConnected)
	return false, nil
}

// onPeerEnd handles the peer ending the stream without a termination token.
func (s *Session) onPeerEnd() {
	s.logger.Warn("peer ended the connection, disconnecting")
	s.disarmAll()

	// best effort: the peer may not read it
	if err := s.write(s.cfg.TerminationToken); err != nil {
		s.logger.Debug("termination token not delivered", "error", err)
	} else {
		s.emit(Event{Kind: KindSent, Payload: s.cfg.TerminationToken, Request: -1})
	}
	s.halfClose()
	s.release()
	s.setState(StateClosed)
}

// closeGracefully writes token as the final message and releases the
// connection.
func (s *Session) closeGracefully(token []byte) error {
	s.setState(StateClosing)
	s.disarmAll()

	err := s.write(token)
	if err == nil {
		s.emit(Event{Kind: KindSent, Payload: token, Request: -1})
		s.logger.Info("sent termination token", "token", string(token))
		s.halfClose()
	} else {
		s.emit(Event{Kind: KindError, Err: err, Request: -1})
		s.logger.Error("failed to send termination token", "error", err)
		err = fmt.Errorf("%w: writing termination token: %w", ErrTransport, err)
	}

	s.release()
	s.setState(StateClosed)
	return err
}

// fail moves through the error state to closed without any handshake; the
// channel is assumed broken.
func (s *Session) fail(err error) {
	s.setState(StateError)
	s.emit(Event{Kind: KindError, Err: err, Request: -1})
	s.logger.Error("connection error", "error", err)

	s.disarmAll()
	s.release()
	s.setState(StateClosed)
}

// write frames msg and writes it to the connection.
func (s *Session) write(msg []byte) error {
	if s.conn == nil || s.released {
		return ErrClosed
	}
	return wire.WriteMessage(s.conn, s.cfg.Codec, msg)
}

// halfClose signals end-of-stream to the peer after the final message when
// the transport supports it.
func (s *Session) halfClose() {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// release closes the transport and stops the reader. Idempotent.
func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true
	close(s.done)

	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("closing connection", "error", err)
	}
	s.logger.Info("client disconnected, socket closed")
}

func (s *Session) armTicker() {
	s.disarmTicker()
	s.ticker = time.NewTicker(s.cfg.SendPeriod)
	s.tickC = s.ticker.C
}

// disarmTicker stops the send-timer. Safe to call when already disarmed.
func (s *Session) disarmTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.tickC = nil
}

// armTimeout (re)starts the response timeout; the latest request wins.
func (s *Session) armTimeout() {
	s.disarmTimeout()
	if s.cfg.ResponseTimeout <= 0 {
		return
	}
	s.timeout = time.NewTimer(s.cfg.ResponseTimeout)
	s.timeoutC = s.timeout.C
}

// disarmTimeout stops the response timeout. Safe to call when already disarmed.
func (s *Session) disarmTimeout() {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	s.timeoutC = nil
}

func (s *Session) disarmAll() {
	s.disarmTicker()
	s.disarmTimeout()
}

func (s *Session) setState(st State) {
	if s.State() == st {
		return
	}
	s.state.Store(st)
	s.emitState()
	s.logger.Debug("state changed", "state", string(st))
}

func (s *Session) emitState() {
	s.emit(Event{Kind: KindState, Request: -1})
}

func (s *Session) emit(ev Event) {
	if s.cfg.Emit == nil {
		return
	}
	ev.Session = s.id
	ev.State = s.State()
	ev.At = time.Now()
	s.cfg.Emit(ev)
}

// classify calls the classifier with panic recovery.
// A panicking classifier is logged with a correlation ID and its payload is
// treated as unrecognised.
func (s *Session) classify(payload []byte) (kind ResponseKind) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("classifier panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			kind = ResponseUnrecognized
		}
	}()
	return s.cfg.Classifier(payload)
}

// ExactClassifier matches payloads byte for byte against the two tokens.
// An empty token never matches. tcppoll.ExactClassifier wraps it.
func ExactClassifier(ack, term []byte) Classifier {
	return func(payload []byte) ResponseKind {
		switch {
		case len(ack) > 0 && bytes.Equal(payload, ack):
			return ResponseAck
		case len(term) > 0 && bytes.Equal(payload, term):
			return ResponseTerminate
		default:
			return ResponseUnrecognized
		}
	}
}
