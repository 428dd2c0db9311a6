package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jpalmerr/tcppoll/internal/mockserver"
	"github.com/jpalmerr/tcppoll/internal/wire"
)

// discardLogger returns a logger that discards all output for clean test output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects session events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) payloads(kind EventKind) []string {
	var out []string
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, string(ev.Payload))
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) states() []State {
	var out []State
	for _, ev := range r.all() {
		if ev.Kind == KindState {
			out = append(out, ev.State)
		}
	}
	return out
}

func testConfig(addr string, rec *recorder) Config {
	return Config{
		Addr:             addr,
		SendPeriod:       20 * time.Millisecond,
		ResponseTimeout:  10 * time.Millisecond,
		Budget:           NoBudget,
		RequestLabel:     "REQUEST",
		AckToken:         []byte("ACK"),
		TerminationToken: []byte("BYE"),
		DialTimeout:      time.Second,
		Emit:             rec.emit,
	}
}

func startServer(t *testing.T, srv *mockserver.Server) string {
	t.Helper()
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	return addr
}

// closedAddr returns an address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestSession_BudgetSendsExactRequestsThenShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.Budget = 3

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	want := []string{"REQUEST0", "REQUEST1", "REQUEST2", "BYE"}
	assert.Equal(t, want, rec.payloads(KindSent))
	assert.EqualValues(t, 3, s.Sent())
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, srv.WaitHandled(1, 2*time.Second))
	assert.Equal(t, want, srv.Received())
}

func TestSession_ZeroBudgetClosesOnFirstTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.Budget = 0
	cfg.ShutdownToken = []byte("CLOSING")

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"CLOSING"}, rec.payloads(KindSent))
	assert.Zero(t, s.Sent())
}

func TestSession_SequenceNumbersStrictlyIncrease(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.Budget = 5

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	var seqs []int64
	for _, ev := range rec.all() {
		if ev.Kind == KindSent && ev.Request >= 0 {
			seqs = append(seqs, ev.Request)
		}
	}
	require.Len(t, seqs, 5)
	for i, n := range seqs {
		assert.EqualValues(t, i, n, "request %d carries sequence number %d", i, n)
	}
}

func TestSession_PeerTerminationEchoedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{TerminateAfter: 2}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.SendPeriod = 50 * time.Millisecond
	cfg.ResponseTimeout = 40 * time.Millisecond

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	sent := rec.payloads(KindSent)
	require.NotEmpty(t, sent)
	assert.Equal(t, "BYE", sent[len(sent)-1], "echo must be the final write")

	byes := 0
	for _, p := range sent {
		if p == "BYE" {
			byes++
		}
	}
	assert.Equal(t, 1, byes, "termination token must be echoed exactly once")
	assert.Equal(t, []string{"ACK", "BYE"}, rec.payloads(KindReceived))
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, srv.WaitHandled(1, 2*time.Second))
	received := srv.Received()
	require.NotEmpty(t, received)
	assert.Equal(t, "BYE", received[len(received)-1])
}

func TestSession_TimeoutDoesNotEndConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{Silent: true}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.SendPeriod = 30 * time.Millisecond
	cfg.ResponseTimeout = 5 * time.Millisecond
	cfg.Budget = 3

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	assert.GreaterOrEqual(t, rec.count(KindTimeout), 1)
	assert.Zero(t, rec.count(KindError))
	assert.Equal(t, []string{"REQUEST0", "REQUEST1", "REQUEST2", "BYE"}, rec.payloads(KindSent))
	assert.NotContains(t, rec.states(), StateError)
}

func TestSession_PushedMessagesAreNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{PushEvery: 2}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.SendPeriod = 40 * time.Millisecond
	cfg.Budget = 4

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	var unrecognized []string
	for _, ev := range rec.all() {
		if ev.Kind == KindReceived && ev.Response == ResponseUnrecognized {
			unrecognized = append(unrecognized, string(ev.Payload))
		}
	}
	assert.Equal(t, []string{"Hello World! (Msg No. 0)", "Hello World! (Msg No. 1)"}, unrecognized)
	assert.Len(t, rec.payloads(KindSent), 5)
}

func TestSession_PeerHangUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{HangUpAfter: 2}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	sent := rec.payloads(KindSent)
	require.GreaterOrEqual(t, len(sent), 2)
	assert.Equal(t, []string{"REQUEST0", "REQUEST1"}, sent[:2])
	assert.Equal(t, StateClosed, s.State())
	assert.NotContains(t, rec.states(), StateClosing)

	// cleanup after the peer end is already done; doing it again is harmless
	s.disarmAll()
	s.disarmAll()
	s.release()
	s.release()
}

func TestSession_ContextCancelSendsShutdownToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{}
	addr := startServer(t, srv)
	defer srv.Close()

	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.ShutdownToken = []byte("CLOSING")

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(ctx))

	sent := rec.payloads(KindSent)
	require.NotEmpty(t, sent)
	assert.Equal(t, "CLOSING", sent[len(sent)-1])
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_ConnectFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	cfg := testConfig(closedAddr(t), rec)

	s := NewSession(cfg, discardLogger())
	err := s.Run(context.Background())

	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []State{StateConnecting, StateError, StateClosed}, rec.states())
	assert.Empty(t, rec.payloads(KindSent))
}

func TestSession_DialRetriesWithBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &mockserver.Server{}
	addr := startServer(t, srv)
	defer srv.Close()

	var attempts atomic.Int32
	rec := &recorder{}
	cfg := testConfig(addr, rec)
	cfg.Budget = 0
	cfg.DialAttempts = 3
	cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))
	assert.EqualValues(t, 2, attempts.Load())
}

func TestSession_DialGivesUpAfterAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts atomic.Int32
	dialErr := errors.New("no such host")

	rec := &recorder{}
	cfg := testConfig("nowhere:1", rec)
	cfg.DialAttempts = 2
	cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		attempts.Add(1)
		return nil, dialErr
	}

	s := NewSession(cfg, discardLogger())
	err := s.Run(context.Background())

	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, dialErr)
	assert.EqualValues(t, 2, attempts.Load())
}

// brokenConn fails every read and counts closes.
type brokenConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *brokenConn) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func (c *brokenConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func TestSession_TransportErrorReleasesOnceWithoutHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := net.Pipe()
	defer server.Close()
	conn := &brokenConn{Conn: client}

	rec := &recorder{}
	cfg := testConfig("pipe", rec)
	cfg.SendPeriod = time.Minute
	cfg.Dial = func(context.Context, string, string) (net.Conn, error) { return conn, nil }

	s := NewSession(cfg, discardLogger())
	err := s.Run(context.Background())

	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateClosed, s.State())
	assert.Contains(t, rec.states(), StateError)
	assert.NotContains(t, rec.payloads(KindSent), "BYE", "no termination handshake on a broken transport")
	assert.EqualValues(t, 1, conn.closes.Load())
}

func TestSession_RunTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	s := NewSession(testConfig(closedAddr(t), rec), discardLogger())

	require.ErrorIs(t, s.Run(context.Background()), ErrConnect)
	require.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
}

// newPipeSession returns a session wired to one end of an in-memory pipe,
// as if it had just connected.
func newPipeSession(t *testing.T, cfg Config) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	s := NewSession(cfg, discardLogger())
	s.conn = client
	s.setState(StateConnected)
	return s, server
}

func TestSession_AckDisarmsTimeoutWithoutClosing(t *testing.T) {
	rec := &recorder{}
	s, server := newPipeSession(t, testConfig("pipe", rec))
	defer server.Close()
	defer s.release()

	s.armTimeout()
	s.setState(StateAwaitingResponse)
	require.NotNil(t, s.timeoutC)

	done, err := s.onInbound(inbound{payload: []byte("ACK")})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, s.timeoutC, "any inbound data must disarm the response timeout")
	assert.Nil(t, s.timeout)
	assert.Equal(t, StateConnected, s.State())
	assert.NotContains(t, rec.states(), StateClosing)
}

func TestSession_UnrecognizedPayloadDisarmsTimeout(t *testing.T) {
	rec := &recorder{}
	s, server := newPipeSession(t, testConfig("pipe", rec))
	defer server.Close()
	defer s.release()

	s.armTimeout()
	s.setState(StateAwaitingResponse)

	done, err := s.onInbound(inbound{payload: []byte("Hello World! (Msg No. 3)")})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, s.timeoutC)
	assert.Equal(t, StateConnected, s.State())

	events := rec.all()
	last := events[len(events)-2] // the received event precedes the state change
	assert.Equal(t, KindReceived, last.Kind)
	assert.Equal(t, ResponseUnrecognized, last.Response)
}

func TestSession_TerminationTokenWritesOnceThenReleases(t *testing.T) {
	rec := &recorder{}
	s, server := newPipeSession(t, testConfig("pipe", rec))
	defer server.Close()

	got := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(server)
		got <- b
	}()

	s.armTicker()
	s.armTimeout()

	done, err := s.onInbound(inbound{payload: []byte("BYE")})
	require.NoError(t, err)
	assert.True(t, done)

	select {
	case b := <-got:
		assert.Equal(t, "BYE", string(b), "peer must see exactly one echoed token")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed token")
	}

	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.tickC)
	assert.Nil(t, s.timeoutC)
	assert.Equal(t, []State{StateConnected, StateClosing, StateClosed}, rec.states())

	// the transport is released; writing now is a transport-level error
	err = s.write([]byte("REQUEST9"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, err, net.ErrClosed)

	// cleanup again is a no-op
	s.release()
	s.disarmAll()
}

func TestSession_TimeoutKeepsState(t *testing.T) {
	rec := &recorder{}
	s, server := newPipeSession(t, testConfig("pipe", rec))
	defer server.Close()
	defer s.release()

	s.seq = 1
	s.armTimeout()
	s.setState(StateAwaitingResponse)

	s.onTimeout()
	assert.Equal(t, StateAwaitingResponse, s.State())
	assert.Nil(t, s.timeoutC)
	assert.Equal(t, 1, rec.count(KindTimeout))

	// a second expiry report without a re-arm is still harmless
	s.onTimeout()
	assert.Equal(t, StateAwaitingResponse, s.State())
}

func TestSession_ClassifierPanicTreatedAsUnrecognized(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig("pipe", rec)
	cfg.Classifier = func([]byte) ResponseKind { panic("boom") }

	s, server := newPipeSession(t, cfg)
	defer server.Close()
	defer s.release()

	done, err := s.onInbound(inbound{payload: []byte("BYE")})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_LineFramingReassemblesSplitReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("AC"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("K\n"))
		_, _ = io.Copy(io.Discard, conn)
	}()

	codec, err := wire.NewCodec(wire.FramingLine)
	require.NoError(t, err)

	rec := &recorder{}
	cfg := testConfig(ln.Addr().String(), rec)
	cfg.Codec = codec
	cfg.SendPeriod = 100 * time.Millisecond
	cfg.ResponseTimeout = 80 * time.Millisecond
	cfg.Budget = 1

	s := NewSession(cfg, discardLogger())
	require.NoError(t, s.Run(context.Background()))
	<-serverDone

	var received []Event
	for _, ev := range rec.all() {
		if ev.Kind == KindReceived {
			received = append(received, ev)
		}
	}
	require.Len(t, received, 1, "split reply must be delivered as one message")
	assert.Equal(t, "ACK", string(received[0].Payload))
	assert.Equal(t, ResponseAck, received[0].Response)
	assert.Zero(t, rec.count(KindTimeout))
}

func TestExactClassifier(t *testing.T) {
	classify := ExactClassifier([]byte("ACK"), []byte("BYE"))

	tests := []struct {
		payload string
		want    ResponseKind
	}{
		{"ACK", ResponseAck},
		{"BYE", ResponseTerminate},
		{"ACK\n", ResponseUnrecognized},
		{"ack", ResponseUnrecognized},
		{"ACKBYE", ResponseUnrecognized},
		{"", ResponseUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, classify([]byte(tt.payload)))
		})
	}
}

func TestExactClassifier_EmptyTokensNeverMatch(t *testing.T) {
	classify := ExactClassifier(nil, nil)
	assert.Equal(t, ResponseUnrecognized, classify(nil))
	assert.Equal(t, ResponseUnrecognized, classify([]byte{}))
}
