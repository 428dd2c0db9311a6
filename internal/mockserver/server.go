// Package mockserver provides a TCP poll server for tests and demos.
//
// The server speaks the poll protocol: it answers each REQUEST<n> with an
// acknowledgement and can be told to end the session with a termination
// token, to push unsolicited messages, to hang up without a token, or to stay
// silent so that client response timeouts fire.
package mockserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jpalmerr/tcppoll/internal/wire"
)

// Server is a scriptable poll server. Configure the exported fields before
// calling [Server.Start]; they must not change afterwards.
type Server struct {
	// AckToken is the reply to each poll request. Defaults to "ACK".
	AckToken string

	// TerminationToken ends the session. Defaults to "BYE".
	TerminationToken string

	// RequestLabel identifies poll requests. Defaults to "REQUEST".
	RequestLabel string

	// TerminateAfter replies with TerminationToken instead of AckToken to
	// the request with this 1-based count. Zero never terminates.
	TerminateAfter int

	// HangUpAfter closes the connection without any token after reading
	// this many requests. Zero never hangs up.
	HangUpAfter int

	// PushEvery replies to every PushEvery-th request with a push message
	// ("Hello World! (Msg No. n)") instead of AckToken. Zero disables pushes.
	PushEvery int

	// Silent suppresses every reply.
	Silent bool

	// ReplyDelay is slept before each reply.
	ReplyDelay time.Duration

	// Framing selects the message framing. Defaults to raw.
	Framing wire.Framing

	// Logger receives server logs. Defaults to a discarding logger.
	Logger *slog.Logger

	ln       net.Listener
	codec    wire.Codec
	handled  chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	received []string
	closed   bool
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves
// connections in the background. It returns the bound address.
func (s *Server) Start(addr string) (string, error) {
	if s.AckToken == "" {
		s.AckToken = "ACK"
	}
	if s.TerminationToken == "" {
		s.TerminationToken = "BYE"
	}
	if s.RequestLabel == "" {
		s.RequestLabel = "REQUEST"
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	codec, err := wire.NewCodec(s.Framing)
	if err != nil {
		return "", err
	}
	s.codec = codec

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("mock server listen: %w", err)
	}
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.handled = make(chan struct{}, 64)

	s.wg.Add(1)
	go s.acceptLoop()

	s.Logger.Info("mock poll server listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Received returns every message read from clients, in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// WaitHandled blocks until n connections have been fully handled (the client
// closed its side or the server hung up), or the timeout passes.
func (s *Server) WaitHandled(n int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-s.handled:
		case <-deadline.C:
			return fmt.Errorf("mock server: %d of %d connections handled after %s", i, n, timeout)
		}
	}
	return nil
}

// Close stops accepting, closes open connections and waits for handlers.
// Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.Logger.Error("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.Logger.Info("accepted connection", "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()

			select {
			case s.handled <- struct{}{}:
			default:
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	dec := wire.NewDecoder(s.codec)
	defer dec.Release()

	requests := 0
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, derr := dec.Feed(buf[:n])
			for _, msg := range msgs {
				s.record(msg)
				if !bytes.HasPrefix(msg, []byte(s.RequestLabel)) {
					s.Logger.Info("received", "payload", string(msg))
					continue
				}

				requests++
				s.Logger.Info("received polling request", "count", requests, "payload", string(msg))

				if s.HangUpAfter > 0 && requests >= s.HangUpAfter {
					s.Logger.Info("hanging up")
					return
				}
				if err := s.reply(conn, requests); err != nil {
					s.Logger.Warn("reply failed", "error", err)
					return
				}
			}
			if derr != nil {
				s.Logger.Warn("decode failed", "error", derr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, count int) error {
	if s.Silent {
		return nil
	}
	if s.ReplyDelay > 0 {
		time.Sleep(s.ReplyDelay)
	}

	msg := s.AckToken
	switch {
	case s.TerminateAfter > 0 && count == s.TerminateAfter:
		msg = s.TerminationToken
	case s.PushEvery > 0 && count%s.PushEvery == 0:
		msg = "Hello World! (Msg No. " + strconv.Itoa(count/s.PushEvery-1) + ")"
	}
	return wire.WriteMessage(conn, s.codec, []byte(msg))
}

func (s *Server) record(msg []byte) {
	s.mu.Lock()
	s.received = append(s.received, string(msg))
	s.mu.Unlock()
}
