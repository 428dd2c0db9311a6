package poller

import (
	"context"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

const (
	defaultDialTimeout = 10 * time.Second
	retryMinBackoff    = 250 * time.Millisecond
	retryMaxBackoff    = 5 * time.Second
)

// dial opens the connection, retrying with jittered exponential backoff when
// more than one attempt is configured.
func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	attempts := s.cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    retryMinBackoff,
		Max:    retryMaxBackoff,
	}

	var err error
	for i := 1; ; i++ {
		var conn net.Conn
		conn, err = s.dialOnce(ctx)
		if err == nil {
			return conn, nil
		}
		if i >= attempts || ctx.Err() != nil {
			return nil, err
		}

		wait := b.Duration()
		s.logger.Warn("connect failed, retrying",
			"attempt", i,
			"of", attempts,
			"backoff", wait.String(),
			"error", err,
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, err
		case <-t.C:
		}
	}
}

func (s *Session) dialOnce(ctx context.Context) (net.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(ctx, "tcp", s.cfg.Addr)
	}

	timeout := s.cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", s.cfg.Addr)
}
