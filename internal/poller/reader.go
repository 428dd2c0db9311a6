package poller

import (
	"errors"
	"io"
	"net"

	"github.com/valyala/bytebufferpool"

	"github.com/jpalmerr/tcppoll/internal/wire"
)

const readBufferSize = 4096

// readLoop turns socket reads into inbound events until the connection ends.
// It never touches session state.
func (s *Session) readLoop(conn net.Conn) {
	defer s.readers.Done()

	dec := wire.NewDecoder(s.cfg.Codec)
	defer dec.Release()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if cap(buf.B) < readBufferSize {
		buf.B = make([]byte, readBufferSize)
	}
	chunk := buf.B[:readBufferSize]

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			msgs, derr := dec.Feed(chunk[:n])
			for _, msg := range msgs {
				if !s.deliver(inbound{payload: msg}) {
					return
				}
			}
			if derr != nil {
				s.deliver(inbound{err: derr})
				return
			}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if pending := dec.Buffered(); pending > 0 {
				s.logger.Warn("discarding incomplete message at end of stream", "bytes", pending)
			}
			s.deliver(inbound{end: true})
			return
		}
		s.deliver(inbound{err: err})
		return
	}
}

// deliver hands an event to the session loop. It reports false once the
// session has released the connection and stopped listening.
func (s *Session) deliver(in inbound) bool {
	select {
	case s.inbound <- in:
		return true
	case <-s.done:
		return false
	}
}
