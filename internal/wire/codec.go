package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/lithdew/bytesutil"
	"github.com/valyala/bytebufferpool"
)

// MaxLineSize bounds how many bytes a line-framed message may buffer before
// the delimiter is seen.
const MaxLineSize = 64 << 10

// Framing names a message delimiting scheme.
type Framing string

const (
	FramingRaw    Framing = "raw"
	FramingLine   Framing = "line"
	FramingLength Framing = "length"
)

var (
	// ErrFrameTooLarge is returned when a message cannot be framed or an
	// inbound frame grows past its limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrUnknownFraming is returned for an unrecognised framing name.
	ErrUnknownFraming = errors.New("unknown framing")

	// ErrDelimiterInMessage is returned when a line-framed message contains
	// the line delimiter itself.
	ErrDelimiterInMessage = errors.New("message contains line delimiter")
)

// Codec frames outbound messages and splits inbound bytes into messages.
type Codec interface {
	// Append appends the framed form of msg to dst.
	Append(dst, msg []byte) ([]byte, error)

	// Split returns the first complete message in buf and how many bytes of
	// buf it consumed. A zero n means more bytes are needed. The returned
	// message aliases buf.
	Split(buf []byte) (msg []byte, n int, err error)

	// Framing reports the scheme this codec implements.
	Framing() Framing
}

// ParseFraming converts a name into a [Framing]. The empty string maps to
// [FramingRaw].
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingLine, FramingLength:
		return Framing(s), nil
	default:
		return "", fmt.Errorf("%w %q (expected raw, line or length)", ErrUnknownFraming, s)
	}
}

// NewCodec returns the [Codec] for f.
func NewCodec(f Framing) (Codec, error) {
	switch f {
	case "", FramingRaw:
		return rawCodec{}, nil
	case FramingLine:
		return lineCodec{}, nil
	case FramingLength:
		return lengthCodec{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFraming, f)
	}
}

type rawCodec struct{}

func (rawCodec) Framing() Framing { return FramingRaw }

func (rawCodec) Append(dst, msg []byte) ([]byte, error) {
	return append(dst, msg...), nil
}

func (rawCodec) Split(buf []byte) ([]byte, int, error) {
	return buf, len(buf), nil
}

type lineCodec struct{}

func (lineCodec) Framing() Framing { return FramingLine }

func (lineCodec) Append(dst, msg []byte) ([]byte, error) {
	if bytes.IndexByte(msg, '\n') >= 0 {
		return dst, ErrDelimiterInMessage
	}
	dst = append(dst, msg...)
	return append(dst, '\n'), nil
}

func (lineCodec) Split(buf []byte) ([]byte, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > MaxLineSize {
			return nil, 0, fmt.Errorf("%w: %d bytes without a line delimiter", ErrFrameTooLarge, len(buf))
		}
		return nil, 0, nil
	}
	return bytes.TrimSuffix(buf[:idx], []byte{'\r'}), idx + 1, nil
}

type lengthCodec struct{}

func (lengthCodec) Framing() Framing { return FramingLength }

func (lengthCodec) Append(dst, msg []byte) ([]byte, error) {
	if len(msg) > math.MaxUint16 {
		return dst, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(msg), math.MaxUint16)
	}
	dst = bytesutil.AppendUint16BE(dst, uint16(len(msg)))
	return append(dst, msg...), nil
}

func (lengthCodec) Split(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	size := int(bytesutil.Uint16BE(buf[:2]))
	if len(buf) < 2+size {
		return nil, 0, nil
	}
	return buf[2 : 2+size], 2 + size, nil
}

// AppendRequest appends the poll request for sequence number seq, which is
// label followed by the decimal seq.
func AppendRequest(dst []byte, label string, seq uint64) []byte {
	dst = append(dst, label...)
	return strconv.AppendUint(dst, seq, 10)
}

// WriteMessage frames msg with c and writes it to w in a single Write call.
func WriteMessage(w io.Writer, c Codec, msg []byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var err error
	buf.B, err = c.Append(buf.B[:0], msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.B)
	return err
}
