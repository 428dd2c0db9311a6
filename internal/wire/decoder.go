package wire

import "github.com/valyala/bytebufferpool"

// Decoder turns a sequence of socket reads into complete messages.
//
// Bytes that do not yet form a complete message are kept in a pooled buffer
// until later reads complete them. A Decoder is not safe for concurrent use;
// call [Decoder.Release] when done with it.
type Decoder struct {
	codec Codec
	acc   *bytebufferpool.ByteBuffer
}

// NewDecoder returns a Decoder splitting with c.
func NewDecoder(c Codec) *Decoder {
	return &Decoder{codec: c, acc: bytebufferpool.Get()}
}

// Feed appends chunk to the pending bytes and returns every message that is
// now complete. Returned messages are copies and may be retained. Empty
// messages (blank lines, zero-length frames) are skipped.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	if d.acc == nil {
		d.acc = bytebufferpool.Get()
	}
	d.acc.B = append(d.acc.B, chunk...)

	var msgs [][]byte
	for len(d.acc.B) > 0 {
		msg, n, err := d.codec.Split(d.acc.B)
		if err != nil {
			return msgs, err
		}
		if n == 0 {
			break
		}
		if len(msg) > 0 {
			msgs = append(msgs, append([]byte(nil), msg...))
		}
		d.acc.B = d.acc.B[:copy(d.acc.B, d.acc.B[n:])]
	}
	return msgs, nil
}

// Buffered reports how many bytes are waiting for the rest of their message.
func (d *Decoder) Buffered() int {
	if d.acc == nil {
		return 0
	}
	return d.acc.Len()
}

// Release returns the pending buffer to the pool. Safe to call twice.
func (d *Decoder) Release() {
	if d.acc == nil {
		return
	}
	bytebufferpool.Put(d.acc)
	d.acc = nil
}
