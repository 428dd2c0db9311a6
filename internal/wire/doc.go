// Package wire frames poll protocol messages on a byte stream.
//
// The poll protocol exchanges short byte strings (REQUEST<n>, ACK, BYE, ...)
// over a TCP connection. How those strings are delimited on the stream is
// decided by a [Codec]:
//
//   - [FramingRaw]: no delimiting. Every socket read is one message.
//   - [FramingLine]: messages end with '\n'.
//   - [FramingLength]: messages carry a 2-byte big-endian length prefix.
//
// [Decoder] accumulates partial reads so line and length framing survive a
// message split across deliveries. Raw framing cannot; callers accept that
// coalesced or split reads are misclassified.
package wire
