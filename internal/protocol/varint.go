package protocol

import (
	"fmt"
	"io"
)

// Maximum sizes enforced while decoding untrusted input.
const (
	MaxVarIntBytes = 5
	MaxFrameSize   = 1 << 16 // admission-window packets are small; anything bigger is hostile
	MaxStringSize  = 1 << 12
)

// ReadVarInt reads a Minecraft protocol VarInt from r.
func ReadVarInt(r io.Reader) (int32, error) {
	var result int32
	var buf [1]byte

	for i := 0; i < MaxVarIntBytes; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= int32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if u == 0 {
			return dst
		}
	}
}

// VarIntLen returns the encoded size of v in bytes.
func VarIntLen(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadFrame reads one length-prefixed packet frame from r into buf.
// Returns a subslice of buf holding the frame body (packet ID + payload).
// buf is grown if the frame does not fit.
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	if int(length) > cap(buf) {
		buf = make([]byte, length)
	}
	buf = buf[:length]

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return buf, nil
}

// WriteFrame writes body as one length-prefixed frame to w.
func WriteFrame(w io.Writer, body []byte) error {
	head := AppendVarInt(make([]byte, 0, MaxVarIntBytes), int32(len(body)))
	if _, err := w.Write(head); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}
