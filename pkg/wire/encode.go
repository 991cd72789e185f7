package wire

import (
	"errors"
	"fmt"
)

// Integer parameters travel as variable-length quantities: seven value
// bits per byte, high bit marking continuation, sign-extended from the
// leading byte. Small values cost one byte, which keeps command frames
// well under the frame cap.

// ErrTruncated reports a payload ending mid-value.
var ErrTruncated = errors.New("wire: truncated payload")

// EncodeInt32 appends the VLQ encoding of v.
func EncodeInt32(out *[]byte, v int32) {
	uv := uint32(v)
	if v >= 0xc000000 || v < -0x4000000 {
		*out = append(*out, byte(((uv>>28)&0x7f)|0x80))
	}
	if v >= 0x180000 || v < -0x80000 {
		*out = append(*out, byte(((uv>>21)&0x7f)|0x80))
	}
	if v >= 0x3000 || v < -0x1000 {
		*out = append(*out, byte(((uv>>14)&0x7f)|0x80))
	}
	if v >= 0x60 || v < -0x20 {
		*out = append(*out, byte(((uv>>7)&0x7f)|0x80))
	}
	*out = append(*out, byte(uv&0x7f))
}

// DecodeInt32 decodes one VLQ value starting at pos and returns the
// value and the next position.
func DecodeInt32(buf []byte, pos int) (int32, int, error) {
	if pos >= len(buf) {
		return 0, pos, ErrTruncated
	}
	c := buf[pos]
	pos++
	v := int32(c & 0x7f)
	if (c & 0x60) == 0x60 {
		v |= -0x20
	}
	for (c & 0x80) != 0 {
		if pos >= len(buf) {
			return 0, pos, ErrTruncated
		}
		c = buf[pos]
		pos++
		v = (v << 7) | int32(c&0x7f)
	}
	return v, pos, nil
}

// EncodeString appends a length-prefixed byte string. Labware and well
// names ride the wire this way; the length is a single byte.
func EncodeString(out *[]byte, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("wire: string too long (%d bytes)", len(s))
	}
	*out = append(*out, byte(len(s)))
	*out = append(*out, s...)
	return nil
}

// DecodeString decodes one length-prefixed string starting at pos.
func DecodeString(buf []byte, pos int) (string, int, error) {
	if pos >= len(buf) {
		return "", pos, ErrTruncated
	}
	n := int(buf[pos])
	pos++
	if pos+n > len(buf) {
		return "", pos, ErrTruncated
	}
	return string(buf[pos : pos+n]), pos + n, nil
}
