// Package wire implements the framed binary protocol spoken on the robot
// controller link. Each frame carries a length byte, a sequence nibble,
// a VLQ-encoded command payload, a CRC-16 and a sync byte; the controller
// answers every command frame with exactly one response frame carrying
// the same sequence number.
package wire

import (
	"errors"
	"fmt"
)

// Frame layout constants.
const (
	FrameMin         = 5 // len + seq + crc16 + sync
	FrameMax         = 96
	FramePayloadMax  = FrameMax - FrameMin
	FrameDest        = 0x10
	FrameSync        = 0x7e
	FrameSeqMask     = 0x0f
	frameHeaderSize  = 2
	frameTrailerSize = 3
)

// Common errors
var (
	ErrFrameTooLarge = errors.New("wire: payload exceeds frame capacity")
	ErrBadFrame      = errors.New("wire: malformed frame")
	ErrBadCRC        = errors.New("wire: frame checksum mismatch")
)

// CRC16CCITT computes the frame checksum over the header and payload.
func CRC16CCITT(buf []byte) (byte, byte) {
	var crc uint16 = 0xffff
	for _, b := range buf {
		data := uint16(b)
		data ^= crc & 0xff
		data ^= (data & 0x0f) << 4
		crc = (crc >> 8) ^ (data << 8) ^ (data << 3) ^ (data >> 4)
	}
	return byte(crc >> 8), byte(crc & 0xff)
}

// EncodeFrame wraps a payload into a frame with the given sequence
// number. The sequence is masked to its nibble and tagged with the
// destination flag.
func EncodeFrame(seq int, payload []byte) ([]byte, error) {
	if len(payload) > FramePayloadMax {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, 0, FrameMin+len(payload))
	out = append(out, byte(FrameMin+len(payload)), byte(seq&FrameSeqMask|FrameDest))
	out = append(out, payload...)
	crcHi, crcLo := CRC16CCITT(out)
	out = append(out, crcHi, crcLo, FrameSync)
	return out, nil
}

// Frame is one decoded message.
type Frame struct {
	Seq     int
	Payload []byte
}

// DecodeFrame validates a complete frame buffer and extracts its
// sequence number and payload.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < FrameMin || int(buf[0]) != len(buf) {
		return Frame{}, fmt.Errorf("%w: length %d, header %d", ErrBadFrame, len(buf), buf[0])
	}
	if buf[len(buf)-1] != FrameSync {
		return Frame{}, fmt.Errorf("%w: missing sync byte", ErrBadFrame)
	}
	crcHi, crcLo := CRC16CCITT(buf[:len(buf)-frameTrailerSize])
	if buf[len(buf)-3] != crcHi || buf[len(buf)-2] != crcLo {
		return Frame{}, ErrBadCRC
	}
	return Frame{
		Seq:     int(buf[1] & FrameSeqMask),
		Payload: buf[frameHeaderSize : len(buf)-frameTrailerSize],
	}, nil
}
