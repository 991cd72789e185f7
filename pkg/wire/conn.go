package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Conn drives the command/response exchange over a reliable byte stream
// (serial port or unix socket). One command is in flight at a time,
// matching the single-threaded run model; Roundtrip serializes callers.
type Conn struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	br  *bufio.Reader
	seq int
}

// NewConn wraps a transport stream.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, br: bufio.NewReader(rw)}
}

// Roundtrip sends one command and waits for the controller's response
// frame. A response with a stale sequence number is discarded and the
// read continues; a checksum failure resynchronizes on the next sync
// byte before giving up on the exchange.
func (c *Conn) Roundtrip(cmd Command) (version string, err error) {
	payload, err := cmd.Encode()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq = (c.seq + 1) & FrameSeqMask
	frame, err := EncodeFrame(c.seq, payload)
	if err != nil {
		return "", err
	}
	if _, err := c.rw.Write(frame); err != nil {
		return "", fmt.Errorf("wire: write command %d: %w", cmd.ID, err)
	}

	for {
		resp, err := c.readFrame()
		if err != nil {
			return "", fmt.Errorf("wire: response to command %d: %w", cmd.ID, err)
		}
		if resp.Seq != c.seq {
			continue
		}
		return DecodeResponse(resp.Payload)
	}
}

// readFrame reads one well-formed frame from the stream.
func (c *Conn) readFrame() (Frame, error) {
	for {
		lenByte, err := c.br.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		n := int(lenByte)
		if n < FrameMin || n > FrameMax {
			// Mid-frame garbage: skip to the next sync byte.
			if err := c.resync(); err != nil {
				return Frame{}, err
			}
			continue
		}
		buf := make([]byte, n)
		buf[0] = lenByte
		if _, err := io.ReadFull(c.br, buf[1:]); err != nil {
			return Frame{}, err
		}
		frame, err := DecodeFrame(buf)
		if err != nil {
			if err := c.resync(); err != nil {
				return Frame{}, err
			}
			continue
		}
		return frame, nil
	}
}

// resync discards input through the next sync byte.
func (c *Conn) resync() error {
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return err
		}
		if b == FrameSync {
			return nil
		}
	}
}
