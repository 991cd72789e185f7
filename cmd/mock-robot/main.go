// mock-robot simulates the robot controller for development and
// integration testing without hardware. It listens on a unix socket,
// speaks the wire protocol, and tracks just enough state (mounted tips,
// held volume per mount) to reject physically impossible sequences.
//
// Usage:
//
//	mock-robot -socket /tmp/pipetbot-robot [options]
//
// Options:
//
//	-socket string   Unix socket path (default /tmp/pipetbot-robot)
//	-delay duration  Per-operation latency (default 0)
//	-fail-at int     Reject the Nth operation (0 disables)
//	-trace           Print every command and response
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pipetbot-go/pkg/wire"
)

const version = "mock-robot v1.0"

// mountState is the simulated physical state of one gantry mount.
type mountState struct {
	hasTip bool
	heldNl int64
}

// robot is the simulated controller. State is per-process, not per
// connection, so a reconnecting host sees the same bench.
type robot struct {
	mu     sync.Mutex
	mounts map[int32]*mountState
	ops    int

	delay  time.Duration
	failAt int
	trace  bool
}

func newRobot(delay time.Duration, failAt int, trace bool) *robot {
	return &robot{
		mounts: map[int32]*mountState{0: {}, 1: {}},
		delay:  delay,
		failAt: failAt,
		trace:  trace,
	}
}

func main() {
	socketPath := flag.String("socket", "/tmp/pipetbot-robot", "Unix socket path")
	delay := flag.Duration("delay", 0, "Per-operation latency")
	failAt := flag.Int("fail-at", 0, "Reject the Nth operation (0 disables)")
	trace := flag.Bool("trace", false, "Print every command and response")
	flag.Parse()

	os.Remove(*socketPath)
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-robot: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()
	defer os.Remove(*socketPath)

	fmt.Printf("mock-robot listening on %s\n", *socketPath)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	rb := newRobot(*delay, *failAt, *trace)
	connCh := make(chan net.Conn)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nshutting down")
			return
		case conn := <-connCh:
			fmt.Println("host connected")
			go rb.serve(conn)
		}
	}
}

// serve runs the frame loop for one host connection.
func (rb *robot) serve(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		frame, err := readFrame(br)
		if err != nil {
			if err != io.EOF {
				fmt.Printf("host disconnected: %v\n", err)
			} else {
				fmt.Println("host disconnected")
			}
			return
		}
		resp, err := rb.handle(frame.Payload)
		if err != nil {
			// Undecodable payload inside a valid frame: drop it and let
			// the host time out and resend.
			if rb.trace {
				fmt.Printf("  bad payload: %v\n", err)
			}
			continue
		}
		out, err := wire.EncodeFrame(frame.Seq, resp)
		if err != nil {
			fmt.Printf("encode response: %v\n", err)
			return
		}
		if _, err := conn.Write(out); err != nil {
			fmt.Printf("write response: %v\n", err)
			return
		}
	}
}

// readFrame reads one well-formed frame, skipping to the next sync byte
// after garbage.
func readFrame(br *bufio.Reader) (wire.Frame, error) {
	for {
		lenByte, err := br.ReadByte()
		if err != nil {
			return wire.Frame{}, err
		}
		n := int(lenByte)
		if n < wire.FrameMin || n > wire.FrameMax {
			if err := resync(br); err != nil {
				return wire.Frame{}, err
			}
			continue
		}
		buf := make([]byte, n)
		buf[0] = lenByte
		if _, err := io.ReadFull(br, buf[1:]); err != nil {
			return wire.Frame{}, err
		}
		frame, err := wire.DecodeFrame(buf)
		if err != nil {
			if err := resync(br); err != nil {
				return wire.Frame{}, err
			}
			continue
		}
		return frame, nil
	}
}

func resync(br *bufio.Reader) error {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if b == wire.FrameSync {
			return nil
		}
	}
}

// handle executes one command and builds the response payload.
func (rb *robot) handle(payload []byte) ([]byte, error) {
	cmd, err := wire.DecodeCommand(payload)
	if err != nil {
		return nil, err
	}

	rb.mu.Lock()
	rb.ops++
	op := rb.ops
	rb.mu.Unlock()

	if rb.trace {
		fmt.Printf("op %d: %s\n", op, describe(cmd))
	}
	if rb.delay > 0 {
		time.Sleep(rb.delay)
	}
	if rb.failAt > 0 && op == rb.failAt {
		if rb.trace {
			fmt.Printf("  injected failure at op %d\n", op)
		}
		return wire.EncodeAck(fmt.Sprintf("injected failure at op %d", op))
	}

	if cmd.ID == wire.CmdIdentify {
		return wire.EncodeIdentifyResponse(version)
	}
	if msg := rb.apply(cmd); msg != "" {
		return wire.EncodeAck(msg)
	}
	return wire.EncodeAck("")
}

// apply updates the simulated bench state; a non-empty result is the
// rejection message.
func (rb *robot) apply(cmd wire.Command) string {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	m, ok := rb.mounts[cmd.Mount]
	if !ok {
		return fmt.Sprintf("unknown mount %d", cmd.Mount)
	}
	switch cmd.ID {
	case wire.CmdHome:
		return ""
	case wire.CmdPickUpTip:
		if m.hasTip {
			return fmt.Sprintf("mount %d already holds tips", cmd.Mount)
		}
		m.hasTip = true
		m.heldNl = 0
	case wire.CmdDropTip:
		if !m.hasTip {
			return fmt.Sprintf("mount %d has no tips", cmd.Mount)
		}
		m.hasTip = false
		m.heldNl = 0
	case wire.CmdAspirate:
		if !m.hasTip {
			return fmt.Sprintf("mount %d has no tips", cmd.Mount)
		}
		m.heldNl += int64(cmd.VolumeNl)
	case wire.CmdDispense:
		if !m.hasTip {
			return fmt.Sprintf("mount %d has no tips", cmd.Mount)
		}
		if int64(cmd.VolumeNl) > m.heldNl {
			return fmt.Sprintf("mount %d holds %dnl, cannot dispense %dnl", cmd.Mount, m.heldNl, cmd.VolumeNl)
		}
		m.heldNl -= int64(cmd.VolumeNl)
	case wire.CmdBlowOut:
		if !m.hasTip {
			return fmt.Sprintf("mount %d has no tips", cmd.Mount)
		}
		m.heldNl = 0
	case wire.CmdTouchTip:
		if !m.hasTip {
			return fmt.Sprintf("mount %d has no tips", cmd.Mount)
		}
	}
	return ""
}

func describe(cmd wire.Command) string {
	switch cmd.ID {
	case wire.CmdIdentify:
		return "identify"
	case wire.CmdHome:
		return "home"
	case wire.CmdPickUpTip:
		return fmt.Sprintf("pick_up_tip mount=%d %s/%s", cmd.Mount, cmd.Labware, cmd.Well)
	case wire.CmdDropTip:
		return fmt.Sprintf("drop_tip mount=%d", cmd.Mount)
	case wire.CmdAspirate:
		return fmt.Sprintf("aspirate mount=%d %dnl %s/%s", cmd.Mount, cmd.VolumeNl, cmd.Labware, cmd.Well)
	case wire.CmdDispense:
		return fmt.Sprintf("dispense mount=%d %dnl %s/%s", cmd.Mount, cmd.VolumeNl, cmd.Labware, cmd.Well)
	case wire.CmdBlowOut:
		return fmt.Sprintf("blow_out mount=%d %s/%s", cmd.Mount, cmd.Labware, cmd.Well)
	case wire.CmdTouchTip:
		return fmt.Sprintf("touch_tip mount=%d %s/%s", cmd.Mount, cmd.Labware, cmd.Well)
	default:
		return fmt.Sprintf("command %d", cmd.ID)
	}
}
