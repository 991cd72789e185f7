// Package serial opens the byte link to the robot controller. A Port
// wraps either a real tty configured raw 8N1 or a stream socket
// carrying the same protocol, so the driver reads and writes one
// interface either way. Sockets cover the mock controller, both local
// (unix socket) and containerized (TCP).
package serial

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrClosed  = errors.New("serial: port closed")
	ErrTimeout = errors.New("serial: read timed out")
)

const (
	defaultBaud        = 250000
	defaultReadTimeout = 5 * time.Second
	connectTimeout     = 60 * time.Second
	connectRetry       = 100 * time.Millisecond
)

// Config selects the device and line settings for Open.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultConfig returns the controller's usual line settings.
func DefaultConfig() Config {
	return Config{Baud: defaultBaud, ReadTimeout: defaultReadTimeout}
}

// Port is an open controller link. Reads honor a timeout so a wedged
// controller surfaces as ErrTimeout instead of a hang.
type Port struct {
	mu      sync.Mutex
	fd      int
	file    *os.File // owns fd for TCP ports; nil otherwise
	name    string
	timeout time.Duration
	saved   *unix.Termios // tty state to restore on Close; nil for sockets
	closed  bool
}

// Open opens and configures a serial device. by-id symlinks under
// /dev/serial/ are resolved first so the name in errors matches what
// the kernel reports.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	device := cfg.Device
	if strings.HasPrefix(device, "/dev/serial/") {
		resolved, err := filepath.EvalSymlinks(device)
		if err != nil {
			return nil, fmt.Errorf("serial: resolve %s: %w", device, err)
		}
		device = resolved
	}

	// O_NONBLOCK so the open does not wait on modem signals; switched
	// back to blocking once the line is configured.
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", device, err)
	}

	saved, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios on %s: %w", device, err)
	}

	t := *saved
	rawMode(&t)
	if err := applySpeed(&t, cfg.Baud); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: %s: %w", device, err)
	}
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios on %s: %w", device, err)
	}
	if needsCustomSpeed(cfg.Baud) {
		if err := setCustomSpeed(fd, cfg.Baud); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("serial: %s: %w", device, err)
		}
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking on %s: %w", device, err)
	}

	return &Port{fd: fd, name: device, timeout: cfg.ReadTimeout, saved: saved}, nil
}

// rawMode strips all line discipline processing and sets 8N1. VMIN=0
// with VTIME=1 makes reads return whatever arrived within 100ms; the
// real wait is the poll in Read.
func rawMode(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
}

// OpenSocket connects to the mock controller's unix socket, retrying
// until the socket appears or the timeout runs out. The mock is often
// started in parallel with the host, so absence is transient.
func OpenSocket(path string, timeout time.Duration) (*Port, error) {
	if path == "" {
		return nil, errors.New("serial: socket path required")
	}
	if timeout == 0 {
		timeout = connectTimeout
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Connect(fd, addr)
		if err == nil {
			return &Port{fd: fd, name: path, timeout: defaultReadTimeout}, nil
		}
		transient := errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED)
		if !transient || time.Now().After(deadline) {
			unix.Close(fd)
			return nil, fmt.Errorf("serial: connect to %s: %w", path, err)
		}
		time.Sleep(connectRetry)
	}
}

// OpenTCP connects to a mock controller exposing a TCP port, retrying
// refused connections until the timeout runs out.
func OpenTCP(address string, timeout time.Duration) (*Port, error) {
	if address == "" {
		return nil, errors.New("serial: address required")
	}
	if timeout == 0 {
		timeout = connectTimeout
	}

	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", address, time.Until(deadline))
		if err == nil {
			f, ferr := conn.(*net.TCPConn).File()
			conn.Close()
			if ferr != nil {
				return nil, fmt.Errorf("serial: %s: %w", address, ferr)
			}
			return &Port{fd: int(f.Fd()), file: f, name: address, timeout: defaultReadTimeout}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("serial: connect to %s: %w", address, err)
		}
		time.Sleep(connectRetry)
	}
}

// ListPorts returns the serial devices present on this machine,
// resolved and deduplicated, in sorted order.
func ListPorts() ([]string, error) {
	patterns, err := devicePatterns()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ports []string
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if _, ok := seen[resolved]; ok {
				continue
			}
			seen[resolved] = struct{}{}
			ports = append(ports, resolved)
		}
	}
	sort.Strings(ports)
	return ports, nil
}

// Detect opens the first responsive serial device, for configs with
// link set to auto. It keeps rescanning until the timeout so a
// controller plugged in late is still found.
func Detect(cfg Config, timeout time.Duration) (*Port, error) {
	if timeout == 0 {
		timeout = connectTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		ports, err := ListPorts()
		if err != nil {
			return nil, err
		}
		for _, device := range ports {
			cfg.Device = device
			port, err := Open(cfg)
			if err == nil {
				return port, nil
			}
		}
		if time.Now().After(deadline) {
			if len(ports) == 0 {
				return nil, errors.New("serial: no serial devices found")
			}
			return nil, fmt.Errorf("serial: no controller on %v", ports)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Read reads up to len(buf) bytes, waiting at most the configured
// timeout for the first byte.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd, timeout := p.fd, p.timeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll %s: %w", p.name, err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read %s: %w", p.name, err)
	}
	return n, nil
}

// Write writes buf to the link.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write %s: %w", p.name, err)
	}
	return n, nil
}

// Close closes the link, restoring the tty's original settings on a
// real device. Closing twice is harmless.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.saved != nil {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.saved)
	}
	if p.file != nil {
		return p.file.Close()
	}
	return unix.Close(p.fd)
}

// Flush discards pending bytes in both directions. The driver flushes
// before resynchronizing after a protocol error.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.saved == nil {
		return nil // sockets have no line buffers to drop
	}
	return unix.IoctlSetInt(p.fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// Device returns the device path or address the port was opened on.
func (p *Port) Device() string { return p.name }

// SetReadTimeout changes the per-read timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}
