//go:build linux

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH
)

// standardSpeeds maps the baud rates the kernel names to their codes.
var standardSpeeds = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// applySpeed sets the line rate. Rates without a named code, the
// controller's 250000 among them, go through BOTHER with the rate in
// the speed fields.
func applySpeed(t *unix.Termios, baud int) error {
	t.Cflag &^= unix.CBAUD
	if code, ok := standardSpeeds[baud]; ok {
		t.Cflag |= code
		t.Ispeed = code
		t.Ospeed = code
		return nil
	}
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	return nil
}

// BOTHER covers every rate here, so no post-termios ioctl is needed.
func needsCustomSpeed(int) bool { return false }

func setCustomSpeed(int, int) error { return nil }

func devicePatterns() ([]string, error) {
	return []string{
		"/dev/ttyUSB*",
		"/dev/ttyACM*",
		"/dev/serial/by-id/*",
	}, nil
}
