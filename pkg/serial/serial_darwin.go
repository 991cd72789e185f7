//go:build darwin

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)

// iossiospeed is the driver ioctl for rates the termios constants do
// not name, such as the controller's 250000.
const iossiospeed = 0x80045402

// applySpeed sets the line rate. Named rates go in the termios speed
// fields; anything else is deferred to an IOSSIOSPEED ioctl after the
// termios settings are applied.
func applySpeed(t *unix.Termios, baud int) error {
	switch baud {
	case 9600, 19200, 38400, 57600, 115200, 230400:
		t.Ispeed = uint64(baud)
		t.Ospeed = uint64(baud)
		return nil
	}
	// Leave the termios rate alone; setCustomSpeed finishes the job.
	return nil
}

// setCustomSpeed applies a non-standard rate via IOSSIOSPEED.
func setCustomSpeed(fd, baud int) error {
	if err := unix.IoctlSetPointerInt(fd, iossiospeed, baud); err != nil {
		return fmt.Errorf("set speed %d: %w", baud, err)
	}
	return nil
}

// needsCustomSpeed reports whether applySpeed deferred this rate.
func needsCustomSpeed(baud int) bool {
	switch baud {
	case 9600, 19200, 38400, 57600, 115200, 230400:
		return false
	}
	return true
}

func devicePatterns() ([]string, error) {
	return []string{
		"/dev/cu.usbserial*",
		"/dev/cu.usbmodem*",
	}, nil
}
