// Package driver defines the instrument-control boundary: the primitive
// motions the robot controller executes on behalf of the orchestration.
// The engine decides which slot, volume and location; everything below
// that line (motor paths, flow rates, timings) belongs to the controller.
package driver

import (
	"errors"
	"fmt"
	"strings"

	"pipetbot-go/pkg/labware"
)

// Common errors
var (
	ErrUnknownMount = errors.New("driver: unknown mount")
	ErrClosed       = errors.New("driver: driver closed")
)

// Mount identifies one of the two instrument positions on the gantry.
type Mount int

const (
	MountLeft Mount = iota
	MountRight
)

func (m Mount) String() string {
	switch m {
	case MountLeft:
		return "left"
	case MountRight:
		return "right"
	default:
		return fmt.Sprintf("mount(%d)", int(m))
	}
}

// ParseMount parses a config mount name ("left" or "right").
func ParseMount(s string) (Mount, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return MountLeft, nil
	case "right":
		return MountRight, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMount, s)
	}
}

// Driver is the set of physical primitives the engine may request. Every
// call blocks until the controller reports the motion complete; there is
// no mid-motion cancellation. Volumes are microliters.
type Driver interface {
	// Home moves the gantry to its home position.
	Home() error

	// PickUpTip presses the mounted head onto the tips at slot. The slot
	// is the anchor (lowest-indexed row) of the claimed run; a multichannel
	// head covers the remaining rows.
	PickUpTip(mount Mount, slot labware.Location) error

	// DropTip ejects the held tips into the trash.
	DropTip(mount Mount) error

	// Aspirate draws volume from the location into the tip.
	Aspirate(mount Mount, volume float64, loc labware.Location) error

	// Dispense pushes volume from the tip into the location.
	Dispense(mount Mount, volume float64, loc labware.Location) error

	// BlowOut expels all remaining liquid at the location.
	BlowOut(mount Mount, loc labware.Location) error

	// TouchTip knocks the tip against the well sides to shed droplets.
	TouchTip(mount Mount, loc labware.Location) error

	// Close releases the controller link.
	Close() error
}
