package driver

import (
	"fmt"
	"io"

	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/log"
	"pipetbot-go/pkg/wire"
)

// Wire is the production driver: it translates each primitive into one
// wire command on the controller link and waits for the acknowledgment.
type Wire struct {
	conn   *wire.Conn
	closer io.Closer
	logger *log.Logger

	// Version is the controller identification string, set by Identify.
	Version string
}

// NewWire wraps an open controller link. The transport is typically a
// serial.Port; ownership transfers, Close closes it.
func NewWire(rwc io.ReadWriteCloser) *Wire {
	return &Wire{
		conn:   wire.NewConn(rwc),
		closer: rwc,
		logger: log.GetLogger("driver"),
	}
}

// Identify queries the controller's identification string. Called once
// at startup before any motion.
func (w *Wire) Identify() (string, error) {
	version, err := w.conn.Roundtrip(wire.Command{ID: wire.CmdIdentify})
	if err != nil {
		return "", fmt.Errorf("driver: identify: %w", err)
	}
	w.Version = version
	w.logger.Info("controller identified: %s", version)
	return version, nil
}

func (w *Wire) roundtrip(cmd wire.Command) error {
	_, err := w.conn.Roundtrip(cmd)
	return err
}

func locCommand(id int32, mount Mount, loc labware.Location) wire.Command {
	return wire.Command{
		ID:      id,
		Mount:   int32(mount),
		Labware: loc.Labware,
		Well:    loc.Well,
		DepthUm: wire.DepthToUm(loc.Depth),
	}
}

func (w *Wire) Home() error {
	return w.roundtrip(wire.Command{ID: wire.CmdHome})
}

func (w *Wire) PickUpTip(mount Mount, slot labware.Location) error {
	return w.roundtrip(locCommand(wire.CmdPickUpTip, mount, slot))
}

func (w *Wire) DropTip(mount Mount) error {
	return w.roundtrip(wire.Command{ID: wire.CmdDropTip, Mount: int32(mount)})
}

func (w *Wire) Aspirate(mount Mount, volume float64, loc labware.Location) error {
	cmd := locCommand(wire.CmdAspirate, mount, loc)
	cmd.VolumeNl = wire.VolumeToNl(volume)
	return w.roundtrip(cmd)
}

func (w *Wire) Dispense(mount Mount, volume float64, loc labware.Location) error {
	cmd := locCommand(wire.CmdDispense, mount, loc)
	cmd.VolumeNl = wire.VolumeToNl(volume)
	return w.roundtrip(cmd)
}

func (w *Wire) BlowOut(mount Mount, loc labware.Location) error {
	return w.roundtrip(locCommand(wire.CmdBlowOut, mount, loc))
}

func (w *Wire) TouchTip(mount Mount, loc labware.Location) error {
	return w.roundtrip(locCommand(wire.CmdTouchTip, mount, loc))
}

func (w *Wire) Close() error {
	return w.closer.Close()
}
