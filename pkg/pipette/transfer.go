package pipette

import (
	"fmt"

	"pipetbot-go/pkg/labware"
)

// TransferRequest describes one source-to-destination liquid move.
// Volume is the dispense volume in microliters; Source and Destination
// are opaque driver locations supplied by the deck layer.
type TransferRequest struct {
	Volume      float64
	Source      labware.Location
	Destination labware.Location

	// TouchTip knocks the tip against the destination well after dispense.
	TouchTip bool

	// BlowOut expels the tip's remaining contents at the destination.
	BlowOut bool

	// Reverse requests over-aspiration (reverse pipetting) when the tip
	// has the headroom for it.
	Reverse bool
}

func (r TransferRequest) String() string {
	return fmt.Sprintf("%.3fuL %s -> %s", r.Volume, r.Source, r.Destination)
}

// Transfer performs one volume-guarded transfer and returns the volume
// left in the tip afterwards (nonzero only when a reverse margin was
// aspirated and not blown out).
//
// Sequence: any residual volume from a prior operation is first returned
// to the source, so stale volume never crosses into an unrelated
// transfer. Then the guarded aspiration volume is computed against the
// now-empty tip and drawn, the originally requested volume (not the
// inflated one) is dispensed at the destination, and the optional
// blow-out and touch-tip follow. The guard always runs before the
// physical aspirate; a rejected volume aborts the transfer with
// ErrInsufficientCapacity.
func (ins *Instrument) Transfer(req TransferRequest) (float64, error) {
	if ins.held > 0 {
		if err := ins.drv.Dispense(ins.cfg.Mount, ins.held, req.Source); err != nil {
			return ins.held, fmt.Errorf("pipette: %s clear residual: %w", ins.cfg.Name, err)
		}
		ins.held = 0
	}

	chosen, err := ins.GuardedAspirateVolume(req.Volume, req.Reverse)
	if err != nil {
		return ins.held, err
	}

	if err := ins.drv.Aspirate(ins.cfg.Mount, chosen, req.Source); err != nil {
		return ins.held, fmt.Errorf("pipette: %s aspirate %s: %w", ins.cfg.Name, req, err)
	}
	ins.held += chosen

	if err := ins.drv.Dispense(ins.cfg.Mount, req.Volume, req.Destination); err != nil {
		return ins.held, fmt.Errorf("pipette: %s dispense %s: %w", ins.cfg.Name, req, err)
	}
	ins.held -= req.Volume

	if req.BlowOut {
		if err := ins.drv.BlowOut(ins.cfg.Mount, req.Destination); err != nil {
			return ins.held, fmt.Errorf("pipette: %s blow out at %s: %w", ins.cfg.Name, req.Destination, err)
		}
		ins.held = 0
	}
	if req.TouchTip {
		if err := ins.drv.TouchTip(ins.cfg.Mount, req.Destination); err != nil {
			return ins.held, fmt.Errorf("pipette: %s touch tip at %s: %w", ins.cfg.Name, req.Destination, err)
		}
	}
	return ins.held, nil
}
