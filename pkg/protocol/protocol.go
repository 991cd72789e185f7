// Package protocol orchestrates one experiment run: the diluent fill
// pass, the per-well cell transfers, and the induction pass. It owns the
// step sequencing and the safe-abort path; all liquid mechanics live in
// pkg/pipette and all allocation state in pkg/tips.
package protocol

import (
	"context"
	"fmt"

	"pipetbot-go/pkg/driver"
	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/log"
	"pipetbot-go/pkg/pipette"
	"pipetbot-go/pkg/plan"
)

// DefaultSmallVolumeThreshold splits cell transfers between the two
// instruments: volumes above it go to the large pipette.
const DefaultSmallVolumeThreshold = 10.0

// Liquid is a named reagent with its reservoir location.
type Liquid struct {
	Name string
	Loc  labware.Location
}

// Event is one run-progress notification, mirrored to the journal and
// the monitor feed.
type Event struct {
	Kind   string
	Fields map[string]any
}

// NotifyFunc receives run events. Notification must not block the run.
type NotifyFunc func(Event)

// Config assembles everything a run needs. Large handles the diluent
// fill and cell volumes above the threshold; Multi handles small cell
// volumes and the multichannel induction pickups.
type Config struct {
	Plan *plan.Plan

	Drv   driver.Driver
	Large *pipette.Instrument
	Multi *pipette.Instrument

	// Source is the culture plate, Dest the destination plate.
	Source *labware.Item
	Dest   *labware.Item

	Diluent Liquid
	Inducer Liquid

	// SmallVolumeThreshold selects the instrument per cell transfer;
	// zero selects DefaultSmallVolumeThreshold.
	SmallVolumeThreshold float64

	// Notify is optional.
	Notify NotifyFunc
}

// Run executes one plan. Construct with New, execute with Execute.
type Run struct {
	cfg    Config
	logger *log.Logger
}

// New validates the run configuration.
func New(cfg Config) (*Run, error) {
	if cfg.Plan == nil {
		return nil, fmt.Errorf("protocol: no plan")
	}
	if cfg.Drv == nil || cfg.Large == nil || cfg.Multi == nil {
		return nil, fmt.Errorf("protocol: driver and both instruments required")
	}
	if cfg.Source == nil || cfg.Dest == nil {
		return nil, fmt.Errorf("protocol: source and destination plates required")
	}
	if cfg.SmallVolumeThreshold == 0 {
		cfg.SmallVolumeThreshold = DefaultSmallVolumeThreshold
	}
	return &Run{cfg: cfg, logger: log.GetLogger("protocol")}, nil
}

func (r *Run) notify(kind string, fields map[string]any) {
	if r.cfg.Notify != nil {
		r.cfg.Notify(Event{Kind: kind, Fields: fields})
	}
}

func (r *Run) step(name string) {
	r.logger.Info("step: %s", name)
	r.notify("step", map[string]any{"name": name})
}

// Execute runs the full protocol. On any failure, and on context
// cancellation between operations, the abort path drops held tips and
// homes before returning the original error.
func (r *Run) Execute(ctx context.Context) error {
	r.notify("run_start", map[string]any{"protocol": r.cfg.Plan.Metadata.Name})
	err := r.execute(ctx)
	if err != nil {
		r.logger.Error("run aborted: %v", err)
		r.notify("run_error", map[string]any{"error": err.Error()})
		r.abort()
		return err
	}
	r.notify("run_finish", nil)
	return nil
}

func (r *Run) execute(ctx context.Context) error {
	r.step("home")
	if err := r.cfg.Drv.Home(); err != nil {
		return fmt.Errorf("protocol: home: %w", err)
	}
	if err := r.fillDiluent(ctx); err != nil {
		return err
	}
	if err := r.transferCells(ctx); err != nil {
		return err
	}
	if err := r.induce(ctx); err != nil {
		return err
	}
	r.step("home")
	if err := r.cfg.Drv.Home(); err != nil {
		return fmt.Errorf("protocol: final home: %w", err)
	}
	return nil
}

// abort leaves the robot in a known state: tips in the trash, gantry
// homed. Abort failures are logged, not returned; the run error wins.
func (r *Run) abort() {
	for _, ins := range []*pipette.Instrument{r.cfg.Large, r.cfg.Multi} {
		if err := ins.DropIfHeld(); err != nil {
			r.logger.Error("abort: drop %s tips: %v", ins.Name(), err)
		}
	}
	if err := r.cfg.Drv.Home(); err != nil {
		r.logger.Error("abort: home: %v", err)
	}
}

// fillDiluent adds each well's diluent volume from the reservoir with a
// single tip for the whole pass. Reverse pipetting keeps a margin in the
// tip across dispenses; the residual-return in Transfer sends it back to
// the reservoir before each re-aspiration.
func (r *Run) fillDiluent(ctx context.Context) error {
	r.step(fmt.Sprintf("fill %s", r.cfg.Diluent.Name))
	ins := r.cfg.Large
	if _, err := ins.PickUp(1); err != nil {
		return fmt.Errorf("protocol: fill pickup: %w", err)
	}
	for _, name := range r.cfg.Plan.SortedWells() {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.cfg.Plan.Wells[name]
		dest, err := r.cfg.Dest.Well(name)
		if err != nil {
			return fmt.Errorf("protocol: fill %s: %w", name, err)
		}
		held, err := ins.Transfer(pipette.TransferRequest{
			Volume:      w.DiluentVolume,
			Source:      r.cfg.Diluent.Loc,
			Destination: dest,
			TouchTip:    true,
			Reverse:     true,
		})
		if err != nil {
			return fmt.Errorf("protocol: fill %s: %w", name, err)
		}
		r.notify("transfer", map[string]any{
			"liquid": r.cfg.Diluent.Name, "volume": w.DiluentVolume,
			"dest": name, "held": held, "instrument": ins.Name(),
		})
	}
	if err := ins.Drop(); err != nil {
		return fmt.Errorf("protocol: fill drop: %w", err)
	}
	return nil
}

// transferCells moves each well's culture from the source plate with a
// fresh tip per well. Blank wells get no cell transfer at all; the
// instrument is chosen by the cell volume against the threshold.
func (r *Run) transferCells(ctx context.Context) error {
	r.step("transfer cells")
	for _, name := range r.cfg.Plan.SortedWells() {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.cfg.Plan.Wells[name]
		if w.IsBlank() {
			continue
		}
		ins := r.cfg.Multi
		if w.CellVolume > r.cfg.SmallVolumeThreshold {
			ins = r.cfg.Large
		}
		src, err := r.cfg.Source.Well(w.Source)
		if err != nil {
			return fmt.Errorf("protocol: cells %s: %w", name, err)
		}
		dest, err := r.cfg.Dest.Well(name)
		if err != nil {
			return fmt.Errorf("protocol: cells %s: %w", name, err)
		}
		if _, err := ins.PickUp(1); err != nil {
			return fmt.Errorf("protocol: cells %s: %w", name, err)
		}
		if _, err := ins.Transfer(pipette.TransferRequest{
			Volume:      w.CellVolume,
			Source:      src,
			Destination: dest,
			TouchTip:    true,
			Reverse:     true,
		}); err != nil {
			return fmt.Errorf("protocol: cells %s: %w", name, err)
		}
		if err := ins.Drop(); err != nil {
			return fmt.Errorf("protocol: cells %s: %w", name, err)
		}
		r.notify("transfer", map[string]any{
			"liquid": "cells", "volume": w.CellVolume,
			"source": w.Source, "dest": name, "instrument": ins.Name(),
		})
	}
	return nil
}
