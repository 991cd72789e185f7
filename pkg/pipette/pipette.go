// Package pipette implements the instrument controller: tip pickup and
// drop with explicit refill recovery, held-volume accounting against tip
// capacity, and the guarded aspirate/dispense transfer sequence.
//
// An Instrument composes a driver handle with its allocation and volume
// state; it never reaches into the driver's internals. The run is
// single-threaded, so the controller holds no locks of its own; rack
// state, which the monitor also reads, is guarded inside pkg/tips.
package pipette

import (
	"errors"
	"fmt"

	"pipetbot-go/pkg/driver"
	"pipetbot-go/pkg/log"
	"pipetbot-go/pkg/tips"
)

// Common errors
var (
	ErrInvalidTipCount      = errors.New("pipette: invalid tip count for channel geometry")
	ErrInsufficientCapacity = errors.New("pipette: volume exceeds available tip capacity")
	ErrTipHeld              = errors.New("pipette: tips already mounted")
	ErrNoTip                = errors.New("pipette: no tips mounted")
)

// DefaultReverseFactor is the over-aspiration multiplier applied when a
// transfer requests reverse pipetting and the tip has the headroom for it.
const DefaultReverseFactor = 1.1

// Config fixes one instrument's geometry and volume envelope.
type Config struct {
	// Name is the config section name, e.g. "left". Used in prompts and logs.
	Name string

	// Model is the instrument model string, e.g. "p300_single".
	Model string

	Mount    driver.Mount
	Channels int

	// MaxVolume is the rated maximum aspiration volume in microliters.
	MaxVolume float64

	// ReverseFactor is the over-aspiration multiplier for reverse
	// pipetting; zero selects DefaultReverseFactor.
	ReverseFactor float64
}

// Instrument is one mounted pipette: driver handle, tip racks in search
// order, the currently mounted tip set and the held liquid volume.
type Instrument struct {
	cfg    Config
	drv    driver.Driver
	racks  []*tips.Rack
	refill *tips.RefillCoordinator
	logger *log.Logger

	tipset *tips.TipSet // nil while no tips are mounted
	held   float64      // microliters currently in the tip

	// onPickUp/onDrop observe completed tip motions (journal/monitor).
	onPickUp func(ins *Instrument, span tips.Span)
	onDrop   func(ins *Instrument)
}

// New builds an instrument controller. Racks are searched in the given
// order; the first rack with a satisfying run wins. The refill coordinator
// is the single recovery path when every rack is exhausted.
func New(cfg Config, drv driver.Driver, racks []*tips.Rack, refill *tips.RefillCoordinator) (*Instrument, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("pipette: %s: channel count %d", cfg.Name, cfg.Channels)
	}
	if cfg.MaxVolume <= 0 {
		return nil, fmt.Errorf("pipette: %s: max volume %v", cfg.Name, cfg.MaxVolume)
	}
	if len(racks) == 0 {
		return nil, fmt.Errorf("pipette: %s: no tip racks configured", cfg.Name)
	}
	if cfg.ReverseFactor == 0 {
		cfg.ReverseFactor = DefaultReverseFactor
	}
	return &Instrument{
		cfg:    cfg,
		drv:    drv,
		racks:  racks,
		refill: refill,
		logger: log.GetLogger("pipette." + cfg.Name),
	}, nil
}

// Name returns the instrument's config name.
func (ins *Instrument) Name() string { return ins.cfg.Name }

// Model returns the instrument model string.
func (ins *Instrument) Model() string { return ins.cfg.Model }

// Mount returns the gantry mount this instrument occupies.
func (ins *Instrument) Mount() driver.Mount { return ins.cfg.Mount }

// Channels returns the channel count of the head.
func (ins *Instrument) Channels() int { return ins.cfg.Channels }

// MaxVolume returns the rated maximum volume in microliters.
func (ins *Instrument) MaxVolume() float64 { return ins.cfg.MaxVolume }

// Racks returns the tip racks in search order.
func (ins *Instrument) Racks() []*tips.Rack { return ins.racks }

// HasTip reports whether tips are currently mounted.
func (ins *Instrument) HasTip() bool { return ins.tipset != nil }

// TipSet returns the mounted tip set, or nil.
func (ins *Instrument) TipSet() *tips.TipSet { return ins.tipset }

// HeldVolume returns the liquid volume currently in the tip.
func (ins *Instrument) HeldVolume() float64 { return ins.held }

// SetPickUpCallback registers an observer for completed pickups.
func (ins *Instrument) SetPickUpCallback(fn func(ins *Instrument, span tips.Span)) {
	ins.onPickUp = fn
}

// SetDropCallback registers an observer for completed drops.
func (ins *Instrument) SetDropCallback(fn func(ins *Instrument)) {
	ins.onDrop = fn
}

// tipCapacity bounds a claimed tip's working volume: the lesser of the
// rack's nominal tip volume and the instrument's rated maximum.
func (ins *Instrument) tipCapacity(r *tips.Rack) float64 {
	if r.TipVolume() < ins.cfg.MaxVolume {
		return r.TipVolume()
	}
	return ins.cfg.MaxVolume
}

// PickUp claims a contiguous run of count tips and presses the head onto
// its anchor slot. Count must be positive and within the channel count.
//
// When no rack has a satisfying run, the instrument runs exactly one
// refill cycle (a blocking operator prompt followed by resetting every
// configured rack) and retries the identical request once. A second miss
// is fatal for the run (tips.ErrOutOfTips).
func (ins *Instrument) PickUp(count int) (*tips.TipSet, error) {
	if count < 1 || count > ins.cfg.Channels {
		return nil, fmt.Errorf("%w: %d on %d-channel %s", ErrInvalidTipCount, count, ins.cfg.Channels, ins.cfg.Name)
	}
	if ins.tipset != nil {
		return nil, fmt.Errorf("%w: %s holds %s", ErrTipHeld, ins.cfg.Name, ins.tipset.Span)
	}

	span, ok := tips.NextAvailable(ins.racks, count)
	if !ok {
		// Exhausted: one refill cycle, then the one retry.
		ins.logger.Warn("out of tips, requesting rack replacement")
		if err := ins.refill.RequestRefill(ins.cfg.Name, ins.racks); err != nil {
			return nil, err
		}
		span, ok = tips.NextAvailable(ins.racks, count)
		if !ok {
			return nil, fmt.Errorf("%w: no run of %d tips after refill on %s", tips.ErrOutOfTips, count, ins.cfg.Name)
		}
	}
	if err := span.Rack.Claim(span.Column, span.Row, span.Count); err != nil {
		return nil, err
	}
	if err := ins.drv.PickUpTip(ins.cfg.Mount, span.Anchor()); err != nil {
		return nil, fmt.Errorf("pipette: %s pick up at %s: %w", ins.cfg.Name, span, err)
	}
	ins.tipset = &tips.TipSet{Span: span, Capacity: ins.tipCapacity(span.Rack)}
	ins.held = 0
	ins.logger.Debug("picked up %s", span)
	if ins.onPickUp != nil {
		ins.onPickUp(ins, span)
	}
	return ins.tipset, nil
}

// Drop ejects the mounted tips into the trash. Used tips never return to
// the rack; the claimed slots stay empty until a physical replacement.
func (ins *Instrument) Drop() error {
	if ins.tipset == nil {
		return fmt.Errorf("%w: %s", ErrNoTip, ins.cfg.Name)
	}
	if err := ins.drv.DropTip(ins.cfg.Mount); err != nil {
		return fmt.Errorf("pipette: %s drop tip: %w", ins.cfg.Name, err)
	}
	ins.logger.Debug("dropped %s", ins.tipset.Span)
	ins.tipset = nil
	ins.held = 0
	if ins.onDrop != nil {
		ins.onDrop(ins)
	}
	return nil
}

// DropIfHeld drops mounted tips and is a no-op otherwise. The run-level
// abort path uses it to leave the instrument in a known state.
func (ins *Instrument) DropIfHeld() error {
	if ins.tipset == nil {
		return nil
	}
	return ins.Drop()
}

// AvailableVolume returns the instrument's current aspiration headroom in
// microliters. With tips mounted this is the tip capacity minus the held
// volume. Without tips it is a lookahead: the capacity the next
// single-tip claim would have, without claiming it.
func (ins *Instrument) AvailableVolume() (float64, error) {
	if ins.tipset != nil {
		return ins.tipset.Capacity - ins.held, nil
	}
	span, ok := tips.NextAvailable(ins.racks, 1)
	if !ok {
		return 0, fmt.Errorf("%w: no tip to size headroom for %s", tips.ErrOutOfTips, ins.cfg.Name)
	}
	return ins.tipCapacity(span.Rack), nil
}

// GuardedAspirateVolume computes the volume a transfer may aspirate for a
// requested dispense volume. With reverse set and headroom for it, the
// request is inflated by the reverse factor to prime the tip for a more
// accurate dispense. The chosen volume must fit the headroom exactly;
// comparisons are exact, not approximate.
func (ins *Instrument) GuardedAspirateVolume(requested float64, reverse bool) (float64, error) {
	headroom, err := ins.AvailableVolume()
	if err != nil {
		return 0, err
	}
	chosen := requested
	if reverse && requested*ins.cfg.ReverseFactor <= headroom {
		chosen = requested * ins.cfg.ReverseFactor
	}
	if chosen > headroom {
		return 0, fmt.Errorf("%w: %v requested, %v available on %s", ErrInsufficientCapacity, chosen, headroom, ins.cfg.Name)
	}
	return chosen, nil
}
