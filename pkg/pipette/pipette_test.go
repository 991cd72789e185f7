package pipette

import (
	"errors"
	"testing"

	"pipetbot-go/pkg/driver"
	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/tips"
)

type autoConfirm struct {
	prompts []string
	err     error
}

func (a *autoConfirm) Confirm(prompt string) error {
	a.prompts = append(a.prompts, prompt)
	return a.err
}

type fixture struct {
	drv     *driver.Sim
	rack    *tips.Rack
	confirm *autoConfirm
	ins     *Instrument
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	def, err := labware.Lookup("opentrons_96_tiprack_300ul")
	if err != nil {
		t.Fatalf("lookup tiprack: %v", err)
	}
	deck := labware.NewDeck()
	item, err := deck.Load("tiprack", 8, def)
	if err != nil {
		t.Fatalf("load tiprack: %v", err)
	}
	rack, err := tips.NewRack(item)
	if err != nil {
		t.Fatalf("NewRack: %v", err)
	}
	drv := driver.NewSim()
	confirm := &autoConfirm{}
	ins, err := New(cfg, drv, []*tips.Rack{rack}, tips.NewRefillCoordinator(confirm))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{drv: drv, rack: rack, confirm: confirm, ins: ins}
}

func multiConfig() Config {
	return Config{Name: "right", Model: "p300_multi", Mount: driver.MountRight, Channels: 8, MaxVolume: 300}
}

func singleConfig() Config {
	return Config{Name: "left", Model: "p300_single", Mount: driver.MountLeft, Channels: 1, MaxVolume: 300}
}

func (f *fixture) pickUp(t *testing.T, count int) *tips.TipSet {
	t.Helper()
	ts, err := f.ins.PickUp(count)
	if err != nil {
		t.Fatalf("PickUp(%d): %v", count, err)
	}
	return ts
}

func (f *fixture) drainRack(t *testing.T) {
	t.Helper()
	for col := 0; col < f.rack.Columns(); col++ {
		if err := f.rack.Claim(col, 0, f.rack.Rows()); err != nil {
			t.Fatalf("drain column %d: %v", col, err)
		}
	}
}

func loc(well string) labware.Location {
	return labware.Location{Labware: "plate", Well: well}
}

func TestPickUpValidatesCount(t *testing.T) {
	f := newFixture(t, multiConfig())
	for _, count := range []int{0, -1, 9} {
		if _, err := f.ins.PickUp(count); !errors.Is(err, ErrInvalidTipCount) {
			t.Errorf("PickUp(%d) = %v, want ErrInvalidTipCount", count, err)
		}
	}
	// Invalid requests never prompt the operator or touch the driver.
	if len(f.confirm.prompts) != 0 {
		t.Errorf("invalid request prompted the operator")
	}
	if len(f.drv.Ops()) != 0 {
		t.Errorf("invalid request reached the driver: %v", f.drv.OpNames())
	}

	single := newFixture(t, singleConfig())
	if _, err := single.ins.PickUp(2); !errors.Is(err, ErrInvalidTipCount) {
		t.Errorf("PickUp(2) on single channel = %v, want ErrInvalidTipCount", err)
	}
}

func TestPickUpBottomAnchored(t *testing.T) {
	f := newFixture(t, multiConfig())
	ts := f.pickUp(t, 3)

	// Full rack, 3 tips: rows 5..7 of column 0, anchored at F1.
	if ts.Span.Column != 0 || ts.Span.Row != 5 || ts.Span.Count != 3 {
		t.Fatalf("span = col %d row %d count %d, want col 0 row 5 count 3", ts.Span.Column, ts.Span.Row, ts.Span.Count)
	}
	ops := f.drv.Ops()
	if len(ops) != 1 || ops[0].Name != "pick_up_tip" {
		t.Fatalf("driver ops = %v, want one pick_up_tip", f.drv.OpNames())
	}
	if ops[0].Loc.Well != "F1" || ops[0].Loc.Labware != "tiprack" {
		t.Errorf("pickup anchor = %s, want tiprack/F1", ops[0].Loc)
	}
	if ops[0].Mount != driver.MountRight {
		t.Errorf("pickup mount = %s, want right", ops[0].Mount)
	}
	for row := 5; row < 8; row++ {
		if f.rack.HasTip(0, row) {
			t.Errorf("claimed slot (0,%d) still reports a tip", row)
		}
	}
}

func TestPickUpWhileHoldingTips(t *testing.T) {
	f := newFixture(t, multiConfig())
	f.pickUp(t, 1)
	if _, err := f.ins.PickUp(1); !errors.Is(err, ErrTipHeld) {
		t.Fatalf("second PickUp = %v, want ErrTipHeld", err)
	}
}

func TestPickUpRefillsExactlyOnce(t *testing.T) {
	f := newFixture(t, multiConfig())
	f.drainRack(t)

	ts := f.pickUp(t, 2)
	if len(f.confirm.prompts) != 1 {
		t.Fatalf("refill prompts = %d, want exactly 1", len(f.confirm.prompts))
	}
	// After the refill the request succeeds against the replaced rack.
	if ts.Span.Row != 6 || ts.Span.Column != 0 {
		t.Errorf("post-refill span = col %d row %d, want col 0 row 6", ts.Span.Column, ts.Span.Row)
	}
	if f.rack.Remaining() != 94 {
		t.Errorf("remaining after refill+claim = %d, want 94", f.rack.Remaining())
	}
}

func TestPickUpOutOfTipsAfterRefill(t *testing.T) {
	// An 8-row rack can never satisfy a 9-run; refill must be attempted
	// once and the second miss is fatal. Channels=9 keeps the request
	// valid so exhaustion is the failure under test.
	f := newFixture(t, Config{Name: "wide", Mount: driver.MountLeft, Channels: 9, MaxVolume: 300})
	if _, err := f.ins.PickUp(9); !errors.Is(err, tips.ErrOutOfTips) {
		t.Fatalf("PickUp(9) = %v, want ErrOutOfTips", err)
	}
	if len(f.confirm.prompts) != 1 {
		t.Errorf("refill prompts = %d, want exactly 1", len(f.confirm.prompts))
	}
	if len(f.drv.Ops()) != 0 {
		t.Errorf("failed pickup reached the driver: %v", f.drv.OpNames())
	}
}

func TestPickUpRefillDenied(t *testing.T) {
	f := newFixture(t, multiConfig())
	f.drainRack(t)
	f.confirm.err = errors.New("operator input closed")
	if _, err := f.ins.PickUp(1); !errors.Is(err, tips.ErrNotConfirmed) {
		t.Fatalf("PickUp = %v, want ErrNotConfirmed", err)
	}
}

func TestDrop(t *testing.T) {
	f := newFixture(t, multiConfig())
	if err := f.ins.Drop(); !errors.Is(err, ErrNoTip) {
		t.Fatalf("Drop without tips = %v, want ErrNoTip", err)
	}

	f.pickUp(t, 1)
	if err := f.ins.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if f.ins.HasTip() {
		t.Errorf("instrument still reports tips after drop")
	}
	// Dropped tips go to the trash, never back into the rack.
	if f.rack.Remaining() != 95 {
		t.Errorf("remaining after drop = %d, want 95", f.rack.Remaining())
	}

	// DropIfHeld is a no-op without tips.
	if err := f.ins.DropIfHeld(); err != nil {
		t.Fatalf("DropIfHeld: %v", err)
	}
}

func TestAvailableVolume(t *testing.T) {
	f := newFixture(t, multiConfig())

	// No tip mounted: lookahead at the next claimable tip, no claim made.
	headroom, err := f.ins.AvailableVolume()
	if err != nil {
		t.Fatalf("AvailableVolume: %v", err)
	}
	if headroom != 300 {
		t.Errorf("lookahead headroom = %v, want 300", headroom)
	}
	if f.rack.Remaining() != 96 {
		t.Errorf("lookahead claimed tips: %d remaining", f.rack.Remaining())
	}

	// Lookahead with every rack drained is an out-of-tips condition.
	f.drainRack(t)
	if _, err := f.ins.AvailableVolume(); !errors.Is(err, tips.ErrOutOfTips) {
		t.Errorf("drained lookahead = %v, want ErrOutOfTips", err)
	}
}

func TestAvailableVolumeCapacityBounds(t *testing.T) {
	// A 300 uL tip on a 20 uL instrument is bounded by the instrument.
	f := newFixture(t, Config{Name: "right", Mount: driver.MountRight, Channels: 8, MaxVolume: 20})
	headroom, err := f.ins.AvailableVolume()
	if err != nil {
		t.Fatalf("AvailableVolume: %v", err)
	}
	if headroom != 20 {
		t.Errorf("headroom = %v, want 20 (instrument bound)", headroom)
	}

	f.pickUp(t, 1)
	headroom, err = f.ins.AvailableVolume()
	if err != nil {
		t.Fatalf("AvailableVolume with tip: %v", err)
	}
	if headroom != 20 {
		t.Errorf("mounted headroom = %v, want 20", headroom)
	}
}

func TestGuardedAspirateVolume(t *testing.T) {
	// 10 uL headroom via a 10 uL instrument bound.
	f := newFixture(t, Config{Name: "right", Mount: driver.MountRight, Channels: 8, MaxVolume: 10})
	f.pickUp(t, 1)

	// Plain request within headroom passes through unchanged.
	v, err := f.ins.GuardedAspirateVolume(10, false)
	if err != nil || v != 10 {
		t.Errorf("guarded(10, plain) = %v, %v; want 10, nil", v, err)
	}

	// Request over headroom is rejected.
	if _, err := f.ins.GuardedAspirateVolume(15, false); !errors.Is(err, ErrInsufficientCapacity) {
		t.Errorf("guarded(15, plain) = %v, want ErrInsufficientCapacity", err)
	}

	// Reverse inflates by the factor when the margin fits (9*1.1 <= 10).
	v, err = f.ins.GuardedAspirateVolume(9, true)
	if err != nil {
		t.Fatalf("guarded(9, reverse): %v", err)
	}
	if v != 9*DefaultReverseFactor {
		t.Errorf("guarded(9, reverse) = %v, want %v", v, 9*DefaultReverseFactor)
	}

	// Reverse falls back to the plain volume when the margin does not fit.
	v, err = f.ins.GuardedAspirateVolume(10, true)
	if err != nil || v != 10 {
		t.Errorf("guarded(10, reverse) = %v, %v; want 10, nil", v, err)
	}

	// Even the plain volume over headroom fails under reverse.
	if _, err := f.ins.GuardedAspirateVolume(15, true); !errors.Is(err, ErrInsufficientCapacity) {
		t.Errorf("guarded(15, reverse) = %v, want ErrInsufficientCapacity", err)
	}
}

func TestTransferPlain(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)
	f.drv.Reset()

	held, err := f.ins.Transfer(TransferRequest{Volume: 50, Source: loc("A1"), Destination: loc("B2")})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if held != 0 {
		t.Errorf("held after plain transfer = %v, want 0", held)
	}
	names := f.drv.OpNames()
	want := []string{"aspirate", "dispense"}
	if len(names) != len(want) {
		t.Fatalf("driver ops = %v, want %v", names, want)
	}
	ops := f.drv.Ops()
	if ops[0].Volume != 50 || ops[0].Loc.Well != "A1" {
		t.Errorf("aspirate = %v", ops[0])
	}
	if ops[1].Volume != 50 || ops[1].Loc.Well != "B2" {
		t.Errorf("dispense = %v", ops[1])
	}
}

func TestTransferReverseKeepsMargin(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)
	f.drv.Reset()

	held, err := f.ins.Transfer(TransferRequest{Volume: 100, Source: loc("A1"), Destination: loc("B2"), Reverse: true})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	// The over-aspirated margin stays in the tip. Compute the expectation
	// through a variable so it folds the same way the runtime does.
	factor := DefaultReverseFactor
	wantHeld := 100*factor - 100
	if held != wantHeld {
		t.Errorf("held = %v, want %v", held, wantHeld)
	}
	ops := f.drv.Ops()
	if ops[0].Name != "aspirate" || ops[0].Volume != 100*factor {
		t.Errorf("aspirate = %v, want %v uL", ops[0], 100*factor)
	}
	if ops[1].Name != "dispense" || ops[1].Volume != 100 {
		t.Errorf("dispense = %v, want the requested 100 uL", ops[1])
	}
}

func TestTransferClearsResidualToSource(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)

	// First transfer leaves a reverse margin in the tip.
	if _, err := f.ins.Transfer(TransferRequest{Volume: 100, Source: loc("A1"), Destination: loc("B2"), Reverse: true}); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	f.drv.Reset()

	// The next transfer returns that margin to its own source first.
	held, err := f.ins.Transfer(TransferRequest{Volume: 50, Source: loc("A3"), Destination: loc("C4")})
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if held != 0 {
		t.Errorf("held = %v, want 0", held)
	}
	ops := f.drv.Ops()
	if len(ops) != 3 {
		t.Fatalf("driver ops = %v, want residual dispense + aspirate + dispense", f.drv.OpNames())
	}
	factor := DefaultReverseFactor
	margin := 100*factor - 100
	if ops[0].Name != "dispense" || ops[0].Volume != margin || ops[0].Loc.Well != "A3" {
		t.Errorf("residual clear = %v, want %v uL into A3", ops[0], margin)
	}
}

func TestTransferBlowOutAndTouchTip(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)
	f.drv.Reset()

	held, err := f.ins.Transfer(TransferRequest{
		Volume: 100, Source: loc("A1"), Destination: loc("B2"),
		Reverse: true, BlowOut: true, TouchTip: true,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	// Blow-out empties the tip even though a reverse margin was aspirated.
	if held != 0 {
		t.Errorf("held after blow-out = %v, want 0", held)
	}
	names := f.drv.OpNames()
	want := []string{"aspirate", "dispense", "blow_out", "touch_tip"}
	if len(names) != len(want) {
		t.Fatalf("driver ops = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("driver ops = %v, want %v", names, want)
		}
	}
}

func TestTransferRejectsOversizedVolume(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)
	f.drv.Reset()

	if _, err := f.ins.Transfer(TransferRequest{Volume: 400, Source: loc("A1"), Destination: loc("B2")}); !errors.Is(err, ErrInsufficientCapacity) {
		t.Fatalf("oversized transfer = %v, want ErrInsufficientCapacity", err)
	}
	// The guard runs before any aspirate reaches the driver.
	if len(f.drv.Ops()) != 0 {
		t.Errorf("rejected transfer reached the driver: %v", f.drv.OpNames())
	}
}

func TestPickUpZeroesHeldVolume(t *testing.T) {
	f := newFixture(t, singleConfig())
	f.pickUp(t, 1)
	if _, err := f.ins.Transfer(TransferRequest{Volume: 100, Source: loc("A1"), Destination: loc("B2"), Reverse: true}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.ins.HeldVolume() == 0 {
		t.Fatalf("expected a reverse margin in the tip")
	}
	if err := f.ins.Drop(); err != nil {
		t.Fatalf("drop: %v", err)
	}
	f.pickUp(t, 1)
	if f.ins.HeldVolume() != 0 {
		t.Errorf("held after fresh pickup = %v, want 0", f.ins.HeldVolume())
	}
}
