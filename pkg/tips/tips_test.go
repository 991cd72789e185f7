package tips

import (
	"errors"
	"testing"

	"pipetbot-go/pkg/labware"
)

func testRack(t *testing.T, name string) *Rack {
	t.Helper()
	def, err := labware.Lookup("opentrons_96_tiprack_300ul")
	if err != nil {
		t.Fatalf("lookup tiprack: %v", err)
	}
	deck := labware.NewDeck()
	item, err := deck.Load(name, 8, def)
	if err != nil {
		t.Fatalf("load tiprack: %v", err)
	}
	r, err := NewRack(item)
	if err != nil {
		t.Fatalf("NewRack: %v", err)
	}
	return r
}

func TestNewRackRejectsNonTipRack(t *testing.T) {
	def, _ := labware.Lookup("nest_96_wellplate_200ul_flat")
	deck := labware.NewDeck()
	item, _ := deck.Load("plate", 4, def)
	if _, err := NewRack(item); !errors.Is(err, ErrNotTipRack) {
		t.Fatalf("expected ErrNotTipRack, got %v", err)
	}
}

func TestClaimMarksSlotsEmpty(t *testing.T) {
	r := testRack(t, "rack")

	// Fresh rack: everything available.
	if n := r.Remaining(); n != 96 {
		t.Fatalf("fresh rack remaining = %d, want 96", n)
	}
	if !r.HasTip(0, 0) || !r.HasTip(11, 7) {
		t.Fatalf("fresh rack corners should have tips")
	}

	// Claim three rows in column 2.
	if err := r.Claim(2, 5, 3); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	for row := 5; row < 8; row++ {
		if r.HasTip(2, row) {
			t.Errorf("claimed slot (2,%d) still reports a tip", row)
		}
	}
	if !r.HasTip(2, 4) {
		t.Errorf("unclaimed slot (2,4) lost its tip")
	}
	if n := r.Remaining(); n != 93 {
		t.Errorf("remaining = %d, want 93", n)
	}
}

func TestClaimRejectsEmptySlotWithoutPartialClaim(t *testing.T) {
	r := testRack(t, "rack")
	if err := r.Claim(0, 3, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// A run crossing the now-empty slot must fail and leave the rest intact.
	if err := r.Claim(0, 2, 3); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
	if !r.HasTip(0, 2) || !r.HasTip(0, 4) {
		t.Errorf("failed claim must not consume any slots")
	}
}

func TestClaimBounds(t *testing.T) {
	r := testRack(t, "rack")
	cases := []struct {
		column, row, count int
	}{
		{-1, 0, 1},
		{12, 0, 1},
		{0, -1, 1},
		{0, 0, 0},
		{0, 6, 3}, // runs past row 7
	}
	for _, c := range cases {
		if err := r.Claim(c.column, c.row, c.count); !errors.Is(err, ErrBadSpan) {
			t.Errorf("Claim(%d,%d,%d) = %v, want ErrBadSpan", c.column, c.row, c.count, err)
		}
	}
}

func TestResetRestoresEverySlot(t *testing.T) {
	r := testRack(t, "rack")
	for col := 0; col < 12; col++ {
		if err := r.Claim(col, 0, 8); err != nil {
			t.Fatalf("drain column %d: %v", col, err)
		}
	}
	if n := r.Remaining(); n != 0 {
		t.Fatalf("drained rack remaining = %d, want 0", n)
	}

	r.Reset()
	if n := r.Remaining(); n != 96 {
		t.Fatalf("reset rack remaining = %d, want 96", n)
	}
}

func TestNextAvailableBottomAnchored(t *testing.T) {
	// A full column and a 3-tip request must anchor at row 5 so the run
	// covers rows 5..7, preserving the top of the column.
	r := testRack(t, "rack")
	span, ok := NextAvailable([]*Rack{r}, 3)
	if !ok {
		t.Fatalf("no span found on a full rack")
	}
	if span.Column != 0 || span.Row != 5 || span.Count != 3 {
		t.Fatalf("span = col %d row %d count %d, want col 0 row 5 count 3", span.Column, span.Row, span.Count)
	}
	if got := span.AnchorWell(); got != "F1" {
		t.Errorf("anchor well = %s, want F1", got)
	}
	if got := span.Wells(); len(got) != 3 || got[0] != "F1" || got[2] != "H1" {
		t.Errorf("span wells = %v, want [F1 G1 H1]", got)
	}
}

func TestNextAvailableWalksUpThenAcrossColumns(t *testing.T) {
	r := testRack(t, "rack")

	// Drain the bottom five rows of column 0; a 3-run still fits at rows 0..2.
	if err := r.Claim(0, 3, 5); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	span, ok := NextAvailable([]*Rack{r}, 3)
	if !ok || span.Column != 0 || span.Row != 0 {
		t.Fatalf("span = %+v ok=%v, want col 0 row 0", span, ok)
	}

	// Break the remaining run: only 2 consecutive tips left in column 0,
	// so a 3-run must move to column 1.
	if err := r.Claim(0, 2, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	span, ok = NextAvailable([]*Rack{r}, 3)
	if !ok || span.Column != 1 || span.Row != 5 {
		t.Fatalf("span = %+v ok=%v, want col 1 row 5", span, ok)
	}

	// A 2-run still prefers the top of column 0 over column 1.
	span, ok = NextAvailable([]*Rack{r}, 2)
	if !ok || span.Column != 0 || span.Row != 0 {
		t.Fatalf("span = %+v ok=%v, want col 0 row 0", span, ok)
	}
}

func TestNextAvailableRackOrder(t *testing.T) {
	first := testRack(t, "rack-a")
	second := testRack(t, "rack-b")

	// First rack fully drained: search must continue into the second.
	for col := 0; col < 12; col++ {
		if err := first.Claim(col, 0, 8); err != nil {
			t.Fatalf("drain: %v", err)
		}
	}
	span, ok := NextAvailable([]*Rack{first, second}, 1)
	if !ok {
		t.Fatalf("no span with a full second rack")
	}
	if span.Rack != second {
		t.Errorf("span picked rack %s, want rack-b", span.Rack.Name())
	}
}

func TestNextAvailableExhausted(t *testing.T) {
	r := testRack(t, "rack")
	for col := 0; col < 12; col++ {
		if err := r.Claim(col, 0, 8); err != nil {
			t.Fatalf("drain: %v", err)
		}
	}
	if _, ok := NextAvailable([]*Rack{r}, 1); ok {
		t.Errorf("exhausted rack reported a span")
	}

	// Oversized requests are unsatisfiable, not an error here.
	full := testRack(t, "rack-2")
	if _, ok := NextAvailable([]*Rack{full}, 9); ok {
		t.Errorf("9-run on an 8-row rack reported a span")
	}
	if _, ok := NextAvailable([]*Rack{full}, 0); ok {
		t.Errorf("zero-count request reported a span")
	}
}

func TestAcquireNeverOverlaps(t *testing.T) {
	r := testRack(t, "rack")
	seen := make(map[string]bool)
	claim := func(count int) {
		t.Helper()
		span, err := Acquire([]*Rack{r}, count)
		if err != nil {
			t.Fatalf("Acquire(%d) after %d slots: %v", count, len(seen), err)
		}
		for _, well := range span.Wells() {
			if seen[well] {
				t.Fatalf("slot %s claimed twice", well)
			}
			seen[well] = true
		}
	}
	// 3-tip claims anchor at rows 5 then 2 of each column, stranding rows
	// 0-1: 24 claims cover 72 slots, then a 25th finds no run of 3.
	for i := 0; i < 24; i++ {
		claim(3)
	}
	if _, err := Acquire([]*Rack{r}, 3); !errors.Is(err, ErrOutOfTips) {
		t.Fatalf("expected ErrOutOfTips once no 3-run remains, got %v", err)
	}
	// The stranded 2-row remainders still serve smaller claims.
	for i := 0; i < 12; i++ {
		claim(2)
	}
	if len(seen) != 96 {
		t.Fatalf("claimed %d distinct slots, want 96", len(seen))
	}
	if _, err := Acquire([]*Rack{r}, 1); !errors.Is(err, ErrOutOfTips) {
		t.Fatalf("expected ErrOutOfTips on drained rack, got %v", err)
	}
}

type recordingConfirmer struct {
	prompts []string
	err     error
}

func (rc *recordingConfirmer) Confirm(prompt string) error {
	rc.prompts = append(rc.prompts, prompt)
	return rc.err
}

func TestRequestRefillResetsRacks(t *testing.T) {
	r := testRack(t, "rack")
	for col := 0; col < 12; col++ {
		if err := r.Claim(col, 0, 8); err != nil {
			t.Fatalf("drain: %v", err)
		}
	}

	confirm := &recordingConfirmer{}
	rc := NewRefillCoordinator(confirm)
	var observed []string
	rc.SetRefillCallback(func(instrument string, racks []string) {
		observed = append(observed, instrument)
	})

	if err := rc.RequestRefill("left", []*Rack{r}); err != nil {
		t.Fatalf("RequestRefill: %v", err)
	}
	if len(confirm.prompts) != 1 {
		t.Fatalf("prompt count = %d, want 1", len(confirm.prompts))
	}
	if r.Remaining() != 96 {
		t.Errorf("rack not reset after refill: %d remaining", r.Remaining())
	}
	if rc.Refills() != 1 {
		t.Errorf("refill counter = %d, want 1", rc.Refills())
	}
	if len(observed) != 1 || observed[0] != "left" {
		t.Errorf("refill callback saw %v", observed)
	}
}

func TestRequestRefillPropagatesDeniedConfirm(t *testing.T) {
	r := testRack(t, "rack")
	confirm := &recordingConfirmer{err: errors.New("input closed")}
	rc := NewRefillCoordinator(confirm)
	if err := rc.RequestRefill("left", []*Rack{r}); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
}
