package tips

import (
	"fmt"

	"pipetbot-go/pkg/labware"
)

// Span identifies a contiguous run of tip slots within one column of one
// rack: the allocation unit for a pickup.
type Span struct {
	Rack   *Rack
	Column int
	Row    int // lowest-indexed row of the run
	Count  int
}

// AnchorWell returns the well name of the run's lowest-indexed row. The
// driver picks up at the anchor; a multichannel head covers the remaining
// rows of the run.
func (s Span) AnchorWell() string {
	return labware.WellName(s.Column, s.Row)
}

// Anchor returns the driver location for the pickup.
func (s Span) Anchor() labware.Location {
	return labware.Location{Labware: s.Rack.Name(), Well: s.AnchorWell()}
}

// Wells lists the well names of every slot in the run.
func (s Span) Wells() []string {
	wells := make([]string, 0, s.Count)
	for row := s.Row; row < s.Row+s.Count; row++ {
		wells = append(wells, labware.WellName(s.Column, row))
	}
	return wells
}

func (s Span) String() string {
	if s.Count == 1 {
		return fmt.Sprintf("%s %s", s.Rack.Name(), s.AnchorWell())
	}
	return fmt.Sprintf("%s %s x%d", s.Rack.Name(), s.AnchorWell(), s.Count)
}

// NextAvailable searches the racks, in order, for the next contiguous run
// of count available tips. Within a rack it scans columns left to right;
// within a column it tries anchor rows from the bottom of the column upward,
// so partial-column multichannel pickups consume the bottom of the rack
// first and leave the top rows for later single-tip pickups. The bottom-up
// order is a deliberate tie-break, not an accident of iteration.
//
// The boolean result distinguishes "found" from "exhausted"; exhaustion is
// not an error here. Recovery (rack replacement) is the caller's explicit
// step.
func NextAvailable(racks []*Rack, count int) (Span, bool) {
	if count < 1 {
		return Span{}, false
	}
	for _, r := range racks {
		r.mu.RLock()
		if count <= r.rows {
			for col := 0; col < r.columns; col++ {
				for start := r.rows - count; start >= 0; start-- {
					if r.runFree(col, start, count) {
						r.mu.RUnlock()
						return Span{Rack: r, Column: col, Row: start, Count: count}, true
					}
				}
			}
		}
		r.mu.RUnlock()
	}
	return Span{}, false
}

// Acquire searches for a span and claims it in one step. It returns
// ErrOutOfTips when no rack can satisfy the request; the caller decides
// whether a refill cycle is warranted.
func Acquire(racks []*Rack, count int) (Span, error) {
	span, ok := NextAvailable(racks, count)
	if !ok {
		return Span{}, fmt.Errorf("%w: no run of %d tips in %d rack(s)", ErrOutOfTips, count, len(racks))
	}
	if err := span.Rack.Claim(span.Column, span.Row, span.Count); err != nil {
		return Span{}, err
	}
	return span, nil
}

// TipSet is a claimed span bound to the instrument that picked it up.
// Capacity is the working tip volume fixed at claim time: the lesser of the
// rack's nominal tip volume and the owning instrument's rated maximum.
type TipSet struct {
	Span     Span
	Capacity float64
}

// Remaining sums available tips across racks (for status displays).
func Remaining(racks []*Rack) int {
	n := 0
	for _, r := range racks {
		n += r.Remaining()
	}
	return n
}
