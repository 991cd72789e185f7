// Package tips tracks pipette-tip inventory across tip racks and selects
// contiguous tip runs for single- and multichannel pickups. Rack state is
// plain in-memory bookkeeping; nothing here talks to hardware.
//
// Vocabulary: a rack slot "has a tip" until a pickup claims it. Claiming
// removes the tips from the available pool; only a physical rack
// replacement (Reset) makes them available again. Dropping used tips into
// the trash never returns them to the rack.
package tips

import (
	"errors"
	"fmt"
	"sync"

	"pipetbot-go/pkg/labware"
)

// Common errors
var (
	ErrOutOfTips    = errors.New("tips: out of tips")
	ErrNotTipRack   = errors.New("tips: labware is not a tip rack")
	ErrBadSpan      = errors.New("tips: span outside rack grid")
	ErrSlotEmpty    = errors.New("tips: tip slot already empty")
	ErrNotConfirmed = errors.New("tips: rack replacement not confirmed")
)

// Rack is the occupancy tracker for one physical tip rack: a columns x rows
// grid of booleans recording which positions still hold a fresh tip.
//
// The run itself is single-threaded, but the monitor reads rack state from
// its own goroutine, so mutation and queries are guarded.
type Rack struct {
	mu sync.RWMutex

	name      string // deck item name, used in driver locations and prompts
	columns   int
	rows      int
	tipVolume float64

	present [][]bool // [column][row], true while a fresh tip is present
}

// NewRack builds a full rack from a loaded deck item.
func NewRack(item *labware.Item) (*Rack, error) {
	if item.Def.Kind != labware.KindTipRack {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotTipRack, item.Name, item.Def.Kind)
	}
	r := &Rack{
		name:      item.Name,
		columns:   item.Def.Columns,
		rows:      item.Def.Rows,
		tipVolume: item.Def.TipVolume,
	}
	r.present = make([][]bool, r.columns)
	for c := range r.present {
		r.present[c] = make([]bool, r.rows)
	}
	r.Reset()
	return r, nil
}

// Name returns the deck item name of the rack.
func (r *Rack) Name() string { return r.name }

// Columns returns the rack's column count.
func (r *Rack) Columns() int { return r.columns }

// Rows returns the rack's row count.
func (r *Rack) Rows() int { return r.rows }

// TipVolume returns the nominal capacity of this rack's tips in microliters.
func (r *Rack) TipVolume() float64 { return r.tipVolume }

// HasTip reports whether the slot at zero-based (column, row) still holds a
// fresh tip. Out-of-range positions report false.
func (r *Rack) HasTip(column, row int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if column < 0 || column >= r.columns || row < 0 || row >= r.rows {
		return false
	}
	return r.present[column][row]
}

// Claim removes count consecutive tips in one column, starting at rowStart,
// from the available pool. Every slot in the run must currently hold a tip;
// a partial claim is never left behind on error.
func (r *Rack) Claim(column, rowStart, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if column < 0 || column >= r.columns || rowStart < 0 || count < 1 || rowStart+count > r.rows {
		return fmt.Errorf("%w: column %d rows %d+%d on %s", ErrBadSpan, column, rowStart, count, r.name)
	}
	for row := rowStart; row < rowStart+count; row++ {
		if !r.present[column][row] {
			return fmt.Errorf("%w: %s %s", ErrSlotEmpty, r.name, labware.WellName(column, row))
		}
	}
	for row := rowStart; row < rowStart+count; row++ {
		r.present[column][row] = false
	}
	return nil
}

// Reset marks every slot as holding a fresh tip. Called when the operator
// replaces the physical rack.
func (r *Rack) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.present {
		for w := range r.present[c] {
			r.present[c][w] = true
		}
	}
}

// Remaining counts the tips still available in the rack.
func (r *Rack) Remaining() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.present {
		for _, has := range r.present[c] {
			if has {
				n++
			}
		}
	}
	return n
}

// runFree reports whether count consecutive slots starting at rowStart in
// column are all available. Caller must hold at least the read lock.
func (r *Rack) runFree(column, rowStart, count int) bool {
	for row := rowStart; row < rowStart+count; row++ {
		if !r.present[column][row] {
			return false
		}
	}
	return true
}
