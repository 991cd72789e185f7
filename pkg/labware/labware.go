// Package labware models the plates, reservoirs and tip racks that sit on
// the instrument deck. It provides well addressing ("A1".."H12"), labware
// definitions with a registry of built-in types, and the opaque Location
// handles handed to the instrument driver. The package never computes deck
// coordinates; slot/well/depth resolution to physical geometry belongs to
// the controller firmware.
package labware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Common errors
var (
	ErrUnknownLabware = errors.New("labware: unknown labware definition")
	ErrBadWellName    = errors.New("labware: malformed well name")
	ErrWellOutOfRange = errors.New("labware: well outside labware grid")
)

// Kind classifies a labware definition.
type Kind int

const (
	// KindPlate is a well plate (wells hold liquid).
	KindPlate Kind = iota

	// KindReservoir is a trough reservoir (large-volume wells).
	KindReservoir

	// KindTipRack is a rack of disposable pipette tips.
	KindTipRack
)

func (k Kind) String() string {
	switch k {
	case KindPlate:
		return "plate"
	case KindReservoir:
		return "reservoir"
	case KindTipRack:
		return "tip_rack"
	default:
		return "unknown"
	}
}

// Definition describes one labware type. Columns and Rows fix the grid;
// rows are lettered A.. top to bottom, columns numbered 1.. left to right.
type Definition struct {
	// Name is the load name, e.g. "opentrons_96_tiprack_300ul".
	Name string

	Kind    Kind
	Columns int
	Rows    int

	// WellVolume is the working volume of one well in microliters.
	WellVolume float64

	// TipVolume is the nominal tip capacity in microliters (tip racks only).
	TipVolume float64
}

// WellCount returns the total number of wells in the grid.
func (d *Definition) WellCount() int {
	return d.Columns * d.Rows
}

// WellName formats a zero-based (column, row) pair as a well name.
// Row 0, column 0 is "A1".
func WellName(column, row int) string {
	return string(rune('A'+row)) + strconv.Itoa(column+1)
}

// ParseWell parses a well name like "D6" into zero-based column and row
// indices. The grid bounds are not checked here; use Definition.CheckWell.
func ParseWell(name string) (column, row int, err error) {
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadWellName, name)
	}
	r := name[0]
	if r < 'A' || r > 'Z' {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadWellName, name)
	}
	col, err := strconv.Atoi(name[1:])
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadWellName, name)
	}
	return col - 1, int(r - 'A'), nil
}

// CheckWell validates that a well name addresses a well inside this
// definition's grid.
func (d *Definition) CheckWell(name string) error {
	col, row, err := ParseWell(name)
	if err != nil {
		return err
	}
	if col >= d.Columns || row >= d.Rows {
		return fmt.Errorf("%w: %s on %s (%dx%d)", ErrWellOutOfRange, name, d.Name, d.Columns, d.Rows)
	}
	return nil
}

// ColumnWells returns the well names of one zero-based column, row A first.
func (d *Definition) ColumnWells(column int) []string {
	wells := make([]string, 0, d.Rows)
	for row := 0; row < d.Rows; row++ {
		wells = append(wells, WellName(column, row))
	}
	return wells
}

// Location is the opaque handle the engine passes to the driver for every
// liquid operation. Labware identifies the deck item by its configured name,
// Well addresses the target well, and Depth is an optional dispense height
// in millimeters above the well bottom (0 means the driver default).
type Location struct {
	Labware string
	Well    string
	Depth   float64
}

// String renders the location for logs and wire traces.
func (l Location) String() string {
	if l.Depth > 0 {
		return fmt.Sprintf("%s/%s+%.1fmm", l.Labware, l.Well, l.Depth)
	}
	return l.Labware + "/" + l.Well
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Labware == "" && l.Well == ""
}

// rowLetters is the row axis used when scanning occupancy patterns.
const rowLetters = "ABCDEFGHIJKLMNOP"

// RowLetter returns the letter for a zero-based row index.
func RowLetter(row int) byte {
	if row < 0 || row >= len(rowLetters) {
		return '?'
	}
	return rowLetters[row]
}

// normalizeName lowercases a load name for registry lookups.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
