// Package plan defines the immutable experiment plan a run executes: the
// destination-well assignments with their cell and diluent volumes, the
// induced-well set and the inducer volume, plus run metadata. Plans are
// machine-written TOML, generated by protocol-gen and loaded once at run
// start; the orchestration never mutates a loaded plan.
package plan

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"pipetbot-go/pkg/labware"
)

// Blank marks a destination well that receives no cells: it is filled
// with diluent only and skipped by the cell-transfer step.
const Blank = "blank"

// Common errors
var (
	ErrInvalid = errors.New("plan: invalid plan")
)

// Metadata carries the run description recorded in the journal.
type Metadata struct {
	Name        string `toml:"protocol_name"`
	Author      string `toml:"author"`
	Description string `toml:"description"`
}

// Well is one destination-well assignment. Source names the well on the
// source plate the culture comes from, or Blank. Volumes are microliters.
type Well struct {
	Source string `toml:"source"`

	// CDS and RBS identify the construct for bookkeeping; the engine
	// only records them.
	CDS string `toml:"cds,omitempty"`
	RBS string `toml:"rbs,omitempty"`

	CellVolume    float64 `toml:"cell_volume"`
	DiluentVolume float64 `toml:"diluent_volume"`
}

// IsBlank reports whether the well receives no cells.
func (w Well) IsBlank() bool { return w.Source == Blank }

// Plan is one run's complete experiment description. Scalar fields come
// before the tables so the TOML encoder emits them at the top level.
type Plan struct {
	// InducerVolume is the per-well induction volume in microliters.
	InducerVolume float64 `toml:"inducer_volume"`

	// Induced and Uninduced partition the destination wells for the
	// induction pass. Induced wells receive inducer, uninduced wells
	// plain diluent.
	Induced   []string `toml:"induced_wells"`
	Uninduced []string `toml:"uninduced_wells"`

	Metadata Metadata `toml:"metadata"`

	// Wells maps destination well names to their assignments.
	Wells map[string]Well `toml:"wells"`
}

// Load reads and validates a plan file against the destination plate grid.
func Load(path string, dest *labware.Definition) (*Plan, error) {
	var p Plan
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("plan: decode %s: %w", path, err)
	}
	if err := p.Validate(dest); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes the plan as TOML, the format protocol-gen emits.
func (p *Plan) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plan: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("plan: encode %s: %w", path, err)
	}
	return nil
}

// Validate checks the plan's structural shape: every destination well
// addresses the plate grid and carries defined, non-negative volumes, and
// the induced/uninduced partition covers only known wells with no
// overlap. Biological correctness is out of scope.
func (p *Plan) Validate(dest *labware.Definition) error {
	if len(p.Wells) == 0 {
		return fmt.Errorf("%w: no destination wells", ErrInvalid)
	}
	if p.InducerVolume < 0 {
		return fmt.Errorf("%w: negative inducer volume %v", ErrInvalid, p.InducerVolume)
	}
	for name, w := range p.Wells {
		if err := dest.CheckWell(name); err != nil {
			return fmt.Errorf("%w: destination %s: %v", ErrInvalid, name, err)
		}
		if w.Source == "" {
			return fmt.Errorf("%w: destination %s has no source (use %q for diluent-only wells)", ErrInvalid, name, Blank)
		}
		if !w.IsBlank() {
			if _, _, err := labware.ParseWell(w.Source); err != nil {
				return fmt.Errorf("%w: destination %s: source %q: %v", ErrInvalid, name, w.Source, err)
			}
		}
		if w.CellVolume < 0 || w.DiluentVolume < 0 {
			return fmt.Errorf("%w: destination %s has negative volume", ErrInvalid, name)
		}
	}

	induced := make(map[string]bool, len(p.Induced))
	for _, name := range p.Induced {
		if _, ok := p.Wells[name]; !ok {
			return fmt.Errorf("%w: induced well %s not in plan", ErrInvalid, name)
		}
		if induced[name] {
			return fmt.Errorf("%w: induced well %s listed twice", ErrInvalid, name)
		}
		induced[name] = true
	}
	for _, name := range p.Uninduced {
		if _, ok := p.Wells[name]; !ok {
			return fmt.Errorf("%w: uninduced well %s not in plan", ErrInvalid, name)
		}
		if induced[name] {
			return fmt.Errorf("%w: well %s is both induced and uninduced", ErrInvalid, name)
		}
	}
	return nil
}

// SortedWells returns the destination well names in plate order: column
// by column, top row first. Iteration over the map itself is not stable;
// every run walks the plan in this order.
func (p *Plan) SortedWells() []string {
	names := make([]string, 0, len(p.Wells))
	for name := range p.Wells {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, ri, _ := labware.ParseWell(names[i])
		cj, rj, _ := labware.ParseWell(names[j])
		if ci != cj {
			return ci < cj
		}
		return ri < rj
	})
	return names
}

// InducedSet returns the induced wells as a set.
func (p *Plan) InducedSet() map[string]bool {
	set := make(map[string]bool, len(p.Induced))
	for _, name := range p.Induced {
		set[name] = true
	}
	return set
}

// UninducedSet returns the uninduced wells as a set.
func (p *Plan) UninducedSet() map[string]bool {
	set := make(map[string]bool, len(p.Uninduced))
	for _, name := range p.Uninduced {
		set[name] = true
	}
	return set
}
