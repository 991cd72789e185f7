package labware

import (
	"fmt"
	"sort"
	"sync"
)

// The registry maps load names to labware definitions. Built-in definitions
// cover the labware used by the bench protocols; additional types can be
// registered before config load.
var registry = struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}{
	defs: make(map[string]*Definition),
}

// Register adds or replaces a labware definition under its load name.
func Register(def *Definition) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.defs[normalizeName(def.Name)] = def
}

// Lookup returns the definition for a load name.
func Lookup(name string) (*Definition, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	def, ok := registry.defs[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabware, name)
	}
	return def, nil
}

// RegisteredNames returns the sorted load names of all known definitions.
func RegisteredNames() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.defs))
	for name := range registry.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	for _, def := range builtinDefinitions {
		Register(def)
	}
}

// builtinDefinitions lists the labware types the stock protocols load.
var builtinDefinitions = []*Definition{
	{
		Name:       "nest_96_wellplate_200ul_flat",
		Kind:       KindPlate,
		Columns:    12,
		Rows:       8,
		WellVolume: 200,
	},
	{
		Name:       "corning_96_wellplate_360ul_flat",
		Kind:       KindPlate,
		Columns:    12,
		Rows:       8,
		WellVolume: 360,
	},
	{
		Name:       "usascientific_12_reservoir_22ml",
		Kind:       KindReservoir,
		Columns:    12,
		Rows:       1,
		WellVolume: 22000,
	},
	{
		Name:      "opentrons_96_tiprack_300ul",
		Kind:      KindTipRack,
		Columns:   12,
		Rows:      8,
		TipVolume: 300,
	},
	{
		Name:      "opentrons_96_tiprack_20ul",
		Kind:      KindTipRack,
		Columns:   12,
		Rows:      8,
		TipVolume: 20,
	},
	{
		Name:      "opentrons_96_filtertiprack_20ul",
		Kind:      KindTipRack,
		Columns:   12,
		Rows:      8,
		TipVolume: 20,
	},
}
