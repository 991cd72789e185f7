package labware

import (
	"errors"
	"fmt"
	"sort"
)

// Deck errors
var (
	ErrSlotTaken   = errors.New("labware: deck slot already occupied")
	ErrNoSuchItem  = errors.New("labware: no labware with that name on deck")
	ErrNoSuchSlot  = errors.New("labware: empty deck slot")
	ErrBadSlot     = errors.New("labware: slot number out of range")
)

// DeckSlots is the number of numbered slots on the deck (slot 12 holds the
// fixed trash and cannot be loaded).
const DeckSlots = 11

// Item is one loaded piece of labware: a definition placed in a deck slot
// under a config-assigned name.
type Item struct {
	Name string
	Slot int
	Def  *Definition
}

// Well returns a driver Location for a named well of this item.
// The well name is validated against the item's grid.
func (it *Item) Well(name string) (Location, error) {
	if err := it.Def.CheckWell(name); err != nil {
		return Location{}, err
	}
	return Location{Labware: it.Name, Well: name}, nil
}

// WellAt returns a Location for zero-based (column, row) on this item.
func (it *Item) WellAt(column, row int) (Location, error) {
	return it.Well(WellName(column, row))
}

// Bottom returns the well Location with a dispense depth in millimeters
// above the well bottom.
func (it *Item) Bottom(well string, depth float64) (Location, error) {
	loc, err := it.Well(well)
	if err != nil {
		return Location{}, err
	}
	loc.Depth = depth
	return loc, nil
}

func (it *Item) String() string {
	return fmt.Sprintf("%s (%s, slot %d)", it.Name, it.Def.Name, it.Slot)
}

// Deck tracks which labware occupies which slot. Slot assignment is fixed
// at config load; the run never moves labware.
type Deck struct {
	bySlot map[int]*Item
	byName map[string]*Item
}

// NewDeck returns an empty deck.
func NewDeck() *Deck {
	return &Deck{
		bySlot: make(map[int]*Item),
		byName: make(map[string]*Item),
	}
}

// Load places a labware definition into a slot under the given name.
func (d *Deck) Load(name string, slot int, def *Definition) (*Item, error) {
	if slot < 1 || slot > DeckSlots {
		return nil, fmt.Errorf("%w: %d", ErrBadSlot, slot)
	}
	if prev, ok := d.bySlot[slot]; ok {
		return nil, fmt.Errorf("%w: slot %d holds %s", ErrSlotTaken, slot, prev.Name)
	}
	if _, ok := d.byName[name]; ok {
		return nil, fmt.Errorf("labware: duplicate labware name %q", name)
	}
	item := &Item{Name: name, Slot: slot, Def: def}
	d.bySlot[slot] = item
	d.byName[name] = item
	return item, nil
}

// Item returns the labware loaded under the given name.
func (d *Deck) Item(name string) (*Item, error) {
	item, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchItem, name)
	}
	return item, nil
}

// SlotItem returns the labware in a numbered slot.
func (d *Deck) SlotItem(slot int) (*Item, error) {
	item, ok := d.bySlot[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSlot, slot)
	}
	return item, nil
}

// Items returns all loaded labware ordered by slot.
func (d *Deck) Items() []*Item {
	items := make([]*Item, 0, len(d.bySlot))
	for _, item := range d.bySlot {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Slot < items[j].Slot })
	return items
}
