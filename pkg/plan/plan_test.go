package plan

import (
	"errors"
	"path/filepath"
	"testing"

	"pipetbot-go/pkg/labware"
)

func destDef(t *testing.T) *labware.Definition {
	t.Helper()
	def, err := labware.Lookup("nest_96_wellplate_200ul_flat")
	if err != nil {
		t.Fatalf("lookup plate: %v", err)
	}
	return def
}

func validPlan() *Plan {
	return &Plan{
		Metadata:      Metadata{Name: "Burden_093024", Author: "croots", Description: "burden experiment"},
		InducerVolume: 9.5,
		Induced:       []string{"B2", "C2"},
		Uninduced:     []string{"B7"},
		Wells: map[string]Well{
			"B2": {Source: "C2", CDS: "GFP10", RBS: "R0.25", CellVolume: 13.9, DiluentVolume: 176.6},
			"C2": {Source: "D2", CDS: "GFP10", RBS: "R0.5", CellVolume: 16.1, DiluentVolume: 174.4},
			"B7": {Source: Blank, CellVolume: 0, DiluentVolume: 190.5},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	if err := validPlan().Validate(destDef(t)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	def := destDef(t)
	cases := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"no wells", func(p *Plan) { p.Wells = nil }},
		{"negative inducer", func(p *Plan) { p.InducerVolume = -1 }},
		{"well off grid", func(p *Plan) { p.Wells["J13"] = Well{Source: Blank} }},
		{"bad well name", func(p *Plan) { p.Wells["17"] = Well{Source: Blank} }},
		{"empty source", func(p *Plan) { p.Wells["B2"] = Well{Source: ""} }},
		{"bad source name", func(p *Plan) { p.Wells["B2"] = Well{Source: "2C"} }},
		{"negative cell volume", func(p *Plan) { p.Wells["B2"] = Well{Source: "C2", CellVolume: -5} }},
		{"unknown induced well", func(p *Plan) { p.Induced = append(p.Induced, "G11") }},
		{"duplicate induced well", func(p *Plan) { p.Induced = append(p.Induced, "B2") }},
		{"overlapping partition", func(p *Plan) { p.Uninduced = append(p.Uninduced, "B2") }},
	}
	for _, c := range cases {
		p := validPlan()
		c.mutate(p)
		if err := p.Validate(def); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: Validate = %v, want ErrInvalid", c.name, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.toml")
	p := validPlan()
	if err := p.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, destDef(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Metadata.Name != p.Metadata.Name || loaded.Metadata.Author != p.Metadata.Author {
		t.Errorf("metadata = %+v, want %+v", loaded.Metadata, p.Metadata)
	}
	if loaded.InducerVolume != 9.5 {
		t.Errorf("inducer volume = %v, want 9.5", loaded.InducerVolume)
	}
	if len(loaded.Wells) != 3 {
		t.Fatalf("wells = %d, want 3", len(loaded.Wells))
	}
	if w := loaded.Wells["B2"]; w.Source != "C2" || w.CDS != "GFP10" || w.CellVolume != 13.9 {
		t.Errorf("well B2 = %+v", w)
	}
	if w := loaded.Wells["B7"]; !w.IsBlank() {
		t.Errorf("well B7 should be blank, got %+v", w)
	}
}

func TestLoadRejectsInvalidPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.toml")
	p := validPlan()
	p.Induced = append(p.Induced, "G11")
	if err := p.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := Load(path, destDef(t)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load = %v, want ErrInvalid", err)
	}
}

func TestSortedWellsPlateOrder(t *testing.T) {
	p := &Plan{Wells: map[string]Well{
		"G11": {Source: Blank},
		"B2":  {Source: Blank},
		"C2":  {Source: Blank},
		"B11": {Source: Blank},
		"H1":  {Source: Blank},
	}}
	got := p.SortedWells()
	want := []string{"H1", "B2", "C2", "B11", "G11"}
	if len(got) != len(want) {
		t.Fatalf("SortedWells = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedWells = %v, want %v", got, want)
		}
	}
}

func TestInducedSets(t *testing.T) {
	p := validPlan()
	induced := p.InducedSet()
	if !induced["B2"] || !induced["C2"] || induced["B7"] {
		t.Errorf("InducedSet = %v", induced)
	}
	uninduced := p.UninducedSet()
	if !uninduced["B7"] || uninduced["B2"] {
		t.Errorf("UninducedSet = %v", uninduced)
	}
}
