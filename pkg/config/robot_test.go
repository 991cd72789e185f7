package config

import (
	"testing"
)

const robotConfig = `
# Bench layout for the burden experiments.
[robot]
name: bench-2
link: /dev/ttyACM0
baud: 250000

[deck]
slot_4: source-plate nest_96_wellplate_200ul_flat
slot_5: dest-plate nest_96_wellplate_200ul_flat
slot_6: reservoir usascientific_12_reservoir_22ml
slot_8: tiprack-300 opentrons_96_tiprack_300ul
slot_9: tiprack-20 opentrons_96_tiprack_20ul

[instrument left]
model: p300_single
channels: 1
max_volume: 300
tip_racks: tiprack-300

[instrument right]
model: p20_multi_gen2
channels: 8
max_volume: 20
reverse_factor: 1.1
tip_racks: tiprack-20

[liquid diluent]
labware: reservoir
well: A1
depth: 5

[liquid inducer]
labware: reservoir
well: A3
depth: 5

[run]
source: source-plate
destination: dest-plate
small_volume_threshold: 10

[journal]
path: /var/lib/pipetbot/runs.db

[monitor]
listen: :9177
`

func parseTestConfig(t *testing.T) *RobotConfig {
	t.Helper()
	cfg, err := LoadString(robotConfig)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	rc, err := ParseRobotConfig(cfg)
	if err != nil {
		t.Fatalf("ParseRobotConfig failed: %v", err)
	}
	return rc
}

func TestParseRobotConfig(t *testing.T) {
	rc := parseTestConfig(t)

	if rc.Name != "bench-2" || rc.Link != "/dev/ttyACM0" || rc.Baud != 250000 {
		t.Errorf("robot = %q %q %d", rc.Name, rc.Link, rc.Baud)
	}

	// Deck ordered by slot
	if len(rc.Deck) != 5 {
		t.Fatalf("deck has %d slots, want 5", len(rc.Deck))
	}
	if rc.Deck[0].Slot != 4 || rc.Deck[0].Name != "source-plate" ||
		rc.Deck[0].Definition != "nest_96_wellplate_200ul_flat" {
		t.Errorf("first slot = %+v", rc.Deck[0])
	}
	if rc.Deck[4].Name != "tiprack-20" {
		t.Errorf("last slot = %+v", rc.Deck[4])
	}

	// Instruments sorted by mount, left first
	if len(rc.Instruments) != 2 {
		t.Fatalf("got %d instruments, want 2", len(rc.Instruments))
	}
	left := rc.Instruments[0]
	if left.Mount != "left" || left.Model != "p300_single" || left.Channels != 1 || left.MaxVolume != 300 {
		t.Errorf("left = %+v", left)
	}
	// reverse_factor defaults when unset
	if left.ReverseFactor != 1.1 {
		t.Errorf("left reverse factor = %v", left.ReverseFactor)
	}
	right, err := rc.Instrument("right")
	if err != nil {
		t.Fatalf("Instrument(right): %v", err)
	}
	if right.Channels != 8 || len(right.TipRacks) != 1 || right.TipRacks[0] != "tiprack-20" {
		t.Errorf("right = %+v", right)
	}

	// Liquids
	diluent, err := rc.Liquid("diluent")
	if err != nil {
		t.Fatalf("Liquid(diluent): %v", err)
	}
	if diluent.Labware != "reservoir" || diluent.Well != "A1" || diluent.Depth != 5 {
		t.Errorf("diluent = %+v", diluent)
	}
	if _, err := rc.Liquid("wash"); err == nil {
		t.Error("expected error for unknown liquid")
	}

	// Run options and defaults
	if rc.Run.Source != "source-plate" || rc.Run.Destination != "dest-plate" {
		t.Errorf("run plates = %q -> %q", rc.Run.Source, rc.Run.Destination)
	}
	if rc.Run.FillInstrument != "left" || rc.Run.MultiInstrument != "right" {
		t.Errorf("run instruments = %q, %q", rc.Run.FillInstrument, rc.Run.MultiInstrument)
	}
	if rc.Journal.Path != "/var/lib/pipetbot/runs.db" {
		t.Errorf("journal path = %q", rc.Journal.Path)
	}
	if rc.Monitor.Listen != ":9177" {
		t.Errorf("monitor listen = %q", rc.Monitor.Listen)
	}

	// A fully consumed config carries no warnings.
	if len(rc.Warnings) != 0 {
		t.Errorf("warnings = %v", rc.Warnings)
	}
}

func TestParseRobotConfigWarnsOnTypos(t *testing.T) {
	cfg, err := LoadString(`
[robot]
nmae: bench-2

[deck]
slot_5: dest-plate nest_96_wellplate_200ul_flat

[instrument left]
model: p300_single
channels: 1
max_volume: 300
tip_racks: tiprack-300

[run]
source: src
destination: dest-plate

[montior]
listen: :9177
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	rc, err := ParseRobotConfig(cfg)
	if err != nil {
		t.Fatalf("ParseRobotConfig failed: %v", err)
	}

	// The misspelled section and option each get a warning; the parse
	// still succeeds on defaults.
	if len(rc.Warnings) != 2 {
		t.Fatalf("warnings = %v", rc.Warnings)
	}
	if rc.Warnings[0] != "section [montior] is not recognized" {
		t.Errorf("section warning = %q", rc.Warnings[0])
	}
	if rc.Warnings[1] != "option 'nmae' in section [robot] is not recognized" {
		t.Errorf("option warning = %q", rc.Warnings[1])
	}
	if rc.Name != "pipetbot" {
		t.Errorf("name = %q, want default", rc.Name)
	}
}

func TestParseRobotConfigDefaults(t *testing.T) {
	cfg, err := LoadString(`
[robot]

[deck]
slot_5: dest-plate nest_96_wellplate_200ul_flat

[instrument left]
model: p300_single
channels: 1
max_volume: 300
tip_racks: tiprack-300

[run]
source: src
destination: dest-plate
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	rc, err := ParseRobotConfig(cfg)
	if err != nil {
		t.Fatalf("ParseRobotConfig failed: %v", err)
	}
	if rc.Name != "pipetbot" || rc.Link != "sim" {
		t.Errorf("defaults = %q %q", rc.Name, rc.Link)
	}
	if rc.Run.SmallVolumeThreshold != 10 {
		t.Errorf("threshold default = %v", rc.Run.SmallVolumeThreshold)
	}
	if rc.Journal.Path != "pipetbot.db" {
		t.Errorf("journal default = %q", rc.Journal.Path)
	}
	if rc.Monitor.Listen != "" {
		t.Errorf("monitor default = %q", rc.Monitor.Listen)
	}
}

func TestParseRobotConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no robot section", `
[deck]
slot_5: p nest_96_wellplate_200ul_flat
[instrument left]
model: m
channels: 1
max_volume: 1
tip_racks: t
[run]
source: a
destination: b
`},
		{"empty deck", `
[robot]
[deck]
[instrument left]
model: m
channels: 1
max_volume: 1
tip_racks: t
[run]
source: a
destination: b
`},
		{"malformed slot", `
[robot]
[deck]
slot_x: p nest_96_wellplate_200ul_flat
[instrument left]
model: m
channels: 1
max_volume: 1
tip_racks: t
[run]
source: a
destination: b
`},
		{"no instruments", `
[robot]
[deck]
slot_5: p nest_96_wellplate_200ul_flat
[run]
source: a
destination: b
`},
		{"zero max volume", `
[robot]
[deck]
slot_5: p nest_96_wellplate_200ul_flat
[instrument left]
model: m
channels: 1
max_volume: 0
tip_racks: t
[run]
source: a
destination: b
`},
		{"missing run plates", `
[robot]
[deck]
slot_5: p nest_96_wellplate_200ul_flat
[instrument left]
model: m
channels: 1
max_volume: 1
tip_racks: t
[run]
source: a
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadString(tc.data)
			if err != nil {
				t.Fatalf("LoadString failed: %v", err)
			}
			if _, err := ParseRobotConfig(cfg); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
