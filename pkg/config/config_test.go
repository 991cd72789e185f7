package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadString(t *testing.T) {
	data := `
[robot]
name: pipetbot
link: sim

[instrument left]
model: p300_single
channels: 1
max_volume: 300
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Test HasSection
	if !cfg.HasSection("robot") {
		t.Error("expected [robot] section to exist")
	}
	if !cfg.HasSection("instrument left") {
		t.Error("expected [instrument left] section to exist")
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	// Test GetSection
	robot, err := cfg.GetSection("robot")
	if err != nil {
		t.Fatalf("GetSection(robot) failed: %v", err)
	}
	if robot.GetName() != "robot" {
		t.Errorf("expected name 'robot', got '%s'", robot.GetName())
	}

	// Test Get
	link, err := robot.Get("link")
	if err != nil {
		t.Fatalf("Get(link) failed: %v", err)
	}
	if link != "sim" {
		t.Errorf("expected 'sim', got '%s'", link)
	}

	// Test GetInt
	ins, _ := cfg.GetSection("instrument left")
	channels, err := ins.GetInt("channels")
	if err != nil {
		t.Fatalf("GetInt(channels) failed: %v", err)
	}
	if channels != 1 {
		t.Errorf("expected 1, got %d", channels)
	}

	// Test GetFloat
	maxVol, err := ins.GetFloat("max_volume")
	if err != nil {
		t.Fatalf("GetFloat(max_volume) failed: %v", err)
	}
	if maxVol != 300.0 {
		t.Errorf("expected 300.0, got %f", maxVol)
	}
}

func TestSectionGet(t *testing.T) {
	data := `
[test]
string_val: hello
int_val: 42
float_val: 3.14
bool_true: true
bool_false: no
bool_one: 1
list_val: a, b, c
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Test Get with fallback
	val, _ := sec.Get("missing", "default")
	if val != "default" {
		t.Errorf("expected 'default', got '%s'", val)
	}

	// Test GetInt
	i, _ := sec.GetInt("int_val")
	if i != 42 {
		t.Errorf("expected 42, got %d", i)
	}

	// Test GetInt with fallback
	i, _ = sec.GetInt("missing", 99)
	if i != 99 {
		t.Errorf("expected 99, got %d", i)
	}

	// Test GetFloat
	f, _ := sec.GetFloat("float_val")
	if f != 3.14 {
		t.Errorf("expected 3.14, got %f", f)
	}

	// Test GetBool
	b, _ := sec.GetBool("bool_true")
	if !b {
		t.Error("expected true")
	}

	b, _ = sec.GetBool("bool_false")
	if b {
		t.Error("expected false")
	}

	b, _ = sec.GetBool("bool_one")
	if !b {
		t.Error("expected true for '1'")
	}

	// Test GetList
	list, _ := sec.GetList("list_val", ",")
	if len(list) != 3 {
		t.Errorf("expected 3 items, got %d", len(list))
	}
	if list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Errorf("unexpected list values: %v", list)
	}
}

func TestAccessTracking(t *testing.T) {
	data := `
[test]
used1: value1
used2: value2
unused1: value3
unused2: value4
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Access some options
	sec.Get("used1")
	sec.Get("used2")

	// Check accessed options
	accessed := sec.GetAccessedOptions()
	if len(accessed) != 2 {
		t.Errorf("expected 2 accessed options, got %d", len(accessed))
	}

	// Check unused options
	unused := sec.GetUnusedOptions()
	if len(unused) != 2 {
		t.Errorf("expected 2 unused options, got %d", len(unused))
	}
}

func TestSectionTracking(t *testing.T) {
	data := `
[used_section]
key: value

[unused_section]
key: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Access one section
	cfg.GetSection("used_section")

	// Check accessed sections
	accessed := cfg.GetAccessedSections()
	if len(accessed) != 1 {
		t.Errorf("expected 1 accessed section, got %d", len(accessed))
	}

	// Check unused sections
	unused := cfg.GetUnusedSections()
	if len(unused) != 1 {
		t.Errorf("expected 1 unused section, got %d", len(unused))
	}
	if unused[0] != "unused_section" {
		t.Errorf("expected 'unused_section', got '%s'", unused[0])
	}
}

func TestGetPrefixSections(t *testing.T) {
	data := `
[liquid diluent]
well: A1

[liquid inducer]
well: A3

[liquid wash]
well: A5

[robot]
name: pipetbot
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	liquids := cfg.GetPrefixSections("liquid ")
	if len(liquids) != 3 {
		t.Errorf("expected 3 liquid sections, got %d", len(liquids))
	}
}

func TestGetChoice(t *testing.T) {
	data := `
[test]
mode: fast
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Valid choice
	mode, err := sec.GetChoice("mode", []string{"slow", "fast", "turbo"})
	if err != nil {
		t.Fatalf("GetChoice failed: %v", err)
	}
	if mode != "fast" {
		t.Errorf("expected 'fast', got '%s'", mode)
	}

	// Invalid choice
	_, err = sec.GetChoice("mode", []string{"slow", "turbo"})
	if err == nil {
		t.Error("expected error for invalid choice")
	}
}

func TestBoundsChecking(t *testing.T) {
	data := `
[test]
value: 50
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Within bounds
	min := 0.0
	max := 100.0
	v, err := sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min, MaxVal: &max})
	if err != nil {
		t.Fatalf("GetFloatWithBounds failed: %v", err)
	}
	if v != 50.0 {
		t.Errorf("expected 50.0, got %f", v)
	}

	// Below minimum
	min = 60.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min})
	if err == nil {
		t.Error("expected error for value below minimum")
	}

	// Above maximum
	max = 40.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MaxVal: &max})
	if err == nil {
		t.Error("expected error for value above maximum")
	}

	// Must be above
	above := 50.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{Above: &above})
	if err == nil {
		t.Error("expected error for value not above threshold")
	}
}

func TestMissingOptionError(t *testing.T) {
	data := `
[test]
exists: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Missing required option
	_, err = sec.Get("missing")
	if err == nil {
		t.Error("expected error for missing option")
	}

	configErr, ok := err.(*ConfigError)
	if !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
	if configErr.Section != "test" {
		t.Errorf("expected section 'test', got '%s'", configErr.Section)
	}
	if configErr.Option != "missing" {
		t.Errorf("expected option 'missing', got '%s'", configErr.Option)
	}
}

func TestIncludeDirective(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "pipetbot.cfg")
	writeFile(t, main, `
[robot]
name: pipetbot
link: sim

[include deck-*.cfg]

[robot]
baud: 115200
`)
	writeFile(t, filepath.Join(dir, "deck-a.cfg"), `
[deck]
slot_1: culture corning_96_wellplate
`)
	writeFile(t, filepath.Join(dir, "deck-b.cfg"), `
[deck]
slot_4: tips300 opentrons_96_tiprack_300ul
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Included sections merge with the including file; a reopened
	// section keeps earlier options.
	deck, err := cfg.GetSection("deck")
	if err != nil {
		t.Fatalf("GetSection(deck) failed: %v", err)
	}
	slots := deck.GetPrefixOptions("slot_")
	if len(slots) != 2 {
		t.Errorf("expected 2 slot options, got %v", slots)
	}
	robot, _ := cfg.GetSection("robot")
	if name, _ := robot.Get("name"); name != "pipetbot" {
		t.Errorf("expected 'pipetbot', got '%s'", name)
	}
	if baud, _ := robot.GetInt("baud"); baud != 115200 {
		t.Errorf("expected 115200, got %d", baud)
	}
}

func TestIncludeMissingFile(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "pipetbot.cfg")
	writeFile(t, main, `
[include nonexistent.cfg]
`)

	// A non-glob include must name a real file.
	if _, err := Load(main); err == nil {
		t.Error("expected error for missing include file")
	}
}

func TestGetPrefixSectionsMarksAccessed(t *testing.T) {
	data := `
[liquid diluent]
well: A1

[liquid wash]
well: A5
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	cfg.GetPrefixSections("liquid ")

	// Prefix enumeration counts as consumption, so configured liquids
	// never show up as unused-section warnings.
	if unused := cfg.GetUnusedSections(); len(unused) != 0 {
		t.Errorf("expected no unused sections, got %v", unused)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
