package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RobotConfig is the typed view of the robot configuration file: the
// controller link, the deck layout, the mounted instruments, named
// liquids, and the run/journal/monitor options.
type RobotConfig struct {
	Name string
	Link string // "sim", "auto", a device path, "tcp:host:port", or a socket path
	Baud int

	Deck        []DeckSlot
	Instruments []InstrumentConfig
	Liquids     map[string]LiquidConfig

	Run     RunOptions
	Journal JournalOptions
	Monitor MonitorOptions

	// Warnings lists config entries nothing consumed, usually typos.
	// The host logs them at startup rather than refusing to run.
	Warnings []string
}

// DeckSlot places one named labware definition in a deck slot.
type DeckSlot struct {
	Slot       int
	Name       string
	Definition string
}

// InstrumentConfig describes one mounted instrument. Mount is the
// section suffix ("left" or "right"); TipRacks lists deck item names in
// search order.
type InstrumentConfig struct {
	Mount         string
	Model         string
	Channels      int
	MaxVolume     float64
	ReverseFactor float64
	TipRacks      []string
}

// LiquidConfig is a named reagent's reservoir location.
type LiquidConfig struct {
	Name    string
	Labware string
	Well    string
	Depth   float64
}

// RunOptions tune the protocol run.
type RunOptions struct {
	Source               string // deck name of the culture plate
	Destination          string // deck name of the destination plate
	SmallVolumeThreshold float64
	FillInstrument       string // mount of the diluent-fill instrument
	MultiInstrument      string // mount of the multichannel instrument
	ConfirmTimeout       float64 // seconds; 0 waits forever
}

// JournalOptions locate the run journal.
type JournalOptions struct {
	Path string
}

// MonitorOptions configure the status server.
type MonitorOptions struct {
	Listen string // empty disables the monitor
}

// LoadRobotConfig reads and types a robot configuration file.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ParseRobotConfig(cfg)
}

// ParseRobotConfig types an already-parsed Config.
func ParseRobotConfig(cfg *Config) (*RobotConfig, error) {
	rc := &RobotConfig{Liquids: make(map[string]LiquidConfig)}

	robot, err := cfg.GetSection("robot")
	if err != nil {
		return nil, err
	}
	if rc.Name, err = robot.Get("name", "pipetbot"); err != nil {
		return nil, err
	}
	if rc.Link, err = robot.Get("link", "sim"); err != nil {
		return nil, err
	}
	if rc.Baud, err = robot.GetInt("baud", 250000); err != nil {
		return nil, err
	}

	if err := rc.parseDeck(cfg); err != nil {
		return nil, err
	}
	if err := rc.parseInstruments(cfg); err != nil {
		return nil, err
	}
	if err := rc.parseLiquids(cfg); err != nil {
		return nil, err
	}
	if err := rc.parseRun(cfg); err != nil {
		return nil, err
	}

	if sec := cfg.GetSectionOptional("journal"); sec != nil {
		if rc.Journal.Path, err = sec.Get("path", "pipetbot.db"); err != nil {
			return nil, err
		}
	} else {
		rc.Journal.Path = "pipetbot.db"
	}
	if sec := cfg.GetSectionOptional("monitor"); sec != nil {
		if rc.Monitor.Listen, err = sec.Get("listen", ""); err != nil {
			return nil, err
		}
	}

	rc.collectWarnings(cfg)
	return rc, nil
}

// collectWarnings flags sections and options the typed parse never
// read. A misspelled option silently falls back to its default, so
// this is the only place a typo surfaces.
func (rc *RobotConfig) collectWarnings(cfg *Config) {
	for _, name := range cfg.GetUnusedSections() {
		rc.Warnings = append(rc.Warnings, fmt.Sprintf("section [%s] is not recognized", name))
	}
	for _, name := range cfg.GetAccessedSections() {
		sec, err := cfg.GetSection(name)
		if err != nil {
			continue
		}
		for _, opt := range sec.GetUnusedOptions() {
			rc.Warnings = append(rc.Warnings, fmt.Sprintf("option '%s' in section [%s] is not recognized", opt, name))
		}
	}
}

// parseDeck reads the [deck] section: one "slot_N: name definition"
// option per occupied slot.
func (rc *RobotConfig) parseDeck(cfg *Config) error {
	deck, err := cfg.GetSection("deck")
	if err != nil {
		return err
	}
	for _, opt := range deck.GetPrefixOptions("slot_") {
		slot, err := strconv.Atoi(strings.TrimPrefix(opt, "slot_"))
		if err != nil {
			return NewConfigError("deck", opt, "slot options are slot_<number>")
		}
		value, err := deck.Get(opt)
		if err != nil {
			return err
		}
		fields := strings.Fields(value)
		if len(fields) != 2 {
			return NewConfigError("deck", opt, "expected '<name> <definition>'")
		}
		rc.Deck = append(rc.Deck, DeckSlot{Slot: slot, Name: fields[0], Definition: fields[1]})
	}
	if len(rc.Deck) == 0 {
		return NewConfigError("deck", "", "no slots configured")
	}
	sort.Slice(rc.Deck, func(i, j int) bool { return rc.Deck[i].Slot < rc.Deck[j].Slot })
	return nil
}

func (rc *RobotConfig) parseInstruments(cfg *Config) error {
	for _, sec := range cfg.GetPrefixSections("instrument ") {
		mount := strings.TrimPrefix(sec.GetName(), "instrument ")
		ins := InstrumentConfig{Mount: mount}
		var err error
		if ins.Model, err = sec.Get("model"); err != nil {
			return err
		}
		one := 1
		if ins.Channels, err = sec.GetIntWithBounds("channels", &one, nil, 1); err != nil {
			return err
		}
		zero, unity := 0.0, 1.0
		if ins.MaxVolume, err = sec.GetFloatWithBounds("max_volume", FloatBounds{Above: &zero}); err != nil {
			return err
		}
		if ins.ReverseFactor, err = sec.GetFloatWithBounds("reverse_factor", FloatBounds{MinVal: &unity}, 1.1); err != nil {
			return err
		}
		if ins.TipRacks, err = sec.GetList("tip_racks", ","); err != nil {
			return err
		}
		rc.Instruments = append(rc.Instruments, ins)
	}
	if len(rc.Instruments) == 0 {
		return NewConfigError("instrument", "", "no instruments configured")
	}
	sort.Slice(rc.Instruments, func(i, j int) bool { return rc.Instruments[i].Mount < rc.Instruments[j].Mount })
	return nil
}

func (rc *RobotConfig) parseLiquids(cfg *Config) error {
	for _, sec := range cfg.GetPrefixSections("liquid ") {
		name := strings.TrimPrefix(sec.GetName(), "liquid ")
		liq := LiquidConfig{Name: name}
		var err error
		if liq.Labware, err = sec.Get("labware"); err != nil {
			return err
		}
		if liq.Well, err = sec.Get("well"); err != nil {
			return err
		}
		if liq.Depth, err = sec.GetFloat("depth", 0); err != nil {
			return err
		}
		rc.Liquids[name] = liq
	}
	return nil
}

func (rc *RobotConfig) parseRun(cfg *Config) error {
	run, err := cfg.GetSection("run")
	if err != nil {
		return err
	}
	if rc.Run.Source, err = run.Get("source"); err != nil {
		return err
	}
	if rc.Run.Destination, err = run.Get("destination"); err != nil {
		return err
	}
	zero := 0.0
	if rc.Run.SmallVolumeThreshold, err = run.GetFloatWithBounds("small_volume_threshold", FloatBounds{Above: &zero}, 10); err != nil {
		return err
	}
	if rc.Run.FillInstrument, err = run.GetChoice("fill_instrument", []string{"left", "right"}, "left"); err != nil {
		return err
	}
	if rc.Run.MultiInstrument, err = run.GetChoice("multi_instrument", []string{"left", "right"}, "right"); err != nil {
		return err
	}
	if rc.Run.ConfirmTimeout, err = run.GetFloatWithBounds("confirm_timeout", FloatBounds{MinVal: &zero}, 0); err != nil {
		return err
	}
	return nil
}

// Instrument returns the instrument configured on a mount.
func (rc *RobotConfig) Instrument(mount string) (InstrumentConfig, error) {
	for _, ins := range rc.Instruments {
		if ins.Mount == mount {
			return ins, nil
		}
	}
	return InstrumentConfig{}, fmt.Errorf("config: no instrument on mount %q", mount)
}

// Liquid returns a named liquid.
func (rc *RobotConfig) Liquid(name string) (LiquidConfig, error) {
	liq, ok := rc.Liquids[name]
	if !ok {
		return LiquidConfig{}, fmt.Errorf("config: no liquid %q configured", name)
	}
	return liq, nil
}
