// pipetbot-go is the liquid-handling robot host. It loads a robot
// configuration and an experiment plan, connects to the robot controller
// (or a simulation), and executes the protocol: the diluent fill, the
// per-well cell transfers, and the induction pass. Every run is recorded
// in the journal; the optional monitor server exposes live status.
//
// Usage:
//
//	pipetbot-go -config bench.cfg -plan plan.toml [options]
//
// Options:
//
//	-config string   Robot configuration file (required)
//	-plan string     Experiment plan TOML file (required)
//	-dry-run         Simulate the run regardless of the configured link
//	-debug           Enable debug logging
//	-logfile string  Log file path (default: stderr only)
//
// Examples:
//
//	# Execute a plan on the configured controller
//	pipetbot-go -config bench.cfg -plan plan.toml
//
//	# Rehearse the same plan without hardware
//	pipetbot-go -config bench.cfg -plan plan.toml -dry-run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"pipetbot-go/pkg/config"
	"pipetbot-go/pkg/driver"
	"pipetbot-go/pkg/journal"
	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/log"
	"pipetbot-go/pkg/metrics"
	"pipetbot-go/pkg/monitor"
	"pipetbot-go/pkg/operator"
	"pipetbot-go/pkg/pipette"
	"pipetbot-go/pkg/plan"
	"pipetbot-go/pkg/protocol"
	"pipetbot-go/pkg/serial"
	"pipetbot-go/pkg/tips"
)

func main() {
	configFile := flag.String("config", "", "Robot configuration file (required)")
	planFile := flag.String("plan", "", "Experiment plan TOML file (required)")
	dryRun := flag.Bool("dry-run", false, "Simulate the run regardless of the configured link")
	debug := flag.Bool("debug", false, "Enable debug logging")
	logFile := flag.String("logfile", "", "Log file path (default: stderr only)")
	flag.Parse()

	if *configFile == "" || *planFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -config and -plan are required")
		flag.Usage()
		os.Exit(1)
	}

	if err := hostMain(*configFile, *planFile, *dryRun, *debug, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "pipetbot-go: %v\n", err)
		os.Exit(1)
	}
}

// hostMain owns all resources; main only translates its error into the
// exit code, so deferred cleanup always runs.
func hostMain(configFile, planFile string, dryRun, debug bool, logFile string) error {
	host := log.New("pipetbot")
	log.ConfigureFromEnv(host)
	if debug {
		host.SetLevel(log.DEBUG)
	}
	if logFile != "" {
		writer, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: logFile})
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer writer.Close()
		host.SetWriter(log.NewMultiWriter(os.Stderr, writer))
		host.SetColorize(false)
	}
	// Packages snapshot the default logger at construction time, so this
	// must happen before anything below is built.
	log.SetDefaultLogger(host)
	logger := log.GetLogger("host")

	rc, err := config.LoadRobotConfig(configFile)
	if err != nil {
		return err
	}
	for _, w := range rc.Warnings {
		logger.Warn("config: %s", w)
	}
	logger.Info("robot %s, link %s", rc.Name, rc.Link)

	deck, source, dest, err := buildDeck(rc)
	if err != nil {
		return err
	}
	pl, err := plan.Load(planFile, dest.Def)
	if err != nil {
		return err
	}
	logger.Info("plan %q: %d wells, %d induced", pl.Metadata.Name, len(pl.Wells), len(pl.Induced))

	diluent, err := liquidLocation(rc, deck, "diluent")
	if err != nil {
		return err
	}
	inducer, err := liquidLocation(rc, deck, "inducer")
	if err != nil {
		return err
	}

	drv, err := openDriver(rc, logger, dryRun)
	if err != nil {
		return err
	}
	defer drv.Close()

	var confirm tips.Confirmer
	if dryRun || rc.Link == "sim" {
		confirm = &operator.AutoConfirm{}
	} else {
		console := operator.NewConsole()
		console.WaitTimeout = time.Duration(rc.Run.ConfirmTimeout * float64(time.Second))
		confirm = console
	}
	refill := tips.NewRefillCoordinator(confirm)

	instruments, racks, err := buildInstruments(rc, deck, drv, refill)
	if err != nil {
		return err
	}
	large, ok := instruments[rc.Run.FillInstrument]
	if !ok {
		return fmt.Errorf("fill instrument %q not configured", rc.Run.FillInstrument)
	}
	multi, ok := instruments[rc.Run.MultiInstrument]
	if !ok {
		return fmt.Errorf("multi instrument %q not configured", rc.Run.MultiInstrument)
	}

	jr, err := journal.Open(rc.Journal.Path)
	if err != nil {
		return err
	}
	defer jr.Close()

	rm := metrics.NewRunMetrics(nil)
	state := newRunState(rc, instruments)
	for _, r := range racks {
		rm.TipsRemaining.Set(metrics.Labels{"rack": r.Name()}, float64(r.Remaining()))
	}
	for _, ins := range instruments {
		ins.SetPickUpCallback(func(p *pipette.Instrument, span tips.Span) {
			logger.WithFields(log.Fields{
				"instrument": p.Name(), "rack": span.Rack.Name(), "tips": span.Count,
			}).Debug("picked up tips")
			rm.RecordPickUp(p.Name(), span.Count)
			rm.TipsRemaining.Set(metrics.Labels{"rack": span.Rack.Name()}, float64(span.Rack.Remaining()))
			rm.HeldVolume.Set(metrics.Labels{"instrument": p.Name()}, 0)
			state.setTip(p.Name(), true, 0)
			jr.Event("pick_up", map[string]any{
				"instrument": p.Name(), "rack": span.Rack.Name(),
				"anchor": span.AnchorWell(), "tips": span.Count,
			})
		})
		ins.SetDropCallback(func(p *pipette.Instrument) {
			rm.HeldVolume.Set(metrics.Labels{"instrument": p.Name()}, 0)
			state.setTip(p.Name(), false, 0)
			jr.Event("drop", map[string]any{"instrument": p.Name()})
		})
	}

	var mon *monitor.Server
	status := func() monitor.Status {
		s := state.snapshot()
		s.Protocol = pl.Metadata.Name
		s.Refills = refill.Refills()
		for _, r := range racks {
			s.Racks = append(s.Racks, monitor.RackStatus{
				Name:      r.Name(),
				Remaining: r.Remaining(),
				Capacity:  r.Columns() * r.Rows(),
			})
		}
		return s
	}
	if rc.Monitor.Listen != "" {
		mon = monitor.New(rc.Monitor.Listen, status, rm.Registry())
		go func() {
			if err := mon.Start(); err != nil {
				logger.Error("monitor: %v", err)
			}
		}()
		defer mon.Stop()
	}

	refill.SetRefillCallback(func(instrument string, rackNames []string) {
		logger.WithField("instrument", instrument).Warn("tip racks exhausted, refill confirmed")
		rm.Refills.Inc(metrics.Labels{"instrument": instrument})
		for _, r := range racks {
			rm.TipsRemaining.Set(metrics.Labels{"rack": r.Name()}, float64(r.Remaining()))
		}
		fields := map[string]any{"instrument": instrument, "racks": rackNames}
		jr.Event("refill", fields)
		if mon != nil {
			mon.Publish("refill", fields)
		}
	})

	notify := func(e protocol.Event) {
		jr.Event(e.Kind, e.Fields)
		if mon != nil {
			mon.Publish(e.Kind, e.Fields)
		}
		switch e.Kind {
		case "step":
			if name, ok := e.Fields["name"].(string); ok {
				state.setStep(name)
			}
		case "transfer":
			volume, _ := e.Fields["volume"].(float64)
			instrument, _ := e.Fields["instrument"].(string)
			rm.RecordTransfer(instrument, volume)
			if held, ok := e.Fields["held"].(float64); ok {
				rm.HeldVolume.Set(metrics.Labels{"instrument": instrument}, held)
				state.setHeld(instrument, held)
			}
		case "run_error":
			rm.Errors.Inc(metrics.Labels{"kind": "run"})
		}
	}

	run, err := protocol.New(protocol.Config{
		Plan:                 pl,
		Drv:                  drv,
		Large:                large,
		Multi:                multi,
		Source:               source,
		Dest:                 dest,
		Diluent:              diluent,
		Inducer:              inducer,
		SmallVolumeThreshold: rc.Run.SmallVolumeThreshold,
		Notify:               notify,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := jr.BeginRun(pl.Metadata.Name); err != nil {
		return err
	}
	state.setState("running")
	stopTimer := rm.RunTimer()
	runErr := run.Execute(ctx)
	stopTimer()

	switch {
	case runErr == nil:
		state.setState("completed")
		if err := jr.Finish(journal.StatusCompleted, ""); err != nil {
			logger.Error("journal: %v", err)
		}
		logger.Info("run complete")
		return nil
	case errors.Is(runErr, context.Canceled):
		state.setState("aborted")
		if err := jr.Finish(journal.StatusAborted, runErr.Error()); err != nil {
			logger.Error("journal: %v", err)
		}
		return fmt.Errorf("run aborted: %w", runErr)
	default:
		state.setState("failed")
		logger.WithError(runErr).Error("run failed")
		if err := jr.Finish(journal.StatusFailed, runErr.Error()); err != nil {
			logger.Error("journal: %v", err)
		}
		return fmt.Errorf("run failed: %w", runErr)
	}
}

// buildDeck loads the configured labware and resolves the run's plates.
func buildDeck(rc *config.RobotConfig) (deck *labware.Deck, source, dest *labware.Item, err error) {
	deck = labware.NewDeck()
	for _, slot := range rc.Deck {
		def, err := labware.Lookup(slot.Definition)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := deck.Load(slot.Name, slot.Slot, def); err != nil {
			return nil, nil, nil, err
		}
	}
	if source, err = deck.Item(rc.Run.Source); err != nil {
		return nil, nil, nil, err
	}
	if dest, err = deck.Item(rc.Run.Destination); err != nil {
		return nil, nil, nil, err
	}
	return deck, source, dest, nil
}

// liquidLocation resolves a configured liquid to its dispense location.
func liquidLocation(rc *config.RobotConfig, deck *labware.Deck, name string) (protocol.Liquid, error) {
	lc, err := rc.Liquid(name)
	if err != nil {
		return protocol.Liquid{}, err
	}
	item, err := deck.Item(lc.Labware)
	if err != nil {
		return protocol.Liquid{}, fmt.Errorf("liquid %s: %w", name, err)
	}
	loc, err := item.Bottom(lc.Well, lc.Depth)
	if err != nil {
		return protocol.Liquid{}, fmt.Errorf("liquid %s: %w", name, err)
	}
	return protocol.Liquid{Name: name, Loc: loc}, nil
}

// buildInstruments creates the rack trackers and instrument controllers.
// Racks named by more than one instrument are shared, not duplicated.
func buildInstruments(rc *config.RobotConfig, deck *labware.Deck, drv driver.Driver, refill *tips.RefillCoordinator) (map[string]*pipette.Instrument, []*tips.Rack, error) {
	rackByName := make(map[string]*tips.Rack)
	var rackList []*tips.Rack
	instruments := make(map[string]*pipette.Instrument)
	for _, ic := range rc.Instruments {
		mount, err := driver.ParseMount(ic.Mount)
		if err != nil {
			return nil, nil, err
		}
		var racks []*tips.Rack
		for _, name := range ic.TipRacks {
			rack, ok := rackByName[name]
			if !ok {
				item, err := deck.Item(name)
				if err != nil {
					return nil, nil, fmt.Errorf("instrument %s: %w", ic.Mount, err)
				}
				if rack, err = tips.NewRack(item); err != nil {
					return nil, nil, fmt.Errorf("instrument %s: %w", ic.Mount, err)
				}
				rackByName[name] = rack
				rackList = append(rackList, rack)
			}
			racks = append(racks, rack)
		}
		ins, err := pipette.New(pipette.Config{
			Name:          ic.Mount,
			Model:         ic.Model,
			Mount:         mount,
			Channels:      ic.Channels,
			MaxVolume:     ic.MaxVolume,
			ReverseFactor: ic.ReverseFactor,
		}, drv, racks, refill)
		if err != nil {
			return nil, nil, err
		}
		instruments[ic.Mount] = ins
	}
	return instruments, rackList, nil
}

// openDriver selects the controller link: the simulation, a serial
// device (named or auto-detected), a TCP mock, or a unix socket mock.
func openDriver(rc *config.RobotConfig, logger *log.Logger, dryRun bool) (driver.Driver, error) {
	if dryRun || rc.Link == "sim" {
		logger.Info("using simulated driver")
		return driver.NewSim(), nil
	}
	cfg := serial.DefaultConfig()
	cfg.Baud = rc.Baud
	var port *serial.Port
	var err error
	switch {
	case rc.Link == "auto":
		port, err = serial.Detect(cfg, 30*time.Second)
	case strings.HasPrefix(rc.Link, "/dev/"):
		cfg.Device = rc.Link
		port, err = serial.Open(cfg)
	case strings.HasPrefix(rc.Link, "tcp:"):
		port, err = serial.OpenTCP(strings.TrimPrefix(rc.Link, "tcp:"), 30*time.Second)
	default:
		port, err = serial.OpenSocket(rc.Link, 30*time.Second)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("controller link open on %s", port.Device())
	w := driver.NewWire(port)
	if _, err := w.Identify(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// runState is the mutable part of the monitor snapshot. The run thread
// writes it through the callbacks; the monitor reads it concurrently.
type runState struct {
	mu          sync.Mutex
	state       string
	step        string
	order       []string
	instruments map[string]monitor.InstrumentStatus
}

func newRunState(rc *config.RobotConfig, instruments map[string]*pipette.Instrument) *runState {
	s := &runState{state: "idle", instruments: make(map[string]monitor.InstrumentStatus)}
	for _, ic := range rc.Instruments {
		ins := instruments[ic.Mount]
		s.order = append(s.order, ic.Mount)
		s.instruments[ic.Mount] = monitor.InstrumentStatus{
			Name:  ins.Name(),
			Model: ins.Model(),
			Mount: ins.Mount().String(),
		}
	}
	return s
}

func (s *runState) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.step = ""
	s.mu.Unlock()
}

func (s *runState) setStep(step string) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

func (s *runState) setTip(name string, hasTip bool, held float64) {
	s.mu.Lock()
	ins := s.instruments[name]
	ins.HasTip = hasTip
	ins.HeldVolume = held
	s.instruments[name] = ins
	s.mu.Unlock()
}

func (s *runState) setHeld(name string, held float64) {
	s.mu.Lock()
	ins := s.instruments[name]
	ins.HeldVolume = held
	s.instruments[name] = ins
	s.mu.Unlock()
}

func (s *runState) snapshot() monitor.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := monitor.Status{State: s.state, Step: s.step, Time: time.Now()}
	for _, name := range s.order {
		status.Instruments = append(status.Instruments, s.instruments[name])
	}
	return status
}
