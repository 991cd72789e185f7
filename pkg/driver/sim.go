package driver

import (
	"fmt"
	"sync"
	"time"

	"pipetbot-go/pkg/labware"
)

// Op is one recorded driver call.
type Op struct {
	Name   string // "home", "pick_up_tip", "drop_tip", "aspirate", "dispense", "blow_out", "touch_tip"
	Mount  Mount
	Volume float64
	Loc    labware.Location
}

func (o Op) String() string {
	switch o.Name {
	case "home":
		return "home"
	case "drop_tip":
		return fmt.Sprintf("%s %s", o.Name, o.Mount)
	case "aspirate", "dispense":
		return fmt.Sprintf("%s %s %.3fuL %s", o.Name, o.Mount, o.Volume, o.Loc)
	default:
		return fmt.Sprintf("%s %s %s", o.Name, o.Mount, o.Loc)
	}
}

// Sim is an in-process driver for dry runs and tests. It records every
// call in order and can inject a failure at the Nth operation.
type Sim struct {
	mu     sync.Mutex
	ops    []Op
	closed bool

	// OpDelay, when nonzero, sleeps per call to mimic motion time.
	OpDelay time.Duration

	// FailAt injects an error on the Nth call (1-based); zero disables.
	FailAt  int
	FailErr error

	calls int
}

// NewSim returns an idle simulated driver.
func NewSim() *Sim {
	return &Sim{}
}

// Ops returns a copy of the recorded calls, oldest first.
func (s *Sim) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.ops))
	copy(out, s.ops)
	return out
}

// OpNames returns just the call names, for compact assertions.
func (s *Sim) OpNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.ops))
	for i, op := range s.ops {
		names[i] = op.Name
	}
	return names
}

// Reset clears the recorded calls (the failure script stays).
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
	s.calls = 0
}

func (s *Sim) record(op Op) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.calls++
	if s.FailAt > 0 && s.calls == s.FailAt {
		s.mu.Unlock()
		if s.FailErr != nil {
			return s.FailErr
		}
		return fmt.Errorf("driver: simulated failure at op %d (%s)", s.FailAt, op.Name)
	}
	s.ops = append(s.ops, op)
	delay := s.OpDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (s *Sim) Home() error {
	return s.record(Op{Name: "home"})
}

func (s *Sim) PickUpTip(mount Mount, slot labware.Location) error {
	return s.record(Op{Name: "pick_up_tip", Mount: mount, Loc: slot})
}

func (s *Sim) DropTip(mount Mount) error {
	return s.record(Op{Name: "drop_tip", Mount: mount})
}

func (s *Sim) Aspirate(mount Mount, volume float64, loc labware.Location) error {
	return s.record(Op{Name: "aspirate", Mount: mount, Volume: volume, Loc: loc})
}

func (s *Sim) Dispense(mount Mount, volume float64, loc labware.Location) error {
	return s.record(Op{Name: "dispense", Mount: mount, Volume: volume, Loc: loc})
}

func (s *Sim) BlowOut(mount Mount, loc labware.Location) error {
	return s.record(Op{Name: "blow_out", Mount: mount, Loc: loc})
}

func (s *Sim) TouchTip(mount Mount, loc labware.Location) error {
	return s.record(Op{Name: "touch_tip", Mount: mount, Loc: loc})
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
