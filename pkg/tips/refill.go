package tips

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Confirmer is the blocking operator acknowledgment channel. Confirm
// returns once the operator has acted on the prompt, or an error if the
// acknowledgment path fails (closed input, optional wait timeout).
type Confirmer interface {
	Confirm(prompt string) error
}

// RefillCoordinator is the single recovery path for tip exhaustion: suspend
// the run, ask the operator to physically replace an instrument's tip
// racks, then reset every rack to full. The allocator retries exactly once
// after a refill; there is no other automatic recovery.
type RefillCoordinator struct {
	confirm Confirmer

	// onRefill, when set, observes each completed refill (journal/monitor).
	onRefill func(instrument string, racks []string)

	refills atomic.Int64
}

// NewRefillCoordinator returns a coordinator that blocks on the given
// operator channel.
func NewRefillCoordinator(confirm Confirmer) *RefillCoordinator {
	return &RefillCoordinator{confirm: confirm}
}

// SetRefillCallback registers an observer invoked after each confirmed
// rack replacement.
func (rc *RefillCoordinator) SetRefillCallback(fn func(instrument string, racks []string)) {
	rc.onRefill = fn
}

// Refills returns how many refill cycles have completed.
func (rc *RefillCoordinator) Refills() int64 {
	return rc.refills.Load()
}

// RequestRefill blocks until the operator confirms that the named
// instrument's tip racks have been replaced, then resets each rack to full.
// No motion may be attempted while this call is pending.
func (rc *RefillCoordinator) RequestRefill(instrument string, racks []*Rack) error {
	names := make([]string, 0, len(racks))
	for _, r := range racks {
		names = append(names, r.Name())
	}
	prompt := fmt.Sprintf("%s is out of tips. Replace tip rack(s) %s with full ones, then confirm to resume.",
		instrument, strings.Join(names, ", "))
	if err := rc.confirm.Confirm(prompt); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	}
	for _, r := range racks {
		r.Reset()
	}
	rc.refills.Add(1)
	if rc.onRefill != nil {
		rc.onRefill(instrument, names)
	}
	return nil
}
