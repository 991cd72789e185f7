package metrics

import (
	"sync"
	"time"
)

// RunMetrics holds the host's run metrics. Counters carry an
// "instrument" label; rack gauges a "rack" label.
type RunMetrics struct {
	// Liquid handling
	Transfers       *Counter // completed transfers
	VolumeDispensed *Counter // microliters dispensed, x1000 (integer counter)
	HeldVolume      *Gauge   // microliters currently in the tip

	// Tip accounting
	TipsPicked    *Counter
	TipsRemaining *Gauge
	Refills       *Counter

	// Failures
	Errors *Counter

	// Run state
	RunActive *Gauge
	RunTime   *Histogram // whole-run duration in seconds

	registry *Registry
}

// NewRunMetrics creates and registers the run metrics in a registry.
// Pass nil for the default registry.
func NewRunMetrics(registry *Registry) *RunMetrics {
	if registry == nil {
		registry = DefaultRegistry()
	}
	rm := &RunMetrics{
		Transfers:       NewCounter("pipetbot_transfers_total", "Completed liquid transfers"),
		VolumeDispensed: NewCounter("pipetbot_volume_dispensed_nanoliters_total", "Total dispensed volume in nanoliters"),
		HeldVolume:      NewGauge("pipetbot_held_volume_microliters", "Liquid volume currently held in the tip"),
		TipsPicked:      NewCounter("pipetbot_tips_picked_total", "Tips picked up"),
		TipsRemaining:   NewGauge("pipetbot_tips_remaining", "Fresh tips remaining per rack"),
		Refills:         NewCounter("pipetbot_rack_refills_total", "Confirmed tip rack replacements"),
		Errors:          NewCounter("pipetbot_errors_total", "Run errors by kind"),
		RunActive:       NewGauge("pipetbot_run_active", "1 while a protocol run is executing"),
		RunTime:         NewHistogram("pipetbot_run_seconds", "Protocol run duration", ExponentialBuckets(60, 2, 8)),
		registry:        registry,
	}
	registry.MustRegister(rm.Transfers)
	registry.MustRegister(rm.VolumeDispensed)
	registry.MustRegister(rm.HeldVolume)
	registry.MustRegister(rm.TipsPicked)
	registry.MustRegister(rm.TipsRemaining)
	registry.MustRegister(rm.Refills)
	registry.MustRegister(rm.Errors)
	registry.MustRegister(rm.RunActive)
	registry.MustRegister(rm.RunTime)
	return rm
}

// Registry returns the registry the metrics are registered in.
func (rm *RunMetrics) Registry() *Registry { return rm.registry }

// RecordTransfer counts one completed transfer on an instrument.
func (rm *RunMetrics) RecordTransfer(instrument string, volumeUl float64) {
	labels := Labels{"instrument": instrument}
	rm.Transfers.Inc(labels)
	rm.VolumeDispensed.Add(labels, uint64(volumeUl*1000))
}

// RecordPickUp counts one tip pickup of count tips.
func (rm *RunMetrics) RecordPickUp(instrument string, count int) {
	rm.TipsPicked.Add(Labels{"instrument": instrument}, uint64(count))
}

// RunTimer marks the run active and returns a stop function that records
// the duration and clears the active gauge.
func (rm *RunMetrics) RunTimer() func() {
	rm.RunActive.Set(nil, 1)
	start := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() {
			rm.RunActive.Set(nil, 0)
			rm.RunTime.Observe(nil, time.Since(start).Seconds())
		})
	}
}
