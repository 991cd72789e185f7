// Package metrics implements the host's run instrumentation: labeled
// counters, gauges and histograms gathered into Prometheus text format.
// The monitor serves the exposition; there is no push path. Exposition
// order is deterministic (registration order, then sorted label sets) so
// scrapes and tests see stable output.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Labels identifies one series of a metric, e.g. {"instrument": "left"}.
// A nil or empty map is the unlabeled series.
type Labels map[string]string

// seriesKey folds a label set into a stable map key.
func seriesKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(labels[name])
	}
	return b.String()
}

// promLabels renders a label set in exposition syntax, `{k="v",...}`.
func promLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", name, labels[name])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Metric is one named instrument with HELP/TYPE metadata and any number
// of labeled series.
type Metric interface {
	Name() string
	expose(b *strings.Builder)
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// sortedKeys returns the series keys of a map in exposition order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counter is a monotonically increasing integer metric.
type Counter struct {
	name string
	help string

	mu     sync.Mutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels Labels
	value  uint64
}

// NewCounter returns an unregistered counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help, series: make(map[string]*counterSeries)}
}

func (c *Counter) Name() string { return c.name }

// Inc adds 1 to the labeled series.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta to the labeled series, creating it on first use.
func (c *Counter) Add(labels Labels, delta uint64) {
	key := seriesKey(labels)
	c.mu.Lock()
	s, ok := c.series[key]
	if !ok {
		s = &counterSeries{labels: copyLabels(labels)}
		c.series[key] = s
	}
	s.value += delta
	c.mu.Unlock()
}

// Get reads the labeled series; an unseen series reads 0.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[seriesKey(labels)]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) expose(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeHeader(b, c.name, c.help, "counter")
	for _, key := range sortedKeys(c.series) {
		s := c.series[key]
		fmt.Fprintf(b, "%s%s %d\n", c.name, promLabels(s.labels), s.value)
	}
}

// Gauge is a float metric that moves in both directions, e.g. the volume
// currently held in a tip or the fresh tips left in a rack.
type Gauge struct {
	name string
	help string

	mu     sync.Mutex
	series map[string]*gaugeSeries
}

type gaugeSeries struct {
	labels Labels
	value  float64
}

// NewGauge returns an unregistered gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help, series: make(map[string]*gaugeSeries)}
}

func (g *Gauge) Name() string { return g.name }

// Set replaces the labeled series value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.with(labels, func(s *gaugeSeries) { s.value = value })
}

// Add moves the labeled series by delta.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.with(labels, func(s *gaugeSeries) { s.value += delta })
}

// Get reads the labeled series; an unseen series reads 0.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[seriesKey(labels)]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) with(labels Labels, fn func(*gaugeSeries)) {
	key := seriesKey(labels)
	g.mu.Lock()
	s, ok := g.series[key]
	if !ok {
		s = &gaugeSeries{labels: copyLabels(labels)}
		g.series[key] = s
	}
	fn(s)
	g.mu.Unlock()
}

func (g *Gauge) expose(b *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	writeHeader(b, g.name, g.help, "gauge")
	for _, key := range sortedKeys(g.series) {
		s := g.series[key]
		fmt.Fprintf(b, "%s%s %g\n", g.name, promLabels(s.labels), s.value)
	}
}

// Histogram records a distribution in cumulative buckets. The host uses
// one for whole-run duration.
type Histogram struct {
	name   string
	help   string
	bounds []float64

	mu     sync.Mutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	labels  Labels
	count   uint64
	sum     float64
	buckets []uint64
}

// NewHistogram returns an unregistered histogram with the given upper
// bucket bounds. Bounds are sorted; the +Inf bucket is implicit.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, bounds: sorted, series: make(map[string]*histogramSeries)}
}

// ExponentialBuckets returns count bounds starting at start, each factor
// times the previous.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	bounds := make([]float64, count)
	for i := range bounds {
		bounds[i] = start
		start *= factor
	}
	return bounds
}

func (h *Histogram) Name() string { return h.name }

// Observe records one value in the labeled series.
func (h *Histogram) Observe(labels Labels, value float64) {
	key := seriesKey(labels)
	h.mu.Lock()
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{labels: copyLabels(labels), buckets: make([]uint64, len(h.bounds))}
		h.series[key] = s
	}
	s.count++
	s.sum += value
	for i, bound := range h.bounds {
		if value <= bound {
			s.buckets[i]++
		}
	}
	h.mu.Unlock()
}

// Count reads the labeled series observation count.
func (h *Histogram) Count(labels Labels) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[seriesKey(labels)]; ok {
		return s.count
	}
	return 0
}

func (h *Histogram) expose(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeHeader(b, h.name, h.help, "histogram")
	for _, key := range sortedKeys(h.series) {
		s := h.series[key]
		cumulative := uint64(0)
		for i, bound := range h.bounds {
			cumulative += s.buckets[i]
			bl := copyLabels(s.labels)
			bl["le"] = fmt.Sprintf("%g", bound)
			fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, promLabels(bl), cumulative)
		}
		bl := copyLabels(s.labels)
		bl["le"] = "+Inf"
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, promLabels(bl), s.count)
		fmt.Fprintf(b, "%s_sum%s %g\n", h.name, promLabels(s.labels), s.sum)
		fmt.Fprintf(b, "%s_count%s %d\n", h.name, promLabels(s.labels), s.count)
	}
}

// Registry collects the metrics one exposition endpoint serves.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]Metric
	ordered []Metric
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// Register adds a metric; duplicate names are an error.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.Name()]; ok {
		return fmt.Errorf("metrics: %q already registered", m.Name())
	}
	r.byName[m.Name()] = m
	r.ordered = append(r.ordered, m)
	return nil
}

// MustRegister adds a metric and panics on a duplicate name. Metric
// names here are compile-time constants, so a duplicate is a bug.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Gather renders every registered metric in registration order.
func (r *Registry) Gather() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, m := range r.ordered {
		m.expose(&b)
	}
	return b.String()
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry the host uses when
// no explicit one is wired.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
