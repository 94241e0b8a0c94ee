// Metric primitives for the motion host
//
// Counter, Gauge and Histogram with optional labels, collected in a
// Registry that renders Prometheus text format.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Labels is a set of label key/value pairs attached to a sample.
type Labels map[string]string

func (l Labels) key() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, l[k])
	}
	return sb.String()
}

// Metric is the interface implemented by all metric types.
type Metric interface {
	Name() string
	Help() string
	render(sb *strings.Builder)
}

// Counter is a monotonically increasing value.
type Counter struct {
	mu     sync.Mutex
	name   string
	help   string
	values map[string]float64
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help, values: make(map[string]float64)}
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the metric help text.
func (c *Counter) Help() string { return c.help }

// Inc increments the counter by one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increments the counter by n.
func (c *Counter) Add(labels Labels, n uint64) {
	c.mu.Lock()
	c.values[labels.key()] += float64(n)
	c.mu.Unlock()
}

// Get returns the current value for the given labels.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.values[labels.key()])
}

func (c *Counter) render(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	renderSamples(sb, c.name, c.help, "counter", c.values)
}

// Gauge is a value that can go up and down.
type Gauge struct {
	mu     sync.Mutex
	name   string
	help   string
	values map[string]float64
}

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help, values: make(map[string]float64)}
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the metric help text.
func (g *Gauge) Help() string { return g.help }

// Set sets the gauge value for the given labels.
func (g *Gauge) Set(labels Labels, v float64) {
	g.mu.Lock()
	g.values[labels.key()] = v
	g.mu.Unlock()
}

// Get returns the current value for the given labels.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[labels.key()]
}

func (g *Gauge) render(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	renderSamples(sb, g.name, g.help, "gauge", g.values)
}

// Histogram accumulates observations into fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  map[string][]uint64
	sums    map[string]float64
	totals  map[string]uint64
}

// DefaultBuckets returns bucket boundaries suited to sub-second timings.
func DefaultBuckets() []float64 {
	return []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
}

// NewHistogram creates a histogram with the given bucket upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sort.Float64s(buckets)
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make(map[string][]uint64),
		sums:    make(map[string]float64),
		totals:  make(map[string]uint64),
	}
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Help returns the metric help text.
func (h *Histogram) Help() string { return h.help }

// Observe records a single observation.
func (h *Histogram) Observe(labels Labels, v float64) {
	key := labels.key()
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := h.counts[key]
	if counts == nil {
		counts = make([]uint64, len(h.buckets))
		h.counts[key] = counts
	}
	for i, upper := range h.buckets {
		if v <= upper {
			counts[i]++
		}
	}
	h.sums[key] += v
	h.totals[key]++
}

// Count returns the total number of observations for the given labels.
func (h *Histogram) Count(labels Labels) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totals[labels.key()]
}

func (h *Histogram) render(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	keys := make([]string, 0, len(h.totals))
	for k := range h.totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for i, upper := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket{%s} %d\n", h.name, joinLabelKey(key, fmt.Sprintf("le=%q", formatFloat(upper))), h.counts[key][i])
		}
		fmt.Fprintf(sb, "%s_bucket{%s} %d\n", h.name, joinLabelKey(key, `le="+Inf"`), h.totals[key])
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, wrapLabelKey(key), formatFloat(h.sums[key]))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, wrapLabelKey(key), h.totals[key])
	}
}

func renderSamples(sb *strings.Builder, name, help, typ string, values map[string]float64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(sb, "%s%s %s\n", name, wrapLabelKey(key), formatFloat(values[key]))
	}
}

func wrapLabelKey(key string) string {
	if key == "" {
		return ""
	}
	return "{" + key + "}"
}

func joinLabelKey(key, extra string) string {
	if key == "" {
		return extra
	}
	return key + "," + extra
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}

// Registry collects metrics for rendering.
type Registry struct {
	mu      sync.Mutex
	metrics []Metric
	byName  map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// MustRegister adds a metric; duplicate names panic.
func (r *Registry) MustRegister(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.Name()]; ok {
		panic("metrics: duplicate registration of " + m.Name())
	}
	r.byName[m.Name()] = m
	r.metrics = append(r.metrics, m)
}

// Gather renders all registered metrics in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, m := range r.metrics {
		m.render(&sb)
	}
	return sb.String()
}
