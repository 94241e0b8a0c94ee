// Motion-specific metrics definitions
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// MotionMetrics holds all metrics exported by the motion host.
type MotionMetrics struct {
	// Planner metrics
	BlocksQueued    *Counter
	LookaheadPasses *Counter
	QueueDepth      *Gauge
	PlanningTime    *Histogram

	// Executor metrics
	SegmentsEmitted *Counter
	RuntimeVelocity *Gauge
	RuntimePosition *Gauge
	ExecErrors      *Counter

	// Feedhold metrics
	FeedholdsRequested *Counter
	FeedholdsReleased  *Counter

	// System metrics
	HostUptime   *Counter
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	startTime time.Time
	registry  *Registry
}

// NewMotionMetrics creates and registers all motion metrics.
func NewMotionMetrics() *MotionMetrics {
	mm := &MotionMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	mm.BlocksQueued = NewCounter("motion_blocks_queued_total",
		"Total planning blocks committed to the queue")
	mm.LookaheadPasses = NewCounter("motion_lookahead_passes_total",
		"Total two-pass lookahead replans")
	mm.QueueDepth = NewGauge("motion_queue_depth",
		"Blocks in the queue as of the last commit; not updated as blocks finish or on flush")
	mm.PlanningTime = NewHistogram("motion_planning_seconds",
		"Time spent in lookahead planning", DefaultBuckets())

	mm.SegmentsEmitted = NewCounter("motion_segments_emitted_total",
		"Total segments prepared for the stepper layer")
	mm.RuntimeVelocity = NewGauge("motion_runtime_velocity_mm_per_min",
		"Velocity of the segment currently executing")
	mm.RuntimePosition = NewGauge("motion_runtime_position_mm",
		"Runtime position per axis")
	mm.ExecErrors = NewCounter("motion_exec_errors_total",
		"Fatal executor errors")

	mm.FeedholdsRequested = NewCounter("motion_feedholds_requested_total",
		"Feedhold assertions")
	mm.FeedholdsReleased = NewCounter("motion_feedholds_released_total",
		"Feedhold releases")

	mm.HostUptime = NewCounter("motion_host_uptime_seconds_total",
		"Host uptime in seconds")
	mm.GoGoroutines = NewGauge("motion_go_goroutines",
		"Number of goroutines")
	mm.GoMemoryHeap = NewGauge("motion_go_memory_heap_bytes",
		"Go heap memory in use")

	mm.registerAll()
	return mm
}

func (mm *MotionMetrics) registerAll() {
	metrics := []Metric{
		mm.BlocksQueued, mm.LookaheadPasses, mm.QueueDepth, mm.PlanningTime,
		mm.SegmentsEmitted, mm.RuntimeVelocity, mm.RuntimePosition, mm.ExecErrors,
		mm.FeedholdsRequested, mm.FeedholdsReleased,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap,
	}
	for _, m := range metrics {
		mm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics.
func (mm *MotionMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	up := uint64(time.Since(mm.startTime).Seconds())
	mm.HostUptime.Add(nil, up-mm.HostUptime.Get(nil))
}

// SetRuntimePosition updates the per-axis runtime position gauge.
func (mm *MotionMetrics) SetRuntimePosition(axis string, v float64) {
	mm.RuntimePosition.Set(Labels{"axis": axis}, v)
}

// Gather returns all metrics in Prometheus text format.
func (mm *MotionMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the internal registry.
func (mm *MotionMetrics) Registry() *Registry {
	return mm.registry
}
