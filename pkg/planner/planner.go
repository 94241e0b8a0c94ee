// Package planner converts a stream of motion submissions into a
// time-sequenced series of short constant-velocity segments for a
// downstream pulse generator. It performs lookahead optimisation across
// the queued blocks, computes jerk-limited S-curve profiles, enforces
// corner-speed limits from geometry, and supports live replanning for
// feedholds.
//
// The package hosts two cooperating contexts: the main loop (submission,
// lookahead, hold planning) and the executor (one segment per tick,
// driven by the pulse generator). Ownership of shared state is handed
// over through the block state field and the machine state words, all
// accessed with atomic release/acquire semantics; the executor's motion
// code takes no locks and allocates nothing per segment. With metrics
// attached, the tick's metric updates take the metric mutexes and
// allocate the per-axis label sets.
package planner

import (
	"sync/atomic"

	"cnc-motion/pkg/config"
	"cnc-motion/pkg/errors"
	"cnc-motion/pkg/kinematics"
	"cnc-motion/pkg/log"
	"cnc-motion/pkg/metrics"
	"cnc-motion/pkg/stepper"
)

// NumAxes is the number of configured axes (X, Y, Z, A, B, C).
const NumAxes = 6

// Axis indices into position vectors.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisA
	AxisB
	AxisC
)

var axisNames = [NumAxes]string{"x", "y", "z", "a", "b", "c"}

// Vector is a per-axis value set (positions in mm or degrees).
type Vector [NumAxes]float64

const (
	usecPerMinute = 60e6
	usecPerSecond = 1e6

	// junctionVmax sentinel for effectively-straight corners
	straightJunctionVelocity = 1e7

	// velocity cap used in place of +Inf when exact stop is off
	unlimitedVelocity = 12345678.0
)

// PathControlMode selects how block junctions are capped.
type PathControlMode int

const (
	// PathContinuous blends junction velocities from corner geometry.
	PathContinuous PathControlMode = iota
	// PathExactStop forces every block to enter and exit at zero.
	PathExactStop
)

// AxisSettings holds per-axis planner limits.
type AxisSettings struct {
	// JerkMax is the maximum jerk in mm/min^3.
	JerkMax float64
	// JunctionDeviation is the cornering deviation contribution in mm.
	JunctionDeviation float64
}

// Settings holds all planner configuration.
type Settings struct {
	Axes [NumAxes]AxisSettings

	// JunctionAcceleration is the centripetal acceleration budget used
	// for corner speed limits, in mm/min^2.
	JunctionAcceleration float64

	// SegmentTargetUs is the target duration of one emitted segment.
	SegmentTargetUs float64

	// PoolSize is the number of planning blocks in the ring.
	PoolSize int

	// Epsilon is the smallest meaningful length or time.
	Epsilon float64

	// VelocityTolerance is the equality band for velocities, mm/min.
	VelocityTolerance float64

	// LengthTolerance is the equality band for lengths, mm.
	LengthTolerance float64

	// MinSectionLength is the shortest section worth executing; shorter
	// sections are zeroed and redistributed.
	MinSectionLength float64

	// LengthFactor scales the minimum length when deciding whether a
	// block still gets a cruise region.
	LengthFactor float64

	// IterationErrorPct terminates the asymmetric two-section fit.
	IterationErrorPct float64

	// MaxIterations bounds the asymmetric two-section fit.
	MaxIterations int
}

// DefaultSettings returns settings matching a mid-size machine profile.
func DefaultSettings() Settings {
	s := Settings{
		JunctionAcceleration: 2e5,
		SegmentTargetUs:      5000,
		PoolSize:             48,
		Epsilon:              1e-6,
		VelocityTolerance:    1.0,
		LengthTolerance:      1e-4,
		MinSectionLength:     0.001,
		LengthFactor:         1.25,
		IterationErrorPct:    0.01,
		MaxIterations:        20,
	}
	for i := range s.Axes {
		s.Axes[i] = AxisSettings{JerkMax: 5e7, JunctionDeviation: 0.05}
	}
	return s
}

// SettingsFromConfig builds Settings from a [planner] section and any
// [axis_*] sections present in the profile.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	s := DefaultSettings()
	if sec := cfg.Section("planner"); sec != nil {
		var err error
		if s.PoolSize, err = sec.GetInt("pool_size", s.PoolSize); err != nil {
			return s, err
		}
		if s.SegmentTargetUs, err = sec.GetFloatAbove("segment_target_us", 0, s.SegmentTargetUs); err != nil {
			return s, err
		}
		if s.JunctionAcceleration, err = sec.GetFloatAbove("junction_acceleration", 0, s.JunctionAcceleration); err != nil {
			return s, err
		}
		if s.MinSectionLength, err = sec.GetFloat("min_section_length", s.MinSectionLength); err != nil {
			return s, err
		}
	}
	if s.PoolSize < 4 {
		return s, errors.ConfigValidationError("planner", "pool_size", "must be at least 4")
	}
	for i := 0; i < NumAxes; i++ {
		sec := cfg.Section("axis_" + axisNames[i])
		if sec == nil {
			continue
		}
		var err error
		if s.Axes[i].JerkMax, err = sec.GetFloatAbove("jerk_max", 0, s.Axes[i].JerkMax); err != nil {
			return s, err
		}
		if s.Axes[i].JunctionDeviation, err = sec.GetFloat("junction_deviation", s.Axes[i].JunctionDeviation); err != nil {
			return s, err
		}
	}
	return s, nil
}

// MotionState is the coarse machine motion state.
type MotionState int32

const (
	// MotionStop means no motion is in progress.
	MotionStop MotionState = iota
	// MotionRun means segments are being executed.
	MotionRun
	// MotionHold means a feedhold is in effect.
	MotionHold
)

// HoldState is the feedhold state machine.
type HoldState int32

const (
	// HoldOff - no hold in progress.
	HoldOff HoldState = iota
	// HoldSync - hold asserted; executor finishes the current segment.
	HoldSync
	// HoldPlan - main loop must replan the queue for the hold.
	HoldPlan
	// HoldDecel - decelerating toward the hold point.
	HoldDecel
	// HoldHold - stopped, waiting for release.
	HoldHold
	// HoldEndHold - release requested; main loop restarts execution.
	HoldEndHold
)

// CycleState tracks whether a machining cycle is active.
type CycleState int32

const (
	// CycleOff - no cycle active.
	CycleOff CycleState = iota
	// CycleStarted - a cycle is active.
	CycleStarted
)

// SpindleDirection selects spindle rotation for auxiliary commands.
type SpindleDirection int

const (
	// SpindleOff stops the spindle.
	SpindleOff SpindleDirection = iota
	// SpindleCW runs the spindle clockwise.
	SpindleCW
	// SpindleCCW runs the spindle counter-clockwise.
	SpindleCCW
)

// Callbacks are the upstream side-effect hooks invoked from the
// executor when auxiliary blocks reach the front of the queue. Nil
// hooks are skipped.
type Callbacks struct {
	ProgramStop        func()
	ProgramEnd         func()
	SpindleControl     func(SpindleDirection)
	MistCoolant        func(bool)
	FloodCoolant       func(bool)
	FeedOverrideEnable func(bool)
	ToolChange         func(tool int)
	SpindleSpeed       func(rpm float64)

	// CycleStart / CycleEnd bracket machine activity.
	CycleStart func()
	CycleEnd   func()

	// AbortArcs aborts any in-progress arc decomposition on flush.
	AbortArcs func()

	// HoldEntered fires when a feedhold finishes decelerating.
	HoldEntered func()

	// HoldPlanNeeded fires from the executor context when the hold
	// state reaches HoldPlan; the receiver must arrange for
	// PlanHoldCallback to run on the main loop.
	HoldPlanNeeded func()
}

// Planner is the trajectory planner singleton pair (planning state plus
// runtime state) with its block pool.
type Planner struct {
	set Settings

	pool *bufferPool
	mm   moveMaster
	mr   runtimeState

	ik   kinematics.Inverse
	sink stepper.Sink
	cb   Callbacks
	mc   mcodeTable

	logger *log.Logger
	mx     *metrics.MotionMetrics

	motionState atomic.Int32
	holdState   atomic.Int32
	cycleState  atomic.Int32
	pathControl atomic.Int32

	lineNumber atomic.Uint32

	// latched fatal error from the executor context, surfaced on the
	// next main-loop query
	execErr atomic.Pointer[errors.MotionError]
}

// moveMaster holds planning-time state: the end-of-queue position used
// as the start point for the next submission. It leads the physical
// tool position.
type moveMaster struct {
	position Vector
}

// New constructs a planner. sink and ik are required; logger and mx may
// be nil.
func New(set Settings, ik kinematics.Inverse, sink stepper.Sink, logger *log.Logger, mx *metrics.MotionMetrics) *Planner {
	if logger == nil {
		logger = log.Discard()
	}
	p := &Planner{
		set:    set,
		pool:   newBufferPool(set.PoolSize),
		ik:     ik,
		sink:   sink,
		logger: logger,
		mx:     mx,
	}
	p.mr.init(ik.MotorCount())
	p.mc = defaultMCodeTable()
	return p
}

// SetCallbacks installs the upstream side-effect hooks. Must be called
// before execution begins.
func (p *Planner) SetCallbacks(cb Callbacks) {
	p.cb = cb
}

// SetPathControl selects continuous or exact-stop junction handling for
// subsequent submissions.
func (p *Planner) SetPathControl(mode PathControlMode) {
	p.pathControl.Store(int32(mode))
}

// SetLineNumber records the source line number stamped on subsequent
// submissions.
func (p *Planner) SetLineNumber(n uint32) {
	p.lineNumber.Store(n)
}

// MotionState returns the current motion state.
func (p *Planner) MotionState() MotionState {
	return MotionState(p.motionState.Load())
}

// HoldState returns the current feedhold state.
func (p *Planner) HoldState() HoldState {
	return HoldState(p.holdState.Load())
}

// IsBusy reports whether motion is in progress: the pulse generator
// still holds segments, the runtime is mid-block, or blocks are queued.
func (p *Planner) IsBusy() bool {
	if p.sink.IsBusy() {
		return true
	}
	if p.mr.section != sectionOff {
		return true
	}
	return !p.pool.queueEmpty()
}

// QueueHasSpace reports whether a write slot is available. Submitters
// must gate on this; submitting into a full pool is fatal.
func (p *Planner) QueueHasSpace() bool {
	return p.pool.writeAvailable()
}

// QueueDepth returns the number of committed blocks not yet released.
func (p *Planner) QueueDepth() int {
	return p.pool.depth()
}

// ExecError returns (and clears) a fatal error latched by the executor
// context.
func (p *Planner) ExecError() error {
	if e := p.execErr.Swap(nil); e != nil {
		return e
	}
	return nil
}

func (p *Planner) latchExecError(e *errors.MotionError) {
	p.execErr.Store(e)
	if p.mx != nil {
		p.mx.ExecErrors.Inc(nil)
	}
	p.logger.Error("executor fault: %v", e)
}

// PlanPosition returns a copy of the planning position (end of queue).
func (p *Planner) PlanPosition() Vector {
	return p.mm.position
}

// SetPlanPosition resets the planning position without touching the
// runtime (position-set commands).
func (p *Planner) SetPlanPosition(pos Vector) {
	p.mm.position = pos
}

// SetAxisPosition resets both the planning and runtime positions (used
// by arc helpers after decomposition restarts).
func (p *Planner) SetAxisPosition(pos Vector) {
	p.mm.position = pos
	p.mr.position = pos
}

// RuntimePosition returns the runtime position of one axis.
func (p *Planner) RuntimePosition(axis int) float64 {
	return p.mr.position[axis]
}

// RuntimeVelocity returns the velocity of the segment currently
// executing, in mm/min.
func (p *Planner) RuntimeVelocity() float64 {
	return p.mr.segmentVelocity
}

// RuntimeLineNumber returns the source line of the block currently
// executing.
func (p *Planner) RuntimeLineNumber() uint32 {
	return p.mr.lineNumber
}

// ZeroSegmentVelocity zeroes the reported segment velocity once motion
// has stopped, so status consumers see 0 rather than the last segment's
// value.
func (p *Planner) ZeroSegmentVelocity() {
	p.mr.segmentVelocity = 0
}

// Flush clears all queued (not running) blocks and stops motion. Any
// in-progress arc decomposition upstream is aborted as well.
func (p *Planner) Flush() {
	if p.cb.AbortArcs != nil {
		p.cb.AbortArcs()
	}
	p.pool.flushQueued()
	p.motionState.Store(int32(MotionStop))
	p.logger.Info("planner flushed")
}

func (p *Planner) settings() *Settings {
	return &p.set
}
