package planner

import (
	"math"

	"cnc-motion/pkg/errors"
)

// Status is the executor's per-tick result.
type Status int

const (
	// StatusOK - the current block finished.
	StatusOK Status = iota
	// StatusAgain - more segments pending in the current block.
	StatusAgain
	// StatusNoop - nothing to do; the stepper must not load a move.
	StatusNoop
)

// moveSection identifies the executing section within a block.
type moveSection uint8

const (
	sectionOff moveSection = iota
	sectionHead
	sectionBody
	sectionTail
)

// sectionState sequences execution within a section.
type sectionState uint8

const (
	sectionNew sectionState = iota
	sectionRun1
	sectionRun2
)

// internal segment/section results
const (
	stEagain = iota
	stOK
	stComplete
)

// runtimeState is the executor's working state: persistent across exec
// ticks, owned by the executor context. Hold planning mutates it only
// while the executor is paused between segments (HoldPlan handoff).
type runtimeState struct {
	lineNumber   uint32
	section      moveSection
	sectionState sectionState

	endpoint Vector // final target of the move, for the endpoint snap
	position Vector // runtime position after the last segment
	target   Vector // target of the segment being prepared
	unit     Vector

	headLength float64
	bodyLength float64
	tailLength float64

	entryVelocity  float64
	cruiseVelocity float64
	exitVelocity   float64

	moveTime             float64 // section time in minutes
	accelTime            float64 // pseudo-time for the accel ramp
	elapsedAccelTime     float64
	midpointVelocity     float64
	midpointAcceleration float64
	jerk                 float64
	jerkDiv2             float64

	segments        float64 // segments per ramp half (or per body)
	segmentCount    uint32
	segmentMoveTime float64 // minutes per segment
	segmentAccelTime float64
	microseconds    float64 // duration of one segment in usec
	segmentLength   float64
	segmentVelocity float64

	// preallocated scratch; the executor allocates nothing per segment
	travel []float64
	steps  []float64
}

func (mr *runtimeState) init(motorCount int) {
	mr.travel = make([]float64, NumAxes)
	mr.steps = make([]float64, motorCount)
}

// LastSegmentDurationUs returns the duration of the most recently
// prepared segment. The executor pump paces ticks with it.
func (p *Planner) LastSegmentDurationUs() float64 {
	return p.mr.microseconds
}

// ExecMove prepares exactly one downstream segment (line or dwell) per
// call. Runs in the executor context; must not block.
func (p *Planner) ExecMove() (Status, error) {
	bf := p.pool.currentRun()
	if bf == nil {
		return StatusNoop, nil // nothing's running
	}
	if CycleState(p.cycleState.Load()) == CycleOff {
		p.cycleStart()
	}
	if p.MotionState() == MotionStop && bf.kind == KindAccelLine {
		p.motionState.Store(int32(MotionRun)) // auto state-change
	}
	switch bf.kind {
	case KindLine:
		return p.execLine(bf)
	case KindAccelLine:
		return p.execAccelLine(bf)
	case KindDwell:
		return p.execDwell(bf)
	case KindMCode:
		return p.execMCode(bf)
	case KindTool:
		return p.execTool(bf)
	case KindSpindleSpeed:
		return p.execSpindleSpeed(bf)
	}
	err := errors.InternalError("exec dispatch on unknown block kind")
	p.freeRunBlock()
	p.latchExecError(err)
	return StatusNoop, err
}

func (p *Planner) cycleStart() {
	p.cycleState.Store(int32(CycleStarted))
	if p.cb.CycleStart != nil {
		p.cb.CycleStart()
	}
}

func (p *Planner) cycleEnd() {
	p.cycleState.Store(int32(CycleOff))
	if p.MotionState() != MotionHold {
		p.motionState.Store(int32(MotionStop))
	}
	if p.cb.CycleEnd != nil {
		p.cb.CycleEnd()
	}
}

// freeRunBlock releases the run slot and ends the cycle if the queue
// emptied.
func (p *Planner) freeRunBlock() {
	if p.pool.finaliseRun() {
		p.cycleEnd()
	}
}

// execLine runs an unaccelerated line: a single segment covering the
// whole move.
func (p *Planner) execLine(bf *block) (Status, error) {
	mr := &p.mr
	mr.lineNumber = bf.lineNumber
	for i := 0; i < NumAxes; i++ {
		mr.travel[i] = bf.target[i] - mr.position[i]
	}
	mr.microseconds = bf.time * usecPerMinute
	if err := p.ik.Transform(mr.travel, mr.microseconds, mr.steps); err != nil {
		p.freeRunBlock()
		e := errors.Wrap(err, errors.ErrInternal, "inverse kinematics failed")
		p.latchExecError(e)
		return StatusNoop, e
	}
	if err := p.sink.PrepLine(mr.steps, mr.microseconds); err == nil {
		mr.position = bf.target
		p.noteSegment()
	}
	p.freeRunBlock()
	return StatusOK, nil
}

// execDwell passes a timed pause to the stepper layer, which times it
// on a separate timer from the pulse clock.
func (p *Planner) execDwell(bf *block) (Status, error) {
	p.mr.microseconds = bf.time * usecPerSecond
	p.sink.PrepDwell(p.mr.microseconds)
	p.freeRunBlock()
	return StatusOK, nil
}

// execMCode dispatches a queued auxiliary command through the handler
// table, then preps a null to keep the stepper loader ordering intact.
func (p *Planner) execMCode(bf *block) (Status, error) {
	handler, ok := p.mc[bf.code]
	if !ok {
		p.freeRunBlock()
		err := errors.UnknownCodeError(int(bf.code))
		p.latchExecError(err)
		return StatusNoop, err
	}
	handler(&p.cb)
	p.sink.PrepNull()
	p.freeRunBlock()
	return StatusOK, nil
}

func (p *Planner) execTool(bf *block) (Status, error) {
	if p.cb.ToolChange != nil {
		p.cb.ToolChange(bf.tool)
	}
	p.sink.PrepNull()
	p.freeRunBlock()
	return StatusOK, nil
}

func (p *Planner) execSpindleSpeed(bf *block) (Status, error) {
	if p.cb.SpindleSpeed != nil {
		p.cb.SpindleSpeed(bf.rpm)
	}
	p.sink.PrepNull()
	p.freeRunBlock()
	return StatusOK, nil
}

// execAccelLine generates the jerk-limited S-curve for one block, one
// segment per call.
//
// A full trapezoid has five periods: the concave and convex halves of
// the acceleration ramp (head), the constant-velocity body, and the two
// halves of the deceleration ramp (tail). The ramp halves follow:
//
//	head run1:  V = Ve + Jm*(T^2)/2
//	head run2:  V = Vh + As*T - Jm*(T^2)/2
//	tail run1:  V = Vt - Jm*(T^2)/2
//	tail run2:  V = Vh - As*T + Jm*(T^2)/2
//
// with T measured from the start of each half, Vh the midpoint velocity
// and As the midpoint acceleration.
func (p *Planner) execAccelLine(bf *block) (Status, error) {
	mr := &p.mr

	if bf.moveState() == moveStateOff {
		return StatusNoop, nil
	}
	if mr.section == sectionOff {
		if bf.holdPoint.Load() {
			// the hold point pins the queue until released
			if p.HoldState() == HoldDecel {
				p.enterHold()
			}
			return StatusNoop, nil
		}

		// initialization to process the new incoming block
		bf.replannable.Store(false)
		if bf.length < p.set.Epsilon {
			// nothing to execute (hold replanning can shrink a block
			// to nothing); release the slot so the queue keeps moving
			p.freeRunBlock()
			return StatusOK, nil
		}
		bf.setMoveState(moveStateRun)
		mr.section = sectionHead
		mr.sectionState = sectionNew
		mr.lineNumber = bf.lineNumber
		mr.jerk = bf.jerk
		mr.jerkDiv2 = bf.jerk / 2
		mr.headLength = bf.headLength
		mr.bodyLength = bf.bodyLength
		mr.tailLength = bf.tailLength
		mr.entryVelocity = bf.entryVelocity
		mr.cruiseVelocity = bf.cruiseVelocity
		mr.exitVelocity = bf.exitVelocity
		mr.unit = bf.unit
		mr.endpoint = bf.target // saved to correct rounding on the last segment
	}
	// from here on the block contents no longer affect execution

	var status int
	switch mr.section {
	case sectionHead:
		status = p.execAlineHead()
	case sectionBody:
		status = p.execAlineBody()
	case sectionTail:
		status = p.execAlineTail()
	default:
		err := errors.InternalError("executor in unknown section")
		p.freeRunBlock()
		p.latchExecError(err)
		return StatusNoop, err
	}

	// feedhold post-processing
	if p.HoldState() == HoldSync {
		p.holdState.Store(int32(HoldPlan))
		if p.cb.HoldPlanNeeded != nil {
			p.cb.HoldPlanNeeded()
		}
	}
	if p.HoldState() == HoldDecel && status == stOK && bf.holdPoint.Load() {
		p.enterHold()
	}

	if status == stEagain {
		return StatusAgain, nil
	}

	// the move (mr) is done; the block may have been reused by hold
	// planning, in which case it runs again rather than being freed
	mr.section = sectionOff
	mr.sectionState = sectionNew
	p.pool.at(p.pool.next(p.pool.r)).replannable.Store(false) // prevent overplanning
	if bf.moveState() == moveStateRun {
		p.freeRunBlock()
	}
	return StatusOK, nil
}

func (p *Planner) execAlineHead() int {
	mr := &p.mr
	set := &p.set

	if mr.sectionState == sectionNew {
		if mr.headLength < set.Epsilon {
			mr.section = sectionBody
			return p.execAlineBody() // skip ahead
		}
		mr.midpointVelocity = (mr.entryVelocity + mr.cruiseVelocity) / 2
		mr.moveTime = mr.headLength / mr.midpointVelocity
		mr.accelTime = 2 * math.Sqrt((mr.cruiseVelocity-mr.entryVelocity)/mr.jerk)
		mr.midpointAcceleration = 2 * (mr.cruiseVelocity - mr.entryVelocity) / mr.accelTime
		// segments per ramp half
		mr.segments = math.Ceil((mr.moveTime * usecPerMinute) / (2 * set.SegmentTargetUs))
		mr.segmentMoveTime = mr.moveTime / (2 * mr.segments)
		mr.segmentAccelTime = mr.accelTime / (2 * mr.segments)
		mr.elapsedAccelTime = mr.segmentAccelTime / 2 // elapsed time starting offset
		mr.segmentCount = uint32(mr.segments)
		mr.microseconds = mr.segmentMoveTime * usecPerMinute
		mr.sectionState = sectionRun1
	}
	if mr.sectionState == sectionRun1 {
		mr.segmentVelocity = mr.entryVelocity + (mr.elapsedAccelTime * mr.elapsedAccelTime * mr.jerkDiv2)
		if p.execAlineSegment(false) == stComplete { // set up for the second half
			mr.elapsedAccelTime = mr.segmentAccelTime / 2
			mr.segmentCount = uint32(mr.segments)
			mr.sectionState = sectionRun2
		}
		return stEagain
	}
	if mr.sectionState == sectionRun2 {
		mr.segmentVelocity = mr.midpointVelocity + (mr.elapsedAccelTime * mr.midpointAcceleration) -
			(mr.elapsedAccelTime * mr.elapsedAccelTime * mr.jerkDiv2)
		if p.execAlineSegment(false) == stComplete {
			if (mr.bodyLength < set.Epsilon) &&
				(mr.tailLength < set.Epsilon) {
				return stOK // end the move
			}
			mr.section = sectionBody
			mr.sectionState = sectionNew
		}
	}
	return stEagain
}

// execAlineBody runs the cruise region as equal constant-velocity
// segments.
func (p *Planner) execAlineBody() int {
	mr := &p.mr
	set := &p.set

	if mr.sectionState == sectionNew {
		if mr.bodyLength < set.Epsilon {
			mr.section = sectionTail
			return p.execAlineTail() // skip ahead
		}
		mr.moveTime = mr.bodyLength / mr.cruiseVelocity
		mr.segments = math.Ceil((mr.moveTime * usecPerMinute) / set.SegmentTargetUs)
		mr.segmentMoveTime = mr.moveTime / mr.segments
		mr.segmentVelocity = mr.cruiseVelocity
		mr.segmentCount = uint32(mr.segments)
		mr.microseconds = mr.segmentMoveTime * usecPerMinute
		mr.sectionState = sectionRun1
	}
	if mr.sectionState == sectionRun1 {
		if p.execAlineSegment(false) == stComplete {
			if mr.tailLength < set.MinSectionLength {
				return stOK // end the move
			}
			mr.section = sectionTail
			mr.sectionState = sectionNew
		}
	}
	return stEagain
}

func (p *Planner) execAlineTail() int {
	mr := &p.mr
	set := &p.set

	if mr.sectionState == sectionNew {
		if mr.tailLength < set.Epsilon {
			return stOK // end the move
		}
		mr.midpointVelocity = (mr.cruiseVelocity + mr.exitVelocity) / 2
		mr.moveTime = mr.tailLength / mr.midpointVelocity
		mr.accelTime = 2 * math.Sqrt((mr.cruiseVelocity-mr.exitVelocity)/mr.jerk)
		mr.midpointAcceleration = 2 * (mr.cruiseVelocity - mr.exitVelocity) / mr.accelTime
		mr.segments = math.Ceil((mr.moveTime * usecPerMinute) / (2 * set.SegmentTargetUs))
		mr.segmentMoveTime = mr.moveTime / (2 * mr.segments)
		mr.segmentAccelTime = mr.accelTime / (2 * mr.segments)
		mr.elapsedAccelTime = mr.segmentAccelTime / 2
		mr.segmentCount = uint32(mr.segments)
		mr.microseconds = mr.segmentMoveTime * usecPerMinute
		mr.sectionState = sectionRun1
	}
	if mr.sectionState == sectionRun1 {
		mr.segmentVelocity = mr.cruiseVelocity - (mr.elapsedAccelTime * mr.elapsedAccelTime * mr.jerkDiv2)
		if p.execAlineSegment(false) == stComplete { // set up for the second half
			mr.elapsedAccelTime = mr.segmentAccelTime / 2
			mr.segmentCount = uint32(mr.segments)
			mr.sectionState = sectionRun2
		}
		return stEagain
	}
	if mr.sectionState == sectionRun2 {
		mr.segmentVelocity = mr.midpointVelocity -
			(mr.elapsedAccelTime * mr.midpointAcceleration) +
			(mr.elapsedAccelTime * mr.elapsedAccelTime * mr.jerkDiv2)
		if p.execAlineSegment(true) == stComplete {
			return stOK // end the move
		}
	}
	return stEagain
}

// execAlineSegment prepares one segment: compute per-axis travel from
// the segment velocity, run inverse kinematics, and hand the steps to
// the stepper layer. With correction set, the very last segment of a
// normally-running move snaps to the saved endpoint, cancelling
// accumulated rounding error. No snap while going into a hold.
func (p *Planner) execAlineSegment(correction bool) int {
	mr := &p.mr

	mr.segmentLength = mr.segmentVelocity * mr.segmentMoveTime
	snap := correction && mr.segmentCount == 1 &&
		p.MotionState() == MotionRun &&
		CycleState(p.cycleState.Load()) == CycleStarted
	for i := 0; i < NumAxes; i++ {
		if snap {
			mr.target[i] = mr.endpoint[i]
		} else {
			mr.target[i] = mr.position[i] + mr.unit[i]*mr.segmentLength
		}
		mr.travel[i] = mr.target[i] - mr.position[i]
	}
	if err := p.ik.Transform(mr.travel, mr.microseconds, mr.steps); err == nil {
		if p.sink.PrepLine(mr.steps, mr.microseconds) == nil {
			mr.position = mr.target
			p.noteSegment()
		}
	}
	mr.elapsedAccelTime += mr.segmentAccelTime // ignored when running the body
	mr.segmentCount--
	if mr.segmentCount == 0 {
		return stComplete // this section has run all its segments
	}
	return stEagain // this section still has more segments to run
}

func (p *Planner) noteSegment() {
	if p.mx == nil {
		return
	}
	p.mx.SegmentsEmitted.Inc(nil)
	p.mx.RuntimeVelocity.Set(nil, p.mr.segmentVelocity)
	for i := 0; i < NumAxes; i++ {
		p.mx.SetRuntimePosition(axisNames[i], p.mr.position[i])
	}
}
