package planner

import (
	"math"
	"time"

	"cnc-motion/pkg/errors"
)

// SubmitLine queues an unaccelerated straight move to target taking the
// given number of minutes. Zero-length or zero-time moves are refused.
func (p *Planner) SubmitLine(target Vector, minutes float64) error {
	if minutes < p.set.Epsilon {
		return errors.ZeroLengthMoveError(0, minutes)
	}
	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.time = minutes
	bf.target = target
	bf.length = vectorLength(target, p.mm.position)
	if bf.length < p.set.Epsilon {
		p.pool.releaseWrite()
		return errors.ZeroLengthMoveError(bf.length, minutes)
	}
	bf.cruiseVmax = bf.length / bf.time
	bf.lineNumber = p.lineNumber.Load()
	p.commit(KindLine)
	p.mm.position = bf.target
	return nil
}

// SubmitAccelLine queues a jerk-limited straight move: the main planner
// entry point. The queued tail is replanned before the block commits.
func (p *Planner) SubmitAccelLine(target Vector, minutes float64) error {
	length := vectorLength(target, p.mm.position)

	if minutes < p.set.Epsilon {
		return errors.ZeroLengthMoveError(length, minutes)
	}
	if length < p.set.Epsilon {
		return errors.ZeroLengthMoveError(length, minutes)
	}

	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}

	start := time.Now()

	// setup of the incoming block, in careful sequence
	bf.lineNumber = p.lineNumber.Load()
	bf.time = minutes
	bf.length = length
	bf.target = target
	unitVector(&bf.unit, bf.target, p.mm.position, length)
	bf.jerk = blockJerk(bf.unit, &p.set)
	bf.recipJerk = 1 / bf.jerk
	bf.cubertJerk = math.Cbrt(bf.jerk)

	exactStop := 0.0
	if PathControlMode(p.pathControl.Load()) != PathExactStop {
		bf.replannable.Store(true)
		exactStop = unlimitedVelocity
	}
	prevUnit := p.prevUnit(bf)
	bf.cruiseVmax = bf.length / bf.time
	junctionVelocity := junctionVmax(prevUnit, bf.unit, &p.set)
	bf.entryVmax = min3(bf.cruiseVmax, junctionVelocity, exactStop)
	bf.deltaVmax = targetVelocity(0, bf.length, bf.cubertJerk)
	bf.exitVmax = min3(bf.cruiseVmax, bf.entryVmax+bf.deltaVmax, exactStop)
	bf.brakingVelocity = bf.deltaVmax

	p.planBlockList(bf)
	p.mm.position = bf.target
	p.commit(KindAccelLine)

	if p.mx != nil {
		p.mx.PlanningTime.Observe(nil, time.Since(start).Seconds())
	}
	return nil
}

// SubmitDwell queues a timed pause.
func (p *Planner) SubmitDwell(seconds float64) error {
	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.time = seconds // seconds, not minutes
	bf.lineNumber = p.lineNumber.Load()
	p.commit(KindDwell)
	return nil
}

// QueueMCode queues an auxiliary command for in-order execution.
func (p *Planner) QueueMCode(code MCode) error {
	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.code = code
	p.commit(KindMCode)
	return nil
}

// QueueTool queues a tool selection.
func (p *Planner) QueueTool(tool int) error {
	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.tool = tool
	p.commit(KindTool)
	return nil
}

// QueueSpindleSpeed queues a spindle speed change.
func (p *Planner) QueueSpindleSpeed(rpm float64) error {
	bf := p.pool.tryAcquireWrite()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.rpm = rpm
	p.commit(KindSpindleSpeed)
	return nil
}

func (p *Planner) commit(kind BlockKind) {
	p.pool.commit(kind)
	p.sink.RequestExec()
	if p.mx != nil {
		p.mx.BlocksQueued.Inc(nil)
		p.mx.QueueDepth.Set(nil, float64(p.pool.depth()))
	}
}

// prevUnit returns the unit vector of the block queued immediately
// before bf (zero vector when bf is the first).
func (p *Planner) prevUnit(bf *block) Vector {
	idx := p.indexOf(bf)
	return p.pool.at(p.pool.prev(idx)).unit
}

func (p *Planner) indexOf(bf *block) int {
	for i := range p.pool.blocks {
		if &p.pool.blocks[i] == bf {
			return i
		}
	}
	return 0
}

// planBlockList replans the chain of replannable blocks ending at bf.
//
// The reverse pass walks backwards from bf while blocks are
// replannable, accumulating the braking velocity: the maximum entry
// speed from which each block could still decelerate to meet the next
// block's admissible entry. The walk stops at the first
// non-replannable block, which anchors the plan.
//
// The forward pass then chooses actual velocities under those bounds
// and under jerk-limited accelerability from the upstream exit, and
// regenerates each trapezoid. A block whose exit comes out at its
// exitVmax is optimally planned and will anchor future passes.
//
// bf itself is planned to a zero exit (nothing is queued behind it yet).
func (p *Planner) planBlockList(bf *block) {
	bfIdx := p.indexOf(bf)

	// Backward pass: find the start of the list and update braking
	// velocities. Ends with bp just before the replannable chain.
	bpIdx := bfIdx
	for {
		bpIdx = p.pool.prev(bpIdx)
		if bpIdx == bfIdx {
			break
		}
		bp := p.pool.at(bpIdx)
		if !bp.replannable.Load() {
			break
		}
		nx := p.pool.at(p.pool.next(bpIdx))
		braking := math.Min(nx.entryVmax, nx.brakingVelocity) + bp.deltaVmax
		// cap at the block's own cruise ceiling so the forward pass
		// never sees an entry bound the block could not sustain
		if bp.cruiseVmax > 0 && braking > bp.cruiseVmax {
			braking = bp.cruiseVmax
		}
		bp.brakingVelocity = braking
	}

	// Forward pass: set velocities and recompute trapezoids.
	for {
		bpIdx = p.pool.next(bpIdx)
		if bpIdx == bfIdx {
			break
		}
		bp := p.pool.at(bpIdx)
		pvIdx := p.pool.prev(bpIdx)
		if pvIdx == bfIdx {
			bp.entryVelocity = bp.entryVmax // first block in the list
		} else {
			bp.entryVelocity = p.pool.at(pvIdx).exitVelocity
		}
		nx := p.pool.at(p.pool.next(bpIdx))
		bp.cruiseVelocity = bp.cruiseVmax
		bp.exitVelocity = min4(bp.exitVmax, nx.brakingVelocity, nx.entryVmax,
			bp.entryVelocity+bp.deltaVmax)
		calculateTrapezoid(bp, &p.set)
		// only the exit needs checking for optimal planning
		if bp.exitVelocity == bp.exitVmax {
			bp.replannable.Store(false)
		}
	}

	// finish up the last block
	bp := p.pool.at(bpIdx)
	bp.entryVelocity = p.pool.at(p.pool.prev(bpIdx)).exitVelocity
	bp.cruiseVelocity = bp.cruiseVmax
	bp.exitVelocity = 0
	calculateTrapezoid(bp, &p.set)

	if p.mx != nil {
		p.mx.LookaheadPasses.Inc(nil)
	}
}

// resetReplannableList marks every active block replannable so a hold
// replan can recompute the whole list.
func (p *Planner) resetReplannableList() {
	first := p.pool.firstIndex()
	if first < 0 {
		return
	}
	i := first
	for {
		bp := p.pool.at(i)
		bp.replannable.Store(true)
		i = p.pool.next(i)
		if i == first || p.pool.at(i).moveState() == moveStateOff {
			return
		}
	}
}
