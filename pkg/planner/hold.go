package planner

// Feedhold
//
// A hold is asserted by RequestFeedhold, which moves the hold FSM to
// Sync and motion to Hold. The executor, observing Sync after finishing
// a segment, transitions to Plan and notifies the main loop. The main
// loop's PlanHoldCallback replans the runtime and enough downstream
// blocks to decelerate to zero, marks the release block as the hold
// point, and moves the FSM to Decel. When execution reaches the hold
// point the FSM parks in Hold. EndFeedhold moves it to EndHold and
// EndHoldCallback releases the hold point and restarts the steppers.

// RequestFeedhold asserts a feedhold. Only effective while motion is
// running.
func (p *Planner) RequestFeedhold() {
	if p.HoldState() == HoldOff && p.MotionState() == MotionRun {
		p.holdState.Store(int32(HoldSync))
		p.motionState.Store(int32(MotionHold))
		if p.mx != nil {
			p.mx.FeedholdsRequested.Inc(nil)
		}
		p.logger.Info("feedhold asserted")
	}
}

// EndFeedhold requests release of a completed hold. The release itself
// happens in EndHoldCallback on the main loop.
func (p *Planner) EndFeedhold() {
	if p.HoldState() == HoldHold {
		p.holdState.Store(int32(HoldEndHold))
	}
}

// enterHold parks the machine: deceleration reached the hold point.
func (p *Planner) enterHold() {
	p.motionState.Store(int32(MotionHold))
	p.holdState.Store(int32(HoldHold))
	if p.cb.HoldEntered != nil {
		p.cb.HoldEntered()
	}
	p.logger.Info("feedhold: motion stopped at hold point")
}

// PlanHoldCallback replans the runtime and the block list to execute a
// hold. Called from the main loop when the hold FSM reaches Plan; the
// executor is parked between segments for the duration.
//
// Case A: the braking distance fits in what remains of the current
// block. The runtime is reshaped into a pure deceleration tail down to
// zero, and the current block is rewritten as the post-hold remainder
// with a zero entry ceiling.
//
// Case B: braking exceeds the current remainder. The runtime
// decelerates to a reduced but nonzero exit velocity over everything it
// has, then downstream blocks are copied forward into the current slot
// (consuming queue entries) until the remaining speed can be shed. The
// final consumed block's remainder becomes the release point.
func (p *Planner) PlanHoldCallback() (Status, error) {
	if p.HoldState() != HoldPlan {
		return StatusNoop, nil
	}
	bf := p.pool.currentRun()
	if bf == nil {
		return StatusNoop, nil // nothing's running
	}
	mr := &p.mr

	bpIdx := p.pool.r
	bp := bf

	// velocity to shed, and what it takes to shed it
	brakingVelocity := mr.segmentVelocity
	brakingLength := targetLength(brakingVelocity, 0, bp.recipJerk)
	remainingLength := vectorLength(bf.target, mr.position)

	if brakingLength < remainingLength {
		// Case A: decelerate inside the current block
		mr.section = sectionTail
		mr.sectionState = sectionNew
		mr.tailLength = brakingLength
		mr.cruiseVelocity = brakingVelocity
		mr.exitVelocity = 0

		// the current block becomes the post-hold remainder
		bp.length = remainingLength - brakingLength
		bp.deltaVmax = targetVelocity(0, bp.length, bp.cubertJerk)
		bp.entryVmax = 0
		bp.setMoveState(moveStateNew)
	} else {
		// Case B: shed what we can in the current block...
		mr.section = sectionTail
		mr.sectionState = sectionNew
		mr.tailLength = remainingLength
		mr.cruiseVelocity = brakingVelocity
		mr.exitVelocity = brakingVelocity - targetVelocity(0, remainingLength, bp.cubertJerk)

		// ...then consume downstream blocks until the rest is shed
		brakingVelocity = mr.exitVelocity
		for {
			bp.copyFrom(p.pool.at(p.pool.next(bpIdx)))
			brakingLength = targetLength(brakingVelocity, 0, bp.recipJerk)
			remainingLength = bp.length - brakingLength
			bp.entryVmax = brakingVelocity
			if brakingLength > bp.length {
				// this block brakes end to end and stays fast at exit
				bp.exitVmax = brakingVelocity - targetVelocity(0, bp.length, bp.cubertJerk)
				brakingVelocity = bp.exitVmax
				bpIdx = p.pool.next(bpIdx)
				bp = p.pool.at(bpIdx)
			} else {
				// deceleration completes inside this block
				bp.length = brakingLength
				bp.exitVmax = 0
				bpIdx = p.pool.next(bpIdx)
				bp = p.pool.at(bpIdx)
				break
			}
			if bpIdx == p.pool.r {
				break // wrapped; nothing left to consume
			}
		}
		// the release point covers what the consumed block had left
		bp.entryVmax = 0
		bp.length = remainingLength
		bp.deltaVmax = targetVelocity(0, bp.length, bp.cubertJerk)
	}

	bp.holdPoint.Store(true)
	p.resetReplannableList()
	if last := p.pool.lastIndex(); last >= 0 {
		p.planBlockList(p.pool.at(last))
	}
	p.holdState.Store(int32(HoldDecel))
	p.logger.Debug("feedhold planned: braking=%.4f remaining=%.4f", brakingLength, remainingLength)
	return StatusOK, nil
}

// EndHoldCallback removes the hold and restarts the block list. Called
// from the main loop after EndFeedhold.
func (p *Planner) EndHoldCallback() (Status, error) {
	if p.HoldState() != HoldEndHold {
		return StatusNoop, nil
	}
	p.holdState.Store(int32(HoldOff))
	bf := p.pool.currentRun()
	if bf == nil { // nothing's running
		p.motionState.Store(int32(MotionStop))
		return StatusNoop, nil
	}
	p.motionState.Store(int32(MotionRun))
	bf.holdPoint.Store(false) // allows the move to be executed
	p.sink.RequestExec()      // restart the steppers
	if p.mx != nil {
		p.mx.FeedholdsReleased.Inc(nil)
	}
	p.logger.Info("feedhold released")
	return StatusOK, nil
}
