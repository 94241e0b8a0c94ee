package planner

// BlockInfo is a read-only snapshot of one queued block, for status
// reporting and offline plan inspection.
type BlockInfo struct {
	Kind       BlockKind
	State      BufferState
	LineNumber uint32

	Target Vector
	Length float64

	HeadLength float64
	BodyLength float64
	TailLength float64

	EntryVelocity  float64
	CruiseVelocity float64
	ExitVelocity   float64

	EntryVmax       float64
	CruiseVmax      float64
	ExitVmax        float64
	DeltaVmax       float64
	BrakingVelocity float64

	Jerk        float64
	Replannable bool
	HoldPoint   bool
}

func snapshotBlock(b *block) BlockInfo {
	return BlockInfo{
		Kind:            b.kind,
		State:           b.bufferState(),
		LineNumber:      b.lineNumber,
		Target:          b.target,
		Length:          b.length,
		HeadLength:      b.headLength,
		BodyLength:      b.bodyLength,
		TailLength:      b.tailLength,
		EntryVelocity:   b.entryVelocity,
		CruiseVelocity:  b.cruiseVelocity,
		ExitVelocity:    b.exitVelocity,
		EntryVmax:       b.entryVmax,
		CruiseVmax:      b.cruiseVmax,
		ExitVmax:        b.exitVmax,
		DeltaVmax:       b.deltaVmax,
		BrakingVelocity: b.brakingVelocity,
		Jerk:            b.jerk,
		Replannable:     b.replannable.Load(),
		HoldPoint:       b.holdPoint.Load(),
	}
}

// QueuedBlocks returns snapshots of all committed blocks in queue
// order, starting at the run cursor.
func (p *Planner) QueuedBlocks() []BlockInfo {
	var out []BlockInfo
	i := p.pool.r
	for n := 0; n < p.pool.size(); n++ {
		b := p.pool.at(i)
		switch b.bufferState() {
		case BufferQueued, BufferPending, BufferRunning:
			out = append(out, snapshotBlock(b))
		}
		i = p.pool.next(i)
	}
	return out
}

// PoolStates returns the buffer state of every slot in ring order.
// Test and diagnostic helper.
func (p *Planner) PoolStates() []BufferState {
	out := make([]BufferState, p.pool.size())
	for i := range out {
		out[i] = p.pool.at(i).bufferState()
	}
	return out
}
