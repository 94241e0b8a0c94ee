package planner

import (
	"sync/atomic"
)

// BlockKind dispatches a block to its run routine.
type BlockKind uint32

const (
	// KindNone marks an unused block.
	KindNone BlockKind = iota
	// KindLine is an unaccelerated straight move.
	KindLine
	// KindAccelLine is a jerk-limited straight move.
	KindAccelLine
	// KindDwell is a timed pause.
	KindDwell
	// KindMCode is a queued auxiliary command.
	KindMCode
	// KindTool is a queued tool selection.
	KindTool
	// KindSpindleSpeed is a queued spindle speed change.
	KindSpindleSpeed
)

// BufferState manages block queueing and dequeueing. Stores are the
// ownership handoff between the main loop and the executor.
type BufferState uint32

const (
	// BufferEmpty - slot is available for use (must be zero).
	BufferEmpty BufferState = iota
	// BufferLoading - checked out for writing by the main loop.
	BufferLoading
	// BufferQueued - committed to the queue.
	BufferQueued
	// BufferPending - marked as the next block to run.
	BufferPending
	// BufferRunning - currently being executed.
	BufferRunning
)

// moveState sequences a block through execution.
type moveState uint32

const (
	moveStateOff moveState = iota
	moveStateNew
	moveStateRun
)

// block is one queued unit of planned motion or auxiliary command.
// Planning fields are written by the main loop while the block is
// Loading or Queued-and-replannable; the executor owns them once
// Running.
type block struct {
	state       atomic.Uint32 // BufferState
	moveSt      atomic.Uint32 // moveState
	replannable atomic.Bool
	holdPoint   atomic.Bool

	kind       BlockKind
	code       MCode   // auxiliary command code (KindMCode)
	tool       int     // tool id (KindTool)
	rpm        float64 // spindle speed (KindSpindleSpeed)
	lineNumber uint32

	target Vector // absolute end position
	unit   Vector // unit vector of motion

	time   float64 // line time in minutes, or dwell time in seconds
	length float64 // total length in mm

	headLength float64
	bodyLength float64
	tailLength float64

	entryVelocity  float64
	cruiseVelocity float64
	exitVelocity   float64

	entryVmax       float64
	cruiseVmax      float64
	exitVmax        float64
	deltaVmax       float64
	brakingVelocity float64

	jerk       float64
	recipJerk  float64
	cubertJerk float64
}

func (b *block) bufferState() BufferState {
	return BufferState(b.state.Load())
}

func (b *block) setBufferState(s BufferState) {
	b.state.Store(uint32(s))
}

func (b *block) moveState() moveState {
	return moveState(b.moveSt.Load())
}

func (b *block) setMoveState(s moveState) {
	b.moveSt.Store(uint32(s))
}

// clear zeroes a block back to its just-allocated state.
func (b *block) clear() {
	b.state.Store(uint32(BufferEmpty))
	b.moveSt.Store(uint32(moveStateOff))
	b.replannable.Store(false)
	b.holdPoint.Store(false)
	b.kind = KindNone
	b.code = 0
	b.tool = 0
	b.rpm = 0
	b.lineNumber = 0
	b.target = Vector{}
	b.unit = Vector{}
	b.time = 0
	b.length = 0
	b.headLength = 0
	b.bodyLength = 0
	b.tailLength = 0
	b.entryVelocity = 0
	b.cruiseVelocity = 0
	b.exitVelocity = 0
	b.entryVmax = 0
	b.cruiseVmax = 0
	b.exitVmax = 0
	b.deltaVmax = 0
	b.brakingVelocity = 0
	b.jerk = 0
	b.recipJerk = 0
	b.cubertJerk = 0
}

// copyFrom duplicates src into b, state words included. Used by hold
// planning when downstream blocks are pulled into the current slot.
func (b *block) copyFrom(src *block) {
	b.state.Store(src.state.Load())
	b.moveSt.Store(src.moveSt.Load())
	b.replannable.Store(src.replannable.Load())
	b.holdPoint.Store(src.holdPoint.Load())
	b.kind = src.kind
	b.code = src.code
	b.tool = src.tool
	b.rpm = src.rpm
	b.lineNumber = src.lineNumber
	b.target = src.target
	b.unit = src.unit
	b.time = src.time
	b.length = src.length
	b.headLength = src.headLength
	b.bodyLength = src.bodyLength
	b.tailLength = src.tailLength
	b.entryVelocity = src.entryVelocity
	b.cruiseVelocity = src.cruiseVelocity
	b.exitVelocity = src.exitVelocity
	b.entryVmax = src.entryVmax
	b.cruiseVmax = src.cruiseVmax
	b.exitVmax = src.exitVmax
	b.deltaVmax = src.deltaVmax
	b.brakingVelocity = src.brakingVelocity
	b.jerk = src.jerk
	b.recipJerk = src.recipJerk
	b.cubertJerk = src.cubertJerk
}

// bufferPool is a fixed ring of planning blocks with three cursors:
// write (next slot to hand out), queue (next slot to commit) and run
// (the executing slot). write and queue advance only from the main
// loop, run only from the executor; each cursor has a single writer.
type bufferPool struct {
	blocks []block
	w      int
	q      int
	r      int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{blocks: make([]block, size)}
}

func (bp *bufferPool) size() int {
	return len(bp.blocks)
}

func (bp *bufferPool) next(i int) int {
	if i < len(bp.blocks)-1 {
		return i + 1
	}
	return 0
}

func (bp *bufferPool) prev(i int) int {
	if i > 0 {
		return i - 1
	}
	return len(bp.blocks) - 1
}

func (bp *bufferPool) at(i int) *block {
	return &bp.blocks[i]
}

// writeAvailable reports whether tryAcquireWrite would succeed.
func (bp *bufferPool) writeAvailable() bool {
	return bp.blocks[bp.w].bufferState() == BufferEmpty
}

// tryAcquireWrite hands out the slot at the write cursor if it is
// Empty: the slot is zeroed, marked Loading, and the cursor advances.
// Returns nil when the pool is exhausted.
func (bp *bufferPool) tryAcquireWrite() *block {
	b := &bp.blocks[bp.w]
	if b.bufferState() != BufferEmpty {
		return nil
	}
	b.clear()
	b.setBufferState(BufferLoading)
	bp.w = bp.next(bp.w)
	return b
}

// releaseWrite relinquishes the most recent unsubmitted Loading slot.
func (bp *bufferPool) releaseWrite() {
	bp.w = bp.prev(bp.w)
	bp.blocks[bp.w].setBufferState(BufferEmpty)
}

// commit stamps the kind on the slot at the queue cursor, marks it
// Queued and advances the cursor. The Queued store is the release that
// publishes the block to the executor.
func (bp *bufferPool) commit(kind BlockKind) *block {
	b := &bp.blocks[bp.q]
	b.kind = kind
	b.setMoveState(moveStateNew)
	b.setBufferState(BufferQueued)
	bp.q = bp.next(bp.q)
	return b
}

// currentRun returns the block at the run cursor, promoting it from
// Queued/Pending to Running on first call. Idempotent across repeated
// calls within one block's lifetime; nil when nothing is queued.
func (bp *bufferPool) currentRun() *block {
	b := &bp.blocks[bp.r]
	switch b.bufferState() {
	case BufferQueued, BufferPending:
		b.setBufferState(BufferRunning)
	}
	if b.bufferState() == BufferRunning {
		return b
	}
	return nil
}

// finaliseRun clears the Running slot, advances the run cursor and
// promotes the new run slot from Queued to Pending. Returns true if the
// queue emptied (run caught up with write).
func (bp *bufferPool) finaliseRun() bool {
	bp.blocks[bp.r].clear()
	bp.r = bp.next(bp.r)
	if bp.blocks[bp.r].bufferState() == BufferQueued {
		bp.blocks[bp.r].setBufferState(BufferPending)
	}
	return bp.r == bp.w
}

// first returns the running (or about-to-run) block.
func (bp *bufferPool) first() *block {
	return bp.currentRun()
}

// firstIndex returns the index of the running block, or -1.
func (bp *bufferPool) firstIndex() int {
	if bp.currentRun() == nil {
		return -1
	}
	return bp.r
}

// lastIndex walks forward from the run cursor to the final block whose
// move state is not Off. Returns -1 when nothing is running.
func (bp *bufferPool) lastIndex() int {
	if bp.currentRun() == nil {
		return -1
	}
	i := bp.r
	for {
		n := bp.next(i)
		if n == bp.r || bp.blocks[n].moveState() == moveStateOff {
			return i
		}
		i = n
	}
}

// queueEmpty reports whether no committed blocks remain.
func (bp *bufferPool) queueEmpty() bool {
	if bp.r == bp.w {
		return bp.blocks[bp.r].bufferState() == BufferEmpty
	}
	return false
}

// depth counts blocks that are Queued, Pending or Running.
func (bp *bufferPool) depth() int {
	n := 0
	for i := range bp.blocks {
		switch bp.blocks[i].bufferState() {
		case BufferQueued, BufferPending, BufferRunning:
			n++
		}
	}
	return n
}

// flushQueued clears every Queued and Pending slot, leaving a Running
// slot (if any) to finish on its own. Cursors are re-seated just past
// the running slot.
func (bp *bufferPool) flushQueued() {
	running := -1
	for i := range bp.blocks {
		switch bp.blocks[i].bufferState() {
		case BufferQueued, BufferPending, BufferLoading:
			bp.blocks[i].clear()
		case BufferRunning:
			running = i
		}
	}
	if running >= 0 {
		bp.w = bp.next(running)
		bp.q = bp.w
	} else {
		bp.w = bp.r
		bp.q = bp.r
	}
}
