package planner

import (
	"testing"
)

func TestPoolAcquireCommitRun(t *testing.T) {
	bp := newBufferPool(8)

	b := bp.tryAcquireWrite()
	if b == nil {
		t.Fatal("acquire failed on empty pool")
	}
	if b.bufferState() != BufferLoading {
		t.Errorf("state = %v, want Loading", b.bufferState())
	}

	committed := bp.commit(KindAccelLine)
	if committed != b {
		t.Error("commit stamped a different slot")
	}
	if b.bufferState() != BufferQueued || b.moveState() != moveStateNew {
		t.Errorf("post-commit: state=%v moveState=%v", b.bufferState(), b.moveState())
	}

	run := bp.currentRun()
	if run != b {
		t.Fatal("currentRun returned wrong block")
	}
	if run.bufferState() != BufferRunning {
		t.Errorf("run state = %v, want Running", run.bufferState())
	}
	// idempotent across repeated calls within one block's lifetime
	if bp.currentRun() != run {
		t.Error("currentRun not idempotent")
	}

	if emptied := bp.finaliseRun(); !emptied {
		t.Error("finaliseRun should report queue emptied")
	}
	if run.bufferState() != BufferEmpty {
		t.Errorf("finalised block state = %v, want Empty", run.bufferState())
	}
	if bp.currentRun() != nil {
		t.Error("currentRun should be nil after finalise")
	}
}

func TestPoolReleaseWrite(t *testing.T) {
	bp := newBufferPool(4)
	b := bp.tryAcquireWrite()
	if b == nil {
		t.Fatal("acquire failed")
	}
	bp.releaseWrite()
	if b.bufferState() != BufferEmpty {
		t.Errorf("released slot state = %v, want Empty", b.bufferState())
	}
	// the same slot is handed out again
	if bp.tryAcquireWrite() != b {
		t.Error("write cursor did not rewind")
	}
}

func TestPoolSaturation(t *testing.T) {
	const size = 8
	bp := newBufferPool(size)
	for i := 0; i < size; i++ {
		if bp.tryAcquireWrite() == nil {
			t.Fatalf("acquire %d failed below capacity", i)
		}
		bp.commit(KindAccelLine)
	}
	if bp.writeAvailable() {
		t.Error("writeAvailable true on full pool")
	}
	if bp.tryAcquireWrite() != nil {
		t.Error("acquire succeeded on full pool")
	}

	// consuming one block frees exactly one slot
	if bp.currentRun() == nil {
		t.Fatal("nothing to run")
	}
	bp.finaliseRun()
	if !bp.writeAvailable() {
		t.Error("slot not reclaimed after finalise")
	}
}

func TestPoolPendingPromotion(t *testing.T) {
	bp := newBufferPool(4)
	for i := 0; i < 2; i++ {
		bp.tryAcquireWrite()
		bp.commit(KindAccelLine)
	}
	bp.currentRun()
	bp.finaliseRun()
	// the new run slot is promoted from Queued to Pending
	if got := bp.at(bp.r).bufferState(); got != BufferPending {
		t.Errorf("next slot state = %v, want Pending", got)
	}
	if bp.currentRun() == nil {
		t.Error("pending slot should run")
	}
}

func TestPoolLastIndex(t *testing.T) {
	bp := newBufferPool(8)
	for i := 0; i < 3; i++ {
		bp.tryAcquireWrite()
		bp.commit(KindAccelLine)
	}
	bp.currentRun()
	last := bp.lastIndex()
	if last != 2 {
		t.Errorf("lastIndex = %d, want 2", last)
	}
}

func TestPoolFlushQueued(t *testing.T) {
	bp := newBufferPool(8)
	for i := 0; i < 4; i++ {
		bp.tryAcquireWrite()
		bp.commit(KindAccelLine)
	}
	run := bp.currentRun()
	bp.flushQueued()

	if run.bufferState() != BufferRunning {
		t.Error("flush disturbed the running block")
	}
	states := 0
	for i := 0; i < bp.size(); i++ {
		if bp.at(i).bufferState() == BufferQueued || bp.at(i).bufferState() == BufferPending {
			states++
		}
	}
	if states != 0 {
		t.Errorf("%d queued blocks survived flush", states)
	}

	// pool accepts fresh submissions seated after the running slot
	if bp.tryAcquireWrite() == nil {
		t.Error("acquire failed after flush")
	}
}

func TestPoolWrapAround(t *testing.T) {
	const size = 4
	bp := newBufferPool(size)
	// cycle more blocks than the pool holds
	for i := 0; i < size*3; i++ {
		if bp.tryAcquireWrite() == nil {
			t.Fatalf("acquire failed at cycle %d", i)
		}
		bp.commit(KindAccelLine)
		if bp.currentRun() == nil {
			t.Fatalf("run failed at cycle %d", i)
		}
		bp.finaliseRun()
	}
	if !bp.queueEmpty() {
		t.Error("queue should be empty after draining")
	}
}

func TestBlockCopyFrom(t *testing.T) {
	var a, b block
	a.length = 5
	a.entryVmax = 100
	a.setBufferState(BufferQueued)
	a.holdPoint.Store(true)

	b.copyFrom(&a)
	if b.length != 5 || b.entryVmax != 100 {
		t.Error("fields not copied")
	}
	if b.bufferState() != BufferQueued || !b.holdPoint.Load() {
		t.Error("state words not copied")
	}
}
