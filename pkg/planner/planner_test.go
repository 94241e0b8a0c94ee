package planner

import (
	"math"
	"testing"

	"cnc-motion/pkg/errors"
	"cnc-motion/pkg/kinematics"
	"cnc-motion/pkg/log"
	"cnc-motion/pkg/metrics"
	"cnc-motion/pkg/stepper"
)

const testStepsPerMM = 80.0

func testMotors() []kinematics.Motor {
	names := []string{"x", "y", "z", "a", "b", "c"}
	motors := make([]kinematics.Motor, len(names))
	for i, n := range names {
		motors[i] = kinematics.Motor{Name: "motor_" + n, StepsPerMM: testStepsPerMM}
	}
	return motors
}

func newTestPlanner(t *testing.T, set Settings) (*Planner, *stepper.Recorder) {
	t.Helper()
	rec := stepper.NewRecorder()
	ik := kinematics.NewCartesian(testMotors())
	p := New(set, ik, rec, log.Discard(), nil)
	return p, rec
}

// drain pumps the executor until the queue runs dry.
func drain(t *testing.T, p *Planner) {
	t.Helper()
	for i := 0; i < 1000000; i++ {
		st, err := p.ExecMove()
		if err != nil {
			t.Fatalf("exec error: %v", err)
		}
		if st == StatusNoop {
			return
		}
	}
	t.Fatal("executor did not drain")
}

func target(x, y float64) Vector {
	return Vector{x, y, 0, 0, 0, 0}
}

// checkPlanInvariants verifies the per-block and adjacency contracts on
// everything queued.
func checkPlanInvariants(t *testing.T, p *Planner) {
	t.Helper()
	set := p.settings()
	blocks := p.QueuedBlocks()
	var prev *BlockInfo
	for i := range blocks {
		b := &blocks[i]
		if b.Kind != KindAccelLine {
			prev = nil
			continue
		}
		if b.EntryVelocity > b.CruiseVelocity+1e-9 || b.ExitVelocity > b.CruiseVelocity+1e-9 {
			t.Errorf("block %d: Ve=%g Vt=%g Vx=%g violates ordering",
				i, b.EntryVelocity, b.CruiseVelocity, b.ExitVelocity)
		}
		if b.EntryVelocity > b.EntryVmax+1e-9 {
			t.Errorf("block %d: entry %g exceeds entry vmax %g", i, b.EntryVelocity, b.EntryVmax)
		}
		if b.ExitVelocity > b.ExitVmax+1e-9 {
			t.Errorf("block %d: exit %g exceeds exit vmax %g", i, b.ExitVelocity, b.ExitVmax)
		}
		if b.CruiseVelocity > b.CruiseVmax+1e-9 {
			t.Errorf("block %d: cruise %g exceeds cruise vmax %g", i, b.CruiseVelocity, b.CruiseVmax)
		}
		total := b.HeadLength + b.BodyLength + b.TailLength
		if math.Abs(total-b.Length) > set.LengthTolerance {
			t.Errorf("block %d: sections sum %g != length %g", i, total, b.Length)
		}
		if prev != nil {
			if math.Abs(prev.ExitVelocity-b.EntryVelocity) > set.VelocityTolerance {
				t.Errorf("junction %d: exit %g != entry %g", i, prev.ExitVelocity, b.EntryVelocity)
			}
		}
		prev = b
	}
}

func TestSingleStraightMove(t *testing.T) {
	p, rec := newTestPlanner(t, testSettings())

	if err := p.SubmitAccelLine(target(10, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	blocks := p.QueuedBlocks()
	if len(blocks) != 1 {
		t.Fatalf("queued %d blocks, want 1", len(blocks))
	}
	b := blocks[0]
	if math.Abs(b.Length-10) > 1e-12 {
		t.Errorf("length = %g, want 10", b.Length)
	}
	if math.Abs(b.CruiseVmax-1000) > 1e-9 {
		t.Errorf("cruise vmax = %g, want 1000", b.CruiseVmax)
	}
	if b.EntryVelocity != 0 || b.ExitVelocity != 0 {
		t.Errorf("endpoints: Ve=%g Vx=%g, want 0/0", b.EntryVelocity, b.ExitVelocity)
	}
	if math.Abs(b.HeadLength-b.TailLength) > 1e-9 {
		t.Errorf("head %g != tail %g", b.HeadLength, b.TailLength)
	}
	if b.BodyLength < 0 {
		t.Errorf("negative body %g", b.BodyLength)
	}
	checkPlanInvariants(t, p)

	drain(t, p)
	if got := rec.TravelMM(0, testStepsPerMM); math.Abs(got-10) > 1e-4 {
		t.Errorf("summed segment travel = %g, want 10", got)
	}
	if pos := p.RuntimePosition(AxisX); pos != 10 {
		t.Errorf("runtime position = %g, want exactly 10", pos)
	}
	if p.IsBusy() {
		t.Error("planner busy after drain")
	}
}

func TestTwoCollinearMoves(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	if err := p.SubmitAccelLine(target(10, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitAccelLine(target(20, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	blocks := p.QueuedBlocks()
	if len(blocks) != 2 {
		t.Fatalf("queued %d blocks, want 2", len(blocks))
	}
	// straight-through junction: the shared velocity is full cruise
	if math.Abs(blocks[0].ExitVelocity-1000) > p.settings().VelocityTolerance {
		t.Errorf("junction velocity = %g, want 1000", blocks[0].ExitVelocity)
	}
	if math.Abs(blocks[0].ExitVelocity-blocks[1].EntryVelocity) > p.settings().VelocityTolerance {
		t.Errorf("discontinuity at junction: %g vs %g",
			blocks[0].ExitVelocity, blocks[1].EntryVelocity)
	}
	checkPlanInvariants(t, p)
}

func TestRightAngleCorner(t *testing.T) {
	set := testSettings()
	p, _ := newTestPlanner(t, set)

	if err := p.SubmitAccelLine(target(10, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitAccelLine(target(10, 10), 0.01); err != nil {
		t.Fatal(err)
	}
	blocks := p.QueuedBlocks()

	// cos(theta)=0 at a right angle
	sin := math.Sqrt(0.5)
	radius := 0.05 * sin / (1 - sin)
	junction := math.Sqrt(radius * set.JunctionAcceleration)
	if junction >= 1000 {
		t.Fatalf("test preconditions broken: junction %g not below cruise", junction)
	}

	if math.Abs(blocks[0].ExitVelocity-junction) > 1e-6 {
		t.Errorf("corner exit = %g, want junction limit %g", blocks[0].ExitVelocity, junction)
	}
	for i, b := range blocks {
		if b.HeadLength <= 0 || b.TailLength <= 0 {
			t.Errorf("block %d should have head and tail: head=%g tail=%g",
				i, b.HeadLength, b.TailLength)
		}
	}
	checkPlanInvariants(t, p)
}

func TestShortMoveDegrades(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	// 0.1 um at 10 mm/min: far too short to reach cruise
	if err := p.SubmitAccelLine(target(1e-4, 0), 1e-5); err != nil {
		t.Fatal(err)
	}
	b := p.QueuedBlocks()[0]
	if b.BodyLength != 0 {
		t.Errorf("body = %g, want 0", b.BodyLength)
	}
	if b.CruiseVelocity >= b.CruiseVmax {
		t.Errorf("cruise %g not reduced below vmax %g", b.CruiseVelocity, b.CruiseVmax)
	}
	checkPlanInvariants(t, p)
	drain(t, p)
	if pos := p.RuntimePosition(AxisX); pos != 1e-4 {
		t.Errorf("runtime position = %g, want 1e-4", pos)
	}
}

func TestZeroLengthSubmissions(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	if err := p.SubmitAccelLine(target(10, 0), 0); !errors.Is(err, errors.ErrZeroLengthMove) {
		t.Errorf("zero time: %v", err)
	}
	if err := p.SubmitAccelLine(Vector{}, 0.01); !errors.Is(err, errors.ErrZeroLengthMove) {
		t.Errorf("zero length: %v", err)
	}
	if err := p.SubmitLine(Vector{}, 0.01); !errors.Is(err, errors.ErrZeroLengthMove) {
		t.Errorf("zero length line: %v", err)
	}
	// a refused submission leaves the pool clean
	if p.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after refusals", p.QueueDepth())
	}
}

func TestQueueSaturation(t *testing.T) {
	set := testSettings()
	set.PoolSize = 8
	p, _ := newTestPlanner(t, set)

	x := 0.0
	for i := 0; i < set.PoolSize; i++ {
		x += 10
		if err := p.SubmitAccelLine(target(x, 0), 0.01); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}
	if p.QueueHasSpace() {
		t.Error("QueueHasSpace true on full pool")
	}
	for i := 0; i < 5; i++ {
		x += 10
		if err := p.SubmitAccelLine(target(x, 0), 0.01); !errors.Is(err, errors.ErrBufferFull) {
			t.Errorf("over-submission %d: %v, want buffer full", i, err)
		}
	}

	drain(t, p)
	for _, st := range p.PoolStates() {
		if st != BufferEmpty {
			t.Errorf("slot state %v after drain, want Empty", st)
		}
	}
	if !p.QueueHasSpace() {
		t.Error("no space after drain")
	}
	if err := p.SubmitAccelLine(target(x+10, 0), 0.01); err != nil {
		t.Errorf("fresh submission after drain: %v", err)
	}
}

func TestBlockBoundaryPositions(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	targets := []Vector{target(10, 0), target(10, 10), target(0, 10)}
	for _, tg := range targets {
		if err := p.SubmitAccelLine(tg, 0.01); err != nil {
			t.Fatal(err)
		}
	}

	var boundaries []Vector
	for i := 0; i < 1000000; i++ {
		st, err := p.ExecMove()
		if err != nil {
			t.Fatal(err)
		}
		if st == StatusOK {
			var pos Vector
			for a := 0; a < NumAxes; a++ {
				pos[a] = p.RuntimePosition(a)
			}
			boundaries = append(boundaries, pos)
		}
		if st == StatusNoop {
			break
		}
	}
	if len(boundaries) != len(targets) {
		t.Fatalf("saw %d block completions, want %d", len(boundaries), len(targets))
	}
	for i, tg := range targets {
		for a := 0; a < NumAxes; a++ {
			if math.Abs(boundaries[i][a]-tg[a]) > 1e-9 {
				t.Errorf("boundary %d axis %d: %g, want %g", i, a, boundaries[i][a], tg[a])
			}
		}
	}
	// the final block decelerates to zero and snaps exactly
	final := boundaries[len(boundaries)-1]
	if final != targets[len(targets)-1] {
		t.Errorf("final boundary %v != target %v", final, targets[len(targets)-1])
	}
}

func TestSegmentTravelMatchesSections(t *testing.T) {
	p, rec := newTestPlanner(t, testSettings())

	if err := p.SubmitAccelLine(target(10, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	b := p.QueuedBlocks()[0]
	drain(t, p)

	segs := rec.Segments()
	sum := 0.0
	for _, s := range segs {
		if s.Kind == stepper.SegmentLine {
			sum += s.Steps[0] / testStepsPerMM
		}
	}
	if math.Abs(sum-b.Length) > 1e-4 {
		t.Errorf("segment travel %g != block length %g", sum, b.Length)
	}
}

func TestPolylinePlanInvariants(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	// a zig-zag with mixed speeds
	moves := []struct {
		tg  Vector
		min float64
	}{
		{target(5, 0), 0.005},
		{target(10, 2), 0.004},
		{target(12, 10), 0.01},
		{target(4, 12), 0.006},
		{target(0, 0), 0.02},
	}
	for _, m := range moves {
		if err := p.SubmitAccelLine(m.tg, m.min); err != nil {
			t.Fatal(err)
		}
		checkPlanInvariants(t, p)
	}
	drain(t, p)
	if pos := p.RuntimePosition(AxisX); pos != 0 {
		t.Errorf("final x = %g, want 0", pos)
	}
	if pos := p.RuntimePosition(AxisY); pos != 0 {
		t.Errorf("final y = %g, want 0", pos)
	}
}

func TestDwellExecution(t *testing.T) {
	p, rec := newTestPlanner(t, testSettings())

	if err := p.SubmitDwell(1.5); err != nil {
		t.Fatal(err)
	}
	drain(t, p)

	segs := rec.Segments()
	if len(segs) != 1 || segs[0].Kind != stepper.SegmentDwell {
		t.Fatalf("unexpected segments: %+v", segs)
	}
	if segs[0].DurationUs != 1.5e6 {
		t.Errorf("dwell duration = %g us, want 1.5e6", segs[0].DurationUs)
	}
}

func TestUnacceleratedLine(t *testing.T) {
	p, rec := newTestPlanner(t, testSettings())

	if err := p.SubmitLine(target(5, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	drain(t, p)

	segs := rec.Segments()
	if len(segs) != 1 || segs[0].Kind != stepper.SegmentLine {
		t.Fatalf("unexpected segments: %+v", segs)
	}
	if segs[0].DurationUs != 0.01*60e6 {
		t.Errorf("line duration = %g us, want %g", segs[0].DurationUs, 0.01*60e6)
	}
	if got := segs[0].Steps[0]; math.Abs(got-5*testStepsPerMM) > 1e-9 {
		t.Errorf("steps = %g, want %g", got, 5*testStepsPerMM)
	}
	if pos := p.RuntimePosition(AxisX); pos != 5 {
		t.Errorf("position = %g, want 5", pos)
	}
}

func TestMCodeExecution(t *testing.T) {
	p, rec := newTestPlanner(t, testSettings())

	var spindle []SpindleDirection
	stops := 0
	p.SetCallbacks(Callbacks{
		SpindleControl: func(d SpindleDirection) { spindle = append(spindle, d) },
		ProgramStop:    func() { stops++ },
	})

	if err := p.QueueMCode(MCodeSpindleCW); err != nil {
		t.Fatal(err)
	}
	if err := p.QueueMCode(MCodeSpindleOff); err != nil {
		t.Fatal(err)
	}
	if err := p.QueueMCode(MCodeProgramStop); err != nil {
		t.Fatal(err)
	}
	drain(t, p)

	if len(spindle) != 2 || spindle[0] != SpindleCW || spindle[1] != SpindleOff {
		t.Errorf("spindle calls = %v", spindle)
	}
	if stops != 1 {
		t.Errorf("program stops = %d, want 1", stops)
	}
	// each auxiliary command preps a null to keep loader ordering
	nulls := 0
	for _, s := range rec.Segments() {
		if s.Kind == stepper.SegmentNull {
			nulls++
		}
	}
	if nulls != 3 {
		t.Errorf("null preps = %d, want 3", nulls)
	}
}

func TestUnknownMCodeFatal(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	if err := p.QueueMCode(MCode(200)); err != nil {
		t.Fatal(err)
	}
	_, err := p.ExecMove()
	if !errors.Is(err, errors.ErrUnknownCode) {
		t.Errorf("exec = %v, want unknown code", err)
	}
	// the offending block was freed
	if p.QueueDepth() != 0 {
		t.Errorf("queue depth = %d, want 0", p.QueueDepth())
	}
	// the error is latched for the main loop and cleared on read
	if latched := p.ExecError(); !errors.Is(latched, errors.ErrUnknownCode) {
		t.Errorf("latched = %v", latched)
	}
	if p.ExecError() != nil {
		t.Error("latched error not cleared")
	}
}

func TestToolAndSpindleSpeedQueue(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	var tools []int
	var rpms []float64
	p.SetCallbacks(Callbacks{
		ToolChange:   func(tool int) { tools = append(tools, tool) },
		SpindleSpeed: func(rpm float64) { rpms = append(rpms, rpm) },
	})
	if err := p.QueueTool(3); err != nil {
		t.Fatal(err)
	}
	if err := p.QueueSpindleSpeed(12000); err != nil {
		t.Fatal(err)
	}
	drain(t, p)
	if len(tools) != 1 || tools[0] != 3 {
		t.Errorf("tools = %v", tools)
	}
	if len(rpms) != 1 || rpms[0] != 12000 {
		t.Errorf("rpms = %v", rpms)
	}
}

func TestFlush(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	aborted := false
	p.SetCallbacks(Callbacks{AbortArcs: func() { aborted = true }})

	for i := 1; i <= 4; i++ {
		if err := p.SubmitAccelLine(target(float64(i*10), 0), 0.01); err != nil {
			t.Fatal(err)
		}
	}
	p.Flush()

	if !aborted {
		t.Error("arc abort callback not invoked")
	}
	for _, st := range p.PoolStates() {
		if st != BufferEmpty {
			t.Errorf("slot %v after flush, want Empty", st)
		}
	}
	if p.MotionState() != MotionStop {
		t.Errorf("motion = %v, want Stop", p.MotionState())
	}
	if err := p.SubmitAccelLine(target(5, 5), 0.01); err != nil {
		t.Errorf("submission after flush: %v", err)
	}
}

func TestCycleCallbacks(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	starts, ends := 0, 0
	p.SetCallbacks(Callbacks{
		CycleStart: func() { starts++ },
		CycleEnd:   func() { ends++ },
	})
	if err := p.SubmitAccelLine(target(1, 0), 0.001); err != nil {
		t.Fatal(err)
	}
	drain(t, p)
	if starts != 1 || ends != 1 {
		t.Errorf("cycle starts=%d ends=%d, want 1/1", starts, ends)
	}
}

func TestSetPositions(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	p.SetPlanPosition(target(5, 5))
	if p.PlanPosition() != target(5, 5) {
		t.Error("plan position not set")
	}
	if p.RuntimePosition(AxisX) != 0 {
		t.Error("plan position leaked into runtime")
	}

	p.SetAxisPosition(target(7, 7))
	if p.RuntimePosition(AxisX) != 7 || p.PlanPosition() != target(7, 7) {
		t.Error("axis position not applied to both frames")
	}

	// a move planned from the new origin has the right length
	if err := p.SubmitAccelLine(target(7, 17), 0.01); err != nil {
		t.Fatal(err)
	}
	if b := p.QueuedBlocks()[0]; math.Abs(b.Length-10) > 1e-12 {
		t.Errorf("length from offset origin = %g, want 10", b.Length)
	}
}

func TestExactStopMode(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())
	p.SetPathControl(PathExactStop)

	if err := p.SubmitAccelLine(target(10, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitAccelLine(target(20, 0), 0.01); err != nil {
		t.Fatal(err)
	}
	blocks := p.QueuedBlocks()
	// collinear moves still stop dead at the junction
	if blocks[0].ExitVelocity != 0 || blocks[1].EntryVelocity != 0 {
		t.Errorf("exact stop violated: exit=%g entry=%g",
			blocks[0].ExitVelocity, blocks[1].EntryVelocity)
	}
	if blocks[0].Replannable || blocks[1].Replannable {
		t.Error("exact stop blocks should not be replannable")
	}
}

func TestMetricsWiring(t *testing.T) {
	rec := stepper.NewRecorder()
	ik := kinematics.NewCartesian(testMotors())
	mx := metrics.NewMotionMetrics()
	p := New(testSettings(), ik, rec, log.Discard(), mx)

	if err := p.SubmitAccelLine(target(5, 0), 0.005); err != nil {
		t.Fatal(err)
	}
	drain(t, p)

	if got := mx.SegmentsEmitted.Get(nil); got == 0 {
		t.Error("segment counter never incremented")
	}
	if got := mx.RuntimePosition.Get(metrics.Labels{"axis": "x"}); got != 5 {
		t.Errorf("position gauge = %g, want 5", got)
	}
	if got := mx.BlocksQueued.Get(nil); got != 1 {
		t.Errorf("blocks queued counter = %d, want 1", got)
	}
}

func TestLineNumberTracking(t *testing.T) {
	p, _ := newTestPlanner(t, testSettings())

	p.SetLineNumber(42)
	if err := p.SubmitAccelLine(target(1, 0), 0.001); err != nil {
		t.Fatal(err)
	}
	// run at least the first segment
	if st, err := p.ExecMove(); err != nil || st == StatusNoop {
		t.Fatalf("exec: %v %v", st, err)
	}
	if got := p.RuntimeLineNumber(); got != 42 {
		t.Errorf("runtime line number = %d, want 42", got)
	}
	drain(t, p)
}
