package planner

import (
	"math"
	"testing"
)

// makeTrapBlock builds a block ready for trapezoid generation, the way
// the forward planning pass leaves it.
func makeTrapBlock(ve, vt, vx, length float64) *block {
	b := &block{}
	b.length = length
	b.entryVelocity = ve
	b.cruiseVelocity = vt
	b.exitVelocity = vx
	b.cruiseVmax = vt
	b.jerk = testJerk
	b.recipJerk = 1 / testJerk
	b.cubertJerk = math.Cbrt(testJerk)
	return b
}

func checkTotalLength(t *testing.T, b *block, set *Settings) {
	t.Helper()
	total := b.headLength + b.bodyLength + b.tailLength
	if math.Abs(total-b.length) > set.LengthTolerance {
		t.Errorf("sections %g+%g+%g = %g, want %g",
			b.headLength, b.bodyLength, b.tailLength, total, b.length)
	}
}

func checkVelocityOrder(t *testing.T, b *block) {
	t.Helper()
	if b.entryVelocity > b.cruiseVelocity+1e-9 || b.exitVelocity > b.cruiseVelocity+1e-9 {
		t.Errorf("velocity order violated: Ve=%g Vt=%g Vx=%g",
			b.entryVelocity, b.cruiseVelocity, b.exitVelocity)
	}
}

func TestTrapezoidZeroCase(t *testing.T) {
	set := testSettings()
	b := makeTrapBlock(0, 100, 0, 1e-8)
	calculateTrapezoid(b, &set)
	if b.length != 0 || b.headLength != 0 || b.bodyLength != 0 || b.tailLength != 0 {
		t.Errorf("zero case left sections: %+v", b)
	}
}

func TestTrapezoidBodyOnly(t *testing.T) {
	set := testSettings()
	b := makeTrapBlock(800, 800, 800, 1.0)
	calculateTrapezoid(b, &set)
	if b.bodyLength != 1.0 || b.headLength != 0 || b.tailLength != 0 {
		t.Errorf("body-only case: head=%g body=%g tail=%g", b.headLength, b.bodyLength, b.tailLength)
	}
}

func TestTrapezoidHBT(t *testing.T) {
	set := testSettings()
	b := makeTrapBlock(0, 190, 0, 0.8)
	calculateTrapezoid(b, &set)
	if b.headLength <= 0 || b.bodyLength <= 0 || b.tailLength <= 0 {
		t.Fatalf("expected three sections: head=%g body=%g tail=%g",
			b.headLength, b.bodyLength, b.tailLength)
	}
	// symmetric velocities give symmetric ramps
	if math.Abs(b.headLength-b.tailLength) > 1e-9 {
		t.Errorf("head %g != tail %g for symmetric endpoints", b.headLength, b.tailLength)
	}
	checkTotalLength(t, b, &set)
	checkVelocityOrder(t, b)
}

func TestTrapezoidSymmetricHT(t *testing.T) {
	set := testSettings()
	// line too short to reach 400 mm/min: cruise is reduced
	b := makeTrapBlock(0, 400, 0, 0.8)
	calculateTrapezoid(b, &set)
	if b.bodyLength != 0 {
		t.Errorf("expected no body, got %g", b.bodyLength)
	}
	if b.headLength != 0.4 || b.tailLength != 0.4 {
		t.Errorf("expected half/half split, got head=%g tail=%g", b.headLength, b.tailLength)
	}
	if b.cruiseVelocity >= 400 {
		t.Errorf("cruise %g not reduced below requested 400", b.cruiseVelocity)
	}
	want := targetVelocity(0, 0.4, b.cubertJerk)
	if math.Abs(b.cruiseVelocity-want) > 1e-9 {
		t.Errorf("cruise = %g, want %g", b.cruiseVelocity, want)
	}
	checkTotalLength(t, b, &set)
}

func TestTrapezoidDegradedEntry(t *testing.T) {
	set := testSettings()
	// entering fast with a demanded full stop in a line far too short:
	// the entry velocity must degrade, the exit (zero) is met
	b := makeTrapBlock(400, 400, 0, 0.05)
	calculateTrapezoid(b, &set)
	if b.headLength != 0 || b.bodyLength != 0 {
		t.Errorf("expected pure tail, got head=%g body=%g", b.headLength, b.bodyLength)
	}
	if b.tailLength != 0.05 {
		t.Errorf("tail = %g, want full length", b.tailLength)
	}
	if b.exitVelocity != 0 {
		t.Errorf("exit = %g, want 0 (met)", b.exitVelocity)
	}
	if b.entryVelocity >= 400 {
		t.Errorf("entry %g not degraded below 400", b.entryVelocity)
	}
	want := targetVelocity(0, 0.05, b.cubertJerk)
	if math.Abs(b.entryVelocity-want) > 1e-9 {
		t.Errorf("degraded entry = %g, want %g", b.entryVelocity, want)
	}
}

func TestTrapezoidDegradedExit(t *testing.T) {
	set := testSettings()
	// accelerating toward a fast exit in a line too short: the exit
	// degrades, the entry is met
	b := makeTrapBlock(0, 400, 400, 0.05)
	calculateTrapezoid(b, &set)
	if b.tailLength != 0 || b.bodyLength != 0 {
		t.Errorf("expected pure head, got body=%g tail=%g", b.bodyLength, b.tailLength)
	}
	if b.headLength != 0.05 {
		t.Errorf("head = %g, want full length", b.headLength)
	}
	if b.entryVelocity != 0 {
		t.Errorf("entry = %g, want 0 (met)", b.entryVelocity)
	}
	if b.exitVelocity >= 400 {
		t.Errorf("exit %g not degraded below 400", b.exitVelocity)
	}
}

func TestTrapezoidAsymmetricHT(t *testing.T) {
	set := testSettings()
	b := makeTrapBlock(200, 600, 0, 0.8)
	calculateTrapezoid(b, &set)
	if b.bodyLength != 0 {
		t.Errorf("expected no body, got %g", b.bodyLength)
	}
	if b.headLength <= 0 || b.tailLength <= 0 {
		t.Fatalf("expected head and tail: head=%g tail=%g", b.headLength, b.tailLength)
	}
	// deceleration from cruise to zero covers more ground than the
	// ramp up from 200
	if b.tailLength <= b.headLength {
		t.Errorf("tail %g should exceed head %g", b.tailLength, b.headLength)
	}
	if b.cruiseVelocity > 600 || b.cruiseVelocity < 200 {
		t.Errorf("cruise %g out of (200, 600)", b.cruiseVelocity)
	}
	if b.entryVelocity != 200 || b.exitVelocity != 0 {
		t.Errorf("endpoints disturbed: Ve=%g Vx=%g", b.entryVelocity, b.exitVelocity)
	}
	checkTotalLength(t, b, &set)
	checkVelocityOrder(t, b)
}

func TestTrapezoidHBCollapse(t *testing.T) {
	set := testSettings()
	// accelerate and exit at full speed: head plus body, no tail
	b := makeTrapBlock(0, 1000, 1000, 10)
	calculateTrapezoid(b, &set)
	if b.tailLength != 0 {
		t.Errorf("expected no tail, got %g", b.tailLength)
	}
	if b.headLength <= 0 || b.bodyLength <= 0 {
		t.Errorf("expected head and body: head=%g body=%g", b.headLength, b.bodyLength)
	}
	checkTotalLength(t, b, &set)
}

func TestTrapezoidFinalizeRedistributes(t *testing.T) {
	set := testSettings()
	b := makeTrapBlock(0, 190, 0, 0.8)
	calculateTrapezoid(b, &set)
	// force a sub-minimum tail and re-finalize
	b.tailLength = set.MinSectionLength / 2
	b.bodyLength = b.length - b.headLength - b.tailLength
	finalizeTrapezoid(b, &set)
	if b.tailLength != 0 {
		t.Errorf("sub-minimum tail survived: %g", b.tailLength)
	}
	checkTotalLength(t, b, &set)
}

func TestTrapezoidSweepTotalsExact(t *testing.T) {
	set := testSettings()
	cases := []struct{ ve, vt, vx, l float64 }{
		{0, 600, 0, 0.327},
		{0, 600, 174.538, 0.327},
		{174.873, 600, 173.867, 0.327},
		{173.593, 600, 0, 0.327},
		{347.082, 600, 173.214, 0.327},
		{400, 400, 0, 0.8},
		{600, 600, 200, 0.8},
		{0, 400, 400, 0.8},
		{200, 600, 600, 0.8},
		{0, 190, 0, 0.8},
		{200, 400, 0, 2.0},
		{0, 200, 0, 0.8},
		{400, 400, 0, 2.0},
		{0, 400, 200, 0.8},
		{800, 800, 800, 1.0},
	}
	for i, c := range cases {
		b := makeTrapBlock(c.ve, c.vt, c.vx, c.l)
		calculateTrapezoid(b, &set)
		total := b.headLength + b.bodyLength + b.tailLength
		if math.Abs(total-b.length) > set.LengthTolerance {
			t.Errorf("case %d (%+v): total %g != length %g", i, c, total, b.length)
		}
		checkVelocityOrder(t, b)
	}
}
