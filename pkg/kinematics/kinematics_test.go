package kinematics

import (
	"math"
	"testing"
)

func sixMotors(stepsPerMM float64) []Motor {
	names := []string{"x", "y", "z", "a", "b", "c"}
	motors := make([]Motor, len(names))
	for i, n := range names {
		motors[i] = Motor{Name: "motor_" + n, StepsPerMM: stepsPerMM}
	}
	return motors
}

func TestCartesianTransform(t *testing.T) {
	ik := NewCartesian(sixMotors(80))
	travel := []float64{1.0, -0.5, 0, 0, 0, 0}
	steps := make([]float64, ik.MotorCount())

	if err := ik.Transform(travel, 5000, steps); err != nil {
		t.Fatal(err)
	}
	if steps[0] != 80.0 {
		t.Errorf("motor 0 steps = %f, want 80", steps[0])
	}
	if steps[1] != -40.0 {
		t.Errorf("motor 1 steps = %f, want -40", steps[1])
	}
	for i := 2; i < 6; i++ {
		if steps[i] != 0 {
			t.Errorf("motor %d steps = %f, want 0", i, steps[i])
		}
	}
}

func TestCartesianInvertDir(t *testing.T) {
	motors := sixMotors(100)
	motors[2].InvertDir = true
	ik := NewCartesian(motors)
	travel := []float64{0, 0, 2.0, 0, 0, 0}
	steps := make([]float64, ik.MotorCount())

	if err := ik.Transform(travel, 5000, steps); err != nil {
		t.Fatal(err)
	}
	if steps[2] != -200.0 {
		t.Errorf("inverted motor steps = %f, want -200", steps[2])
	}
}

func TestCoreXYTransform(t *testing.T) {
	ik := NewCoreXY(sixMotors(80))
	cases := []struct {
		x, y   float64
		a, b   float64
	}{
		{1, 0, 80, 80},    // pure X drives both belts the same way
		{0, 1, 80, -80},   // pure Y drives them opposite
		{1, 1, 160, 0},    // diagonal moves only the A belt
	}
	for _, c := range cases {
		travel := []float64{c.x, c.y, 0, 0, 0, 0}
		steps := make([]float64, ik.MotorCount())
		if err := ik.Transform(travel, 5000, steps); err != nil {
			t.Fatal(err)
		}
		if math.Abs(steps[0]-c.a) > 1e-12 || math.Abs(steps[1]-c.b) > 1e-12 {
			t.Errorf("travel (%g,%g): steps = (%g,%g), want (%g,%g)",
				c.x, c.y, steps[0], steps[1], c.a, c.b)
		}
	}
}

func TestShortSlices(t *testing.T) {
	ik := NewCartesian(sixMotors(80))
	if err := ik.Transform([]float64{1, 2, 3, 4, 5, 6}, 5000, make([]float64, 2)); err == nil {
		t.Error("expected error for short steps slice")
	}
	if err := ik.Transform([]float64{1}, 5000, make([]float64, 6)); err == nil {
		t.Error("expected error for short travel slice")
	}
}

func TestFractionalSteps(t *testing.T) {
	ik := NewCartesian(sixMotors(80))
	travel := []float64{0.0001, 0, 0, 0, 0, 0}
	steps := make([]float64, ik.MotorCount())
	if err := ik.Transform(travel, 5000, steps); err != nil {
		t.Fatal(err)
	}
	// Sub-step travel stays fractional rather than rounding to zero.
	if steps[0] != 0.008 {
		t.Errorf("fractional steps = %g, want 0.008", steps[0])
	}
}
