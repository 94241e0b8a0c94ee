// Package kinematics provides inverse kinematic transformations mapping
// axis-space travel onto motor step counts for various machine types.
package kinematics

import (
	"cnc-motion/pkg/errors"
)

// Motor describes one motor channel.
type Motor struct {
	Name       string
	StepsPerMM float64
	InvertDir  bool
}

// Inverse is the interface for all inverse-kinematic implementations.
// Transform converts per-axis travel (mm or degrees) for one segment
// into fractional step counts per motor. Step rounding is the pulse
// generator's concern; the planner carries fractional steps so rounding
// error does not accumulate across segments.
type Inverse interface {
	// GetType returns the kinematic type name (e.g., "cartesian", "corexy").
	GetType() string

	// MotorCount returns the number of motor channels.
	MotorCount() int

	// Transform fills steps (len >= MotorCount) from the axis travel
	// vector for a segment of the given duration in microseconds.
	Transform(travel []float64, microseconds float64, steps []float64) error
}

// baseKinematics provides common motor bookkeeping.
type baseKinematics struct {
	motors []Motor
}

func (bk *baseKinematics) MotorCount() int {
	return len(bk.motors)
}

func (bk *baseKinematics) scale(motor int, travel float64) float64 {
	m := bk.motors[motor]
	s := travel * m.StepsPerMM
	if m.InvertDir {
		s = -s
	}
	return s
}

func checkArgs(bk *baseKinematics, travel []float64, steps []float64) error {
	if len(steps) < len(bk.motors) {
		return errors.KinematicsError("steps slice shorter than motor count")
	}
	if len(travel) < len(bk.motors) {
		return errors.KinematicsError("travel slice shorter than motor count")
	}
	return nil
}
