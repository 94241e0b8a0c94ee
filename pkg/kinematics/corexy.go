// CoreXY inverse kinematics.
//
// The two XY motors work together:
//   - A position = X + Y
//   - B position = X - Y
//
// Remaining axes map directly onto motors 2..n.
package kinematics

// CoreXY implements corexy inverse kinematics.
type CoreXY struct {
	baseKinematics
}

// NewCoreXY creates a corexy inverse kinematics instance. motors[0] and
// motors[1] are the A and B belt motors; further motors map axis i
// directly.
func NewCoreXY(motors []Motor) *CoreXY {
	return &CoreXY{baseKinematics{motors: motors}}
}

// GetType returns the kinematic type name.
func (ck *CoreXY) GetType() string {
	return "corexy"
}

// Transform converts axis travel to motor steps.
func (ck *CoreXY) Transform(travel []float64, microseconds float64, steps []float64) error {
	if err := checkArgs(&ck.baseKinematics, travel, steps); err != nil {
		return err
	}
	_ = microseconds
	steps[0] = ck.scale(0, travel[0]+travel[1])
	steps[1] = ck.scale(1, travel[0]-travel[1])
	for i := 2; i < len(ck.motors); i++ {
		steps[i] = ck.scale(i, travel[i])
	}
	return nil
}
