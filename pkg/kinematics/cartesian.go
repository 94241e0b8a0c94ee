// Cartesian inverse kinematics for machines with one motor per axis.
package kinematics

// Cartesian maps axis i directly onto motor i.
type Cartesian struct {
	baseKinematics
}

// NewCartesian creates a cartesian inverse kinematics instance with one
// motor per configured axis.
func NewCartesian(motors []Motor) *Cartesian {
	return &Cartesian{baseKinematics{motors: motors}}
}

// GetType returns the kinematic type name.
func (ck *Cartesian) GetType() string {
	return "cartesian"
}

// Transform converts axis travel to motor steps; direct mapping.
func (ck *Cartesian) Transform(travel []float64, microseconds float64, steps []float64) error {
	if err := checkArgs(&ck.baseKinematics, travel, steps); err != nil {
		return err
	}
	_ = microseconds
	for i := range ck.motors {
		steps[i] = ck.scale(i, travel[i])
	}
	return nil
}
