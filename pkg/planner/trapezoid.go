package planner

import (
	"math"
)

// calculateTrapezoid sets section lengths and velocities from the
// block's length and requested velocities. Entry requires
// entryVelocity <= cruiseVelocity >= exitVelocity. Lengths come out
// exact; velocities may be approximate as long as they err slow.
// Velocities are set even for zero-length sections so adjacent blocks
// can chain entries and exits.
//
// Cases handled, in order:
//
//	ZERO  line too short to plan at all
//	B     Ve=Vt=Vx    body only
//	HBT   Ve<Vt>Vx    full three-section trapezoid
//	HT    Ve=Vx       symmetric two-section, cruise reduced
//	H'/T' line too short to meet the velocity change: one section,
//	      the unmeetable endpoint velocity is degraded
//	H/T+B line fits the ramp with room to spare: ramp plus body
//	HT    Ve!=Vx      asymmetric two-section, fixed-point fit
func calculateTrapezoid(bf *block, set *Settings) {
	bf.headLength = 0
	bf.bodyLength = 0
	bf.tailLength = 0

	// ZERO case - the line is too short to plan
	if bf.length < set.Epsilon {
		bf.length = 0
		return
	}

	// B case - only a body because all velocities are equal
	if ((bf.cruiseVelocity - bf.entryVelocity) < set.VelocityTolerance) &&
		((bf.cruiseVelocity - bf.exitVelocity) < set.VelocityTolerance) {
		bf.bodyLength = bf.length
		return
	}

	// HBT case - trapezoid with a cruise region
	bf.headLength = targetLength(bf.entryVelocity, bf.cruiseVelocity, bf.recipJerk)
	if bf.headLength < bf.length {
		bf.tailLength = targetLength(bf.exitVelocity, bf.cruiseVelocity, bf.recipJerk)
		bf.bodyLength = bf.length - bf.headLength - bf.tailLength
		if bf.bodyLength > set.Epsilon {
			finalizeTrapezoid(bf, set)
			return
		}
	}

	// HT symmetric case - Ve=Vx, cruise reduced to what the half-length
	// ramp can reach. Velocity tolerance absorbs FP rounding.
	if math.Abs(bf.entryVelocity-bf.exitVelocity) < set.VelocityTolerance {
		bf.bodyLength = 0
		bf.headLength = bf.length / 2
		bf.tailLength = bf.headLength
		bf.cruiseVelocity = targetVelocity(bf.entryVelocity, bf.headLength, bf.cubertJerk)
		return
	}

	// H' and T' degraded cases - line too short to fit the required
	// accel/decel at all
	minimumLength := targetLength(bf.entryVelocity, bf.exitVelocity, bf.recipJerk)
	if bf.length < (minimumLength - set.LengthTolerance) {
		if bf.entryVelocity < bf.exitVelocity {
			// degrade exit velocity to what the line permits
			bf.headLength = bf.length
			bf.tailLength = 0
			bf.exitVelocity = targetVelocity(bf.entryVelocity, bf.length, bf.cubertJerk)
		} else {
			// degrade entry velocity to what the line permits
			bf.headLength = 0
			bf.tailLength = bf.length
			bf.entryVelocity = targetVelocity(bf.exitVelocity, bf.length, bf.cubertJerk)
		}
		bf.bodyLength = 0
		return
	}

	// H, T, HB and BT cases - cruise set to match the faster endpoint,
	// the single ramp plus a body consume the line
	if bf.length < (minimumLength * set.LengthFactor) {
		fitRampWithBody(bf, set)
		finalizeTrapezoid(bf, set)
		return
	}

	// HT asymmetric case - iterate the cruise velocity down from
	// cruiseVmax until head and tail exactly consume the line
	computedVelocity := bf.cruiseVmax
	converged := false
	for i := 0; i < set.MaxIterations; i++ {
		bf.cruiseVelocity = computedVelocity
		bf.headLength = targetLength(bf.entryVelocity, bf.cruiseVelocity, bf.recipJerk)
		bf.tailLength = targetLength(bf.exitVelocity, bf.cruiseVelocity, bf.recipJerk)
		if bf.headLength > bf.tailLength {
			bf.headLength = (bf.headLength / (bf.headLength + bf.tailLength)) * bf.length
			computedVelocity = targetVelocity(bf.entryVelocity, bf.headLength, bf.cubertJerk)
		} else {
			bf.tailLength = (bf.tailLength / (bf.headLength + bf.tailLength)) * bf.length
			computedVelocity = targetVelocity(bf.exitVelocity, bf.tailLength, bf.cubertJerk)
		}
		if math.Abs(bf.cruiseVelocity-computedVelocity)/computedVelocity <= set.IterationErrorPct {
			converged = true
			break
		}
	}
	if !converged {
		// keep realtime determinism: give up on the exact fit and fall
		// back to the single-ramp-plus-body shape
		fitRampWithBody(bf, set)
		finalizeTrapezoid(bf, set)
		return
	}
	bf.cruiseVelocity = computedVelocity
	bf.headLength = targetLength(bf.entryVelocity, bf.cruiseVelocity, bf.recipJerk)
	bf.tailLength = targetLength(bf.exitVelocity, bf.cruiseVelocity, bf.recipJerk)
	bf.bodyLength = 0
	// the iteration converges on velocity, not length; rescale so the
	// sections consume the line exactly
	if total := bf.headLength + bf.tailLength; total > 0 {
		bf.headLength *= bf.length / total
		bf.tailLength = bf.length - bf.headLength
	}
	finalizeTrapezoid(bf, set)
}

// fitRampWithBody shapes the block as one ramp between the endpoint
// velocities plus a body at the faster endpoint's speed.
func fitRampWithBody(bf *block, set *Settings) {
	if bf.entryVelocity < bf.exitVelocity {
		// acceleration section (head)
		bf.cruiseVelocity = bf.exitVelocity
		bf.headLength = targetLength(bf.entryVelocity, bf.exitVelocity, bf.recipJerk)
		bf.bodyLength = bf.length - bf.headLength
		bf.tailLength = 0
	} else {
		// deceleration section (tail)
		bf.cruiseVelocity = bf.entryVelocity
		bf.tailLength = targetLength(bf.entryVelocity, bf.exitVelocity, bf.recipJerk)
		bf.bodyLength = bf.length - bf.tailLength
		bf.headLength = 0
	}
}

// finalizeTrapezoid zeroes sections below the minimum executable length
// and redistributes their length so the total stays exact.
func finalizeTrapezoid(bf *block, set *Settings) {
	if bf.headLength < set.MinSectionLength {
		bf.headLength = 0
		bf.bodyLength = bf.length - bf.tailLength
	}
	if bf.bodyLength < set.MinSectionLength {
		bf.bodyLength = 0
		bf.tailLength = bf.length - bf.headLength
	}
	if bf.tailLength < set.MinSectionLength {
		bf.tailLength = 0
		if bf.headLength > bf.bodyLength {
			bf.headLength = bf.length - bf.bodyLength
		} else {
			bf.bodyLength = bf.length - bf.headLength
		}
	}
}
