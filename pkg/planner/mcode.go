package planner

// MCode identifies an auxiliary command queued for in-order execution.
type MCode uint8

const (
	// MCodeProgramStop pauses the program (M0).
	MCodeProgramStop MCode = iota + 1
	// MCodeOptionalStop pauses if the stop switch is armed (M1).
	MCodeOptionalStop
	// MCodeProgramEnd ends the program (M2/M30).
	MCodeProgramEnd
	// MCodeSpindleCW starts the spindle clockwise (M3).
	MCodeSpindleCW
	// MCodeSpindleCCW starts the spindle counter-clockwise (M4).
	MCodeSpindleCCW
	// MCodeSpindleOff stops the spindle (M5).
	MCodeSpindleOff
	// MCodeMistCoolantOn enables mist coolant (M7).
	MCodeMistCoolantOn
	// MCodeFloodCoolantOn enables flood coolant (M8).
	MCodeFloodCoolantOn
	// MCodeFloodCoolantOff disables all coolant (M9).
	MCodeFloodCoolantOff
	// MCodeFeedOverrideOn enables feed override (M50).
	MCodeFeedOverrideOn
	// MCodeFeedOverrideOff disables feed override (M51).
	MCodeFeedOverrideOff
)

// mcodeTable dispatches auxiliary commands to their side-effect hooks.
// A table rather than a switch so integrations can see the full command
// surface in one place.
type mcodeTable map[MCode]func(cb *Callbacks)

func defaultMCodeTable() mcodeTable {
	return mcodeTable{
		MCodeProgramStop: func(cb *Callbacks) {
			if cb.ProgramStop != nil {
				cb.ProgramStop()
			}
		},
		MCodeOptionalStop: func(cb *Callbacks) {
			if cb.ProgramStop != nil {
				cb.ProgramStop()
			}
		},
		MCodeProgramEnd: func(cb *Callbacks) {
			if cb.ProgramEnd != nil {
				cb.ProgramEnd()
			}
		},
		MCodeSpindleCW: func(cb *Callbacks) {
			if cb.SpindleControl != nil {
				cb.SpindleControl(SpindleCW)
			}
		},
		MCodeSpindleCCW: func(cb *Callbacks) {
			if cb.SpindleControl != nil {
				cb.SpindleControl(SpindleCCW)
			}
		},
		MCodeSpindleOff: func(cb *Callbacks) {
			if cb.SpindleControl != nil {
				cb.SpindleControl(SpindleOff)
			}
		},
		MCodeMistCoolantOn: func(cb *Callbacks) {
			if cb.MistCoolant != nil {
				cb.MistCoolant(true)
			}
		},
		MCodeFloodCoolantOn: func(cb *Callbacks) {
			if cb.FloodCoolant != nil {
				cb.FloodCoolant(true)
			}
		},
		MCodeFloodCoolantOff: func(cb *Callbacks) {
			if cb.FloodCoolant != nil {
				cb.FloodCoolant(false)
			}
			if cb.MistCoolant != nil {
				cb.MistCoolant(false)
			}
		},
		MCodeFeedOverrideOn: func(cb *Callbacks) {
			if cb.FeedOverrideEnable != nil {
				cb.FeedOverrideEnable(true)
			}
		},
		MCodeFeedOverrideOff: func(cb *Callbacks) {
			if cb.FeedOverrideEnable != nil {
				cb.FeedOverrideEnable(false)
			}
		},
	}
}
