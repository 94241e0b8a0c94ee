package planner

import (
	"sync"
	"time"

	"cnc-motion/pkg/errors"
	"cnc-motion/pkg/log"
	"cnc-motion/pkg/stepper"
)

// Pump drives executor ticks on a dedicated goroutine: the host-side
// stand-in for the pulse generator's exec scheduling. It prepares the
// next segment whenever one is needed, paces itself by segment
// duration, and parks when the planner has nothing to do.
type Pump struct {
	p      *Planner
	logger *log.Logger

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	// Pacing makes the pump sleep for each prepared segment's duration,
	// approximating real pulse timing. Off, it drains as fast as the
	// sink accepts segments.
	Pacing bool

	// Realtime switches the pump thread to SCHED_FIFO where supported.
	Realtime bool
}

// NewPump creates a pump for the planner.
func NewPump(p *Planner, logger *log.Logger) *Pump {
	if logger == nil {
		logger = log.Discard()
	}
	return &Pump{
		p:      p,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Wake schedules another executor tick. Wired to the sink's exec
// request callback; safe from any goroutine.
func (pu *Pump) Wake() {
	select {
	case pu.wake <- struct{}{}:
	default:
	}
}

// Start launches the pump goroutine.
func (pu *Pump) Start() {
	pu.wg.Add(1)
	go pu.run()
}

// Stop terminates the pump and waits for it to park.
func (pu *Pump) Stop() {
	close(pu.stop)
	pu.wg.Wait()
}

// tick runs one executor call, converting a panic in the exec path into
// a latched fault instead of taking down the pump goroutine.
func (pu *Pump) tick() (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			e := errors.PanicError(r)
			pu.p.latchExecError(e)
			status, err = StatusNoop, e
		}
	}()
	return pu.p.ExecMove()
}

func (pu *Pump) run() {
	defer pu.wg.Done()

	if pu.Realtime {
		if err := stepper.SetRealtimePriority(10); err != nil {
			pu.logger.Warn("realtime priority unavailable: %v", err)
		}
	}

	for {
		status, err := pu.tick()
		if err != nil {
			// fatal errors are latched on the planner; park until new work
			pu.logger.Error("exec tick: %v", err)
			status = StatusNoop
		}

		switch status {
		case StatusAgain, StatusOK:
			if pu.Pacing {
				us := pu.p.LastSegmentDurationUs()
				if us > 0 {
					select {
					case <-time.After(time.Duration(us) * time.Microsecond):
					case <-pu.stop:
						return
					}
				}
			}
			// check for shutdown between ticks
			select {
			case <-pu.stop:
				return
			default:
			}
		case StatusNoop:
			select {
			case <-pu.wake:
			case <-pu.stop:
				return
			}
		}
	}
}
