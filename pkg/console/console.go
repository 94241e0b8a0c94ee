// Package console implements the interactive command console of the
// motion host: a line-oriented control surface for submitting moves and
// driving feedholds while watching runtime state.
package console

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/shlex"
	pkgerrors "github.com/pkg/errors"

	"cnc-motion/pkg/log"
	"cnc-motion/pkg/planner"
)

// Console parses command lines and drives the planner.
type Console struct {
	p      *planner.Planner
	out    io.Writer
	logger *log.Logger

	// feed rate carried between move commands, mm/min
	feed float64
}

// New creates a console writing responses to out.
func New(p *planner.Planner, out io.Writer, logger *log.Logger) *Console {
	if logger == nil {
		logger = log.Discard()
	}
	return &Console{p: p, out: out, logger: logger, feed: 600}
}

// Run reads command lines until EOF or "quit".
func (c *Console) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, "motion console ready (type 'help')")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := c.Execute(line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// Execute runs one command line. Returns true when the session should
// end.
func (c *Console) Execute(line string) (bool, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, pkgerrors.Wrap(err, "could not tokenize command")
	}
	if len(tokens) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(tokens[0]), tokens[1:]

	switch cmd {
	case "help":
		c.printHelp()
	case "move":
		return false, c.submitMove(args, true)
	case "line":
		return false, c.submitMove(args, false)
	case "dwell":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: dwell <seconds>")
		}
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, pkgerrors.Wrap(err, "bad dwell time")
		}
		return false, c.p.SubmitDwell(secs)
	case "hold":
		c.p.RequestFeedhold()
		fmt.Fprintln(c.out, "feedhold requested")
	case "resume":
		c.p.EndFeedhold()
		fmt.Fprintln(c.out, "resume requested")
	case "flush":
		c.p.Flush()
		fmt.Fprintln(c.out, "queue flushed")
	case "tool":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: tool <id>")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return false, pkgerrors.Wrap(err, "bad tool id")
		}
		return false, c.p.QueueTool(id)
	case "speed":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: speed <rpm>")
		}
		rpm, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, pkgerrors.Wrap(err, "bad spindle speed")
		}
		return false, c.p.QueueSpindleSpeed(rpm)
	case "pos":
		c.printPosition()
	case "status":
		c.printStatus()
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	return false, nil
}

// submitMove parses axis words (x10 y5 ...) and an optional feed word
// (f600, mm/min), then submits an accelerated or unaccelerated move.
func (c *Console) submitMove(args []string, accel bool) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: move x<mm> y<mm> ... [f<mm/min>]")
	}
	target := c.p.PlanPosition()
	feed := c.feed
	for _, a := range args {
		if len(a) < 2 {
			return fmt.Errorf("bad axis word %q", a)
		}
		val, err := strconv.ParseFloat(a[1:], 64)
		if err != nil {
			return pkgerrors.Wrapf(err, "bad axis word %q", a)
		}
		switch a[0] {
		case 'x', 'X':
			target[planner.AxisX] = val
		case 'y', 'Y':
			target[planner.AxisY] = val
		case 'z', 'Z':
			target[planner.AxisZ] = val
		case 'a', 'A':
			target[planner.AxisA] = val
		case 'b', 'B':
			target[planner.AxisB] = val
		case 'c', 'C':
			target[planner.AxisC] = val
		case 'f', 'F':
			if val <= 0 {
				return fmt.Errorf("feed must be positive")
			}
			feed = val
		default:
			return fmt.Errorf("bad axis word %q", a)
		}
	}
	c.feed = feed

	length := 0.0
	start := c.p.PlanPosition()
	for i := 0; i < planner.NumAxes; i++ {
		d := target[i] - start[i]
		length += d * d
	}
	if length == 0 {
		return fmt.Errorf("zero length move")
	}
	minutes := math.Sqrt(length) / feed

	if !c.p.QueueHasSpace() {
		return fmt.Errorf("queue full, wait for drain")
	}
	if accel {
		return c.p.SubmitAccelLine(target, minutes)
	}
	return c.p.SubmitLine(target, minutes)
}

func (c *Console) printPosition() {
	names := []string{"x", "y", "z", "a", "b", "c"}
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%.4f", n, c.p.RuntimePosition(i))
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printStatus() {
	fmt.Fprintf(c.out, "motion=%d hold=%d velocity=%.2f line=%d queue=%d busy=%v\n",
		c.p.MotionState(), c.p.HoldState(), c.p.RuntimeVelocity(),
		c.p.RuntimeLineNumber(), c.p.QueueDepth(), c.p.IsBusy())
	if err := c.p.ExecError(); err != nil {
		fmt.Fprintf(c.out, "executor fault: %v\n", err)
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `commands:
  move x<mm> y<mm> ... [f<mm/min>]   jerk-limited move
  line x<mm> y<mm> ... [f<mm/min>]   unaccelerated move
  dwell <seconds>                    timed pause
  tool <id>                          queue tool selection
  speed <rpm>                        queue spindle speed
  hold / resume                      feedhold control
  flush                              drop queued moves
  pos / status                       runtime state
  quit                               leave the console
`)
}
