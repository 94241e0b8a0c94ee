// motiond - trajectory planning host
//
// Loads a machine profile, runs the planner with an interactive console
// on stdin, and streams prepared segments to a recording sink or a
// serial-attached pulse generator.
package main

import (
	"context"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"cnc-motion/pkg/config"
	"cnc-motion/pkg/console"
	"cnc-motion/pkg/errors"
	"cnc-motion/pkg/kinematics"
	"cnc-motion/pkg/log"
	"cnc-motion/pkg/metrics"
	"cnc-motion/pkg/monitor"
	"cnc-motion/pkg/planner"
	"cnc-motion/pkg/reactor"
	"cnc-motion/pkg/stepper"
)

func main() {
	cmd := &cli.Command{
		Name:  "motiond",
		Usage: "Cartesian trajectory planning host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Machine profile path",
				Value:   "machine.cfg",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Rotate logs into this file instead of stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the planner with an interactive console",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "serial",
						Usage: "Serial device of the pulse generator (omit for the recording sink)",
					},
					&cli.IntFlag{
						Name:  "baud",
						Usage: "Serial baud rate",
						Value: 250000,
					},
					&cli.StringFlag{
						Name:  "monitor",
						Usage: "Address for the websocket status endpoint (e.g. :7130)",
					},
					&cli.BoolFlag{
						Name:  "realtime",
						Usage: "Run the executor pump at realtime priority",
					},
				},
				Action: runAction,
			},
			{
				Name:   "check",
				Usage:  "Validate a machine profile",
				Action: checkAction,
			},
			{
				Name:  "plan",
				Usage: "Plan a move list offline and print the blocks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "moves",
						Aliases:  []string{"m"},
						Usage:    "Move list file (one console command per line)",
						Required: true,
					},
				},
				Action: planAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "motiond: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(cmd *cli.Command) (*log.Logger, error) {
	logger := log.New("motiond")
	logger.SetLevel(log.ParseLevel(cmd.String("log-level")))
	if path := cmd.String("log-file"); path != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: path})
		if err != nil {
			return nil, pkgerrors.Wrap(err, "could not open log file")
		}
		logger.SetWriter(w)
		logger.SetColorize(false)
	}
	return logger, nil
}

func loadProfile(cmd *cli.Command, logger *log.Logger) (*config.Config, planner.Settings, error) {
	path := cmd.String("config")
	var cfg *config.Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("profile %s not found, using defaults", path)
		cfg = config.New()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, planner.Settings{}, err
		}
	}
	set, err := planner.SettingsFromConfig(cfg)
	if err != nil {
		return nil, planner.Settings{}, err
	}
	return cfg, set, nil
}

// motorsFromProfile builds the motor table from [axis_*] sections,
// falling back to one 80 steps/mm motor per axis.
func motorsFromProfile(cfg *config.Config) ([]kinematics.Motor, error) {
	names := []string{"x", "y", "z", "a", "b", "c"}
	motors := make([]kinematics.Motor, len(names))
	for i, n := range names {
		motors[i] = kinematics.Motor{Name: "motor_" + n, StepsPerMM: 80}
		sec := cfg.Section("axis_" + n)
		if sec == nil {
			continue
		}
		spm, err := sec.GetFloatAbove("steps_per_mm", 0, 80)
		if err != nil {
			return nil, err
		}
		invert, err := sec.GetBool("invert_dir", false)
		if err != nil {
			return nil, err
		}
		motors[i].StepsPerMM = spm
		motors[i].InvertDir = invert
	}
	return motors, nil
}

func buildKinematics(cfg *config.Config, motors []kinematics.Motor) (kinematics.Inverse, error) {
	kind := "cartesian"
	if sec := cfg.Section("machine"); sec != nil {
		v, err := sec.Get("kinematics", "cartesian")
		if err != nil {
			return nil, err
		}
		kind = v
	}
	switch kind {
	case "cartesian":
		return kinematics.NewCartesian(motors), nil
	case "corexy":
		return kinematics.NewCoreXY(motors), nil
	}
	return nil, errors.RuntimeErrorInit("kinematics", fmt.Sprintf("unknown type %q", kind))
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := buildLogger(cmd)
	if err != nil {
		return err
	}
	cfg, set, err := loadProfile(cmd, logger)
	if err != nil {
		return err
	}
	motors, err := motorsFromProfile(cfg)
	if err != nil {
		return err
	}
	ik, err := buildKinematics(cfg, motors)
	if err != nil {
		return err
	}

	// pick the segment sink
	var sink stepper.Sink
	var wire func(func())
	if dev := cmd.String("serial"); dev != "" {
		ss, err := stepper.OpenSerial(stepper.SerialConfig{Device: dev, Baud: int(cmd.Int("baud"))})
		if err != nil {
			return pkgerrors.Wrap(err, "could not open pulse generator")
		}
		defer ss.Close()
		sink = ss
		wire = ss.OnExecRequest
		logger.Info("streaming segments to %s", dev)
	} else {
		rec := stepper.NewRecorder()
		sink = rec
		wire = rec.OnExecRequest
		logger.Info("no pulse generator attached, recording segments")
	}

	mx := metrics.NewMotionMetrics()
	p := planner.New(set, ik, sink, logger.WithPrefix("planner"), mx)

	// main loop reactor: hold planning runs here, not in the executor
	r := reactor.New()
	p.SetCallbacks(planner.Callbacks{
		HoldPlanNeeded: func() {
			r.RegisterAsyncCallback(func(eventtime float64) {
				if _, err := p.PlanHoldCallback(); err != nil {
					logger.Error("hold planning: %v", err)
				}
			})
		},
		HoldEntered: func() { logger.Info("holding") },
		ProgramStop: func() { logger.Info("program stop") },
		ProgramEnd:  func() { logger.Info("program end") },
		SpindleControl: func(d planner.SpindleDirection) {
			logger.Info("spindle -> %d", d)
		},
		MistCoolant:  func(on bool) { logger.Info("mist coolant %v", on) },
		FloodCoolant: func(on bool) { logger.Info("flood coolant %v", on) },
	})

	// hold release poller: EndFeedhold is asserted from the console,
	// the release itself must run on the main loop
	r.RegisterTimer(func(eventtime float64) float64 {
		if _, err := p.EndHoldCallback(); err != nil {
			logger.Error("hold release: %v", err)
		}
		if err := p.ExecError(); err != nil {
			logger.Error("executor fault: %v", err)
		}
		return eventtime + 0.05
	}, reactor.NOW)
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	pump := planner.NewPump(p, logger.WithPrefix("pump"))
	pump.Pacing = true
	pump.Realtime = cmd.Bool("realtime")
	wire(pump.Wake)
	pump.Start()
	defer pump.Stop()

	if addr := cmd.String("monitor"); addr != "" {
		mon := monitor.New(monitor.Config{Addr: addr}, p, mx, logger.WithPrefix("monitor"))
		if err := mon.Start(); err != nil {
			return err
		}
		defer mon.Stop()
	}

	return console.New(p, os.Stdout, logger.WithPrefix("console")).Run(os.Stdin)
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := buildLogger(cmd)
	if err != nil {
		return err
	}
	cfg, set, err := loadProfile(cmd, logger)
	if err != nil {
		return err
	}
	motors, err := motorsFromProfile(cfg)
	if err != nil {
		return err
	}
	if _, err := buildKinematics(cfg, motors); err != nil {
		return err
	}
	fmt.Printf("profile ok: pool=%d segment=%gus junction_accel=%g\n",
		set.PoolSize, set.SegmentTargetUs, set.JunctionAcceleration)
	for i, m := range motors {
		fmt.Printf("  %s: %.1f steps/mm jerk=%.3g dev=%.3g\n",
			m.Name, m.StepsPerMM, set.Axes[i].JerkMax, set.Axes[i].JunctionDeviation)
	}
	return nil
}

func planAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := buildLogger(cmd)
	if err != nil {
		return err
	}
	cfg, set, err := loadProfile(cmd, logger)
	if err != nil {
		return err
	}
	motors, err := motorsFromProfile(cfg)
	if err != nil {
		return err
	}
	ik, err := buildKinematics(cfg, motors)
	if err != nil {
		return err
	}

	f, err := os.Open(cmd.String("moves"))
	if err != nil {
		return pkgerrors.Wrap(err, "could not open move list")
	}
	defer f.Close()

	p := planner.New(set, ik, stepper.NewRecorder(), logger.WithPrefix("planner"), nil)
	con := console.New(p, os.Stdout, logger)
	if err := con.Run(f); err != nil {
		return err
	}

	fmt.Printf("%-4s %-10s %-9s %-9s %-9s %-9s %-9s %-9s\n",
		"#", "target", "length", "head", "body", "tail", "entry", "exit")
	for i, b := range p.QueuedBlocks() {
		fmt.Printf("%-4d %-10s %-9.4f %-9.4f %-9.4f %-9.4f %-9.2f %-9.2f\n",
			i, fmt.Sprintf("(%.1f,%.1f)", b.Target[0], b.Target[1]),
			b.Length, b.HeadLength, b.BodyLength, b.TailLength,
			b.EntryVelocity, b.ExitVelocity)
	}
	return nil
}
