package main

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/satoshi-pes/rotavg/bound"
	"github.com/satoshi-pes/rotavg/shonan"
)

func runCmd() *cobra.Command {
	var (
		graph       string
		poses       int
		extra       int
		noise       float64
		seed        uint64
		pMin        int
		pMax        int
		descent     bool
		restarts    int
		initMode    string
		method      string
		verbosity   string
		configPath  string
		maxAngle    float64
		maxRelative float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Average a synthetic rotation graph and certify the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := shonan.DefaultParameters()
			if configPath != "" {
				var err error
				if params, err = shonan.LoadParameters(configPath); err != nil {
					return err
				}
			}

			// Flags override the config file; without one they always apply.
			flags := cmd.Flags()
			override := func(name string) bool { return configPath == "" || flags.Changed(name) }
			if override("seed") {
				params.Seed = seed
			}
			if override("restarts") {
				params.RandomRestarts = restarts
			}
			if override("method") {
				params.Method = method
			}
			if override("verbosity") {
				params.Verbosity = verbosity
			}

			truth, measurements, err := synthesize(graphConfig{
				topology: graph,
				poses:    poses,
				extra:    extra,
				sigma:    noise,
				seed:     seed,
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("topology", graph).
				Int("poses", poses).
				Int("measurements", len(measurements)).
				Float64("sigma", noise).
				Msg("graph synthesized")

			sa, err := shonan.New(measurements, params)
			if err != nil {
				return err
			}

			var initial shonan.Values
			switch initMode {
			case "random":
			case "chordal":
				if initial, err = sa.InitializeChordally(); err != nil {
					return err
				}
				initCost, err := sa.Cost(initial)
				if err != nil {
					return err
				}
				log.Info().Float64("cost", initCost).Msg("chordal initialization")
			default:
				return fmt.Errorf("unknown init mode %q, want random or chordal", initMode)
			}

			start := time.Now()
			estimate, lambda, err := sa.RunFrom(initial, pMin, pMax, descent)
			if err != nil {
				return err
			}

			cost, err := sa.Cost(estimate)
			if err != nil {
				return err
			}
			certified := lambda >= params.OptimalityThreshold
			log.Info().
				Float64("cost", cost).
				Float64("min_eigenvalue", lambda).
				Bool("certified", certified).
				Dur("elapsed", time.Since(start)).
				Msg("staircase finished")

			printReport(sa, estimate, truth, cost, lambda, certified)
			return screenConstraints(sa, estimate, maxAngle, maxRelative)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&graph, "graph", "ring", "graph topology: ring|random")
	flags.IntVar(&poses, "poses", 6, "number of poses")
	flags.IntVar(&extra, "extra", 2, "extra chord measurements beyond the base topology")
	flags.Float64Var(&noise, "noise", 0.02, "measurement noise angle stddev in radians")
	flags.Uint64Var(&seed, "seed", 42, "seed for graph synthesis and solver randomness")
	flags.IntVar(&pMin, "pmin", 3, "first staircase level")
	flags.IntVar(&pMax, "pmax", 8, "last staircase level")
	flags.BoolVar(&descent, "descent", false, "start levels along the certificate eigenvector")
	flags.IntVar(&restarts, "restarts", 1, "random restarts per staircase level")
	flags.StringVar(&initMode, "init", "random", "first level start: random|chordal")
	flags.StringVar(&method, "method", "lbfgs", "solver: lbfgs|cg|bfgs|gradientdescent|neldermead")
	flags.StringVar(&verbosity, "verbosity", "SUMMARY", "solver verbosity: SILENT|SUMMARY|debug|info|warn|error")
	flags.StringVar(&configPath, "config", "", "YAML parameters file, flags override it")
	flags.Float64Var(&maxAngle, "max-angle", 0., "screen pose angles against this bound in radians, 0 disables")
	flags.Float64Var(&maxRelative, "max-relative", 0., "screen relative angles of measured pairs, 0 disables")
	return cmd
}

// printReport aligns the estimate to the truth gauge and prints the
// per-pose result with the certification summary.
func printReport(sa *shonan.Averaging, estimate, truth shonan.Values, cost, lambda float64, certified bool) {
	keys := sa.PoseKeys()
	gauge := truth[keys[0]].Mul(estimate[keys[0]].Inverse())

	fmt.Printf("solution over %d poses, %d measurements\n", sa.NumPoses(), sa.NumMeasurements())
	fmt.Printf("  cost            %.6e\n", cost)
	fmt.Printf("  min eigenvalue  %.6e\n", lambda)
	fmt.Printf("  certified       %v\n", certified)

	var meanErr, maxErr float64
	for _, k := range keys {
		aligned := gauge.Mul(estimate[k])
		e := bound.RelativeAngle(aligned, truth[k], false).Value
		meanErr += e
		maxErr = math.Max(maxErr, e)
		fmt.Printf("  pose %3d  angle %8.5f rad  error %10.3e rad\n", k, aligned.Angle(), e)
	}
	meanErr /= float64(len(keys))
	fmt.Printf("  rotation error  mean %.3e rad  max %.3e rad\n", meanErr, maxErr)
}

// screenConstraints checks the raw estimate against the requested angle
// bounds and prints the violations.
func screenConstraints(sa *shonan.Averaging, estimate shonan.Values, maxAngle, maxRelative float64) error {
	var constraints []bound.Constraint
	if maxAngle > 0 {
		for _, k := range sa.PoseKeys() {
			constraints = append(constraints, bound.MaxRotationAngle(k, maxAngle))
		}
	}
	if maxRelative > 0 {
		for i := range sa.NumMeasurements() {
			k1, k2 := sa.Keys(i)
			constraints = append(constraints, bound.MaxRelativeAngle(k1, k2, maxRelative))
		}
	}
	if len(constraints) == 0 {
		return nil
	}

	violations, err := bound.Violations(constraints, estimate)
	if err != nil {
		return err
	}
	penalty, err := bound.Penalty(constraints, estimate)
	if err != nil {
		return err
	}

	fmt.Printf("constraints: %d checked, %d violated, penalty %.4e\n",
		len(constraints), len(violations), penalty)
	for _, v := range violations {
		c := constraints[v.Index]
		switch c.Kind {
		case bound.Unary:
			fmt.Printf("  pose %d angle exceeds %.4f rad by %.4f\n", c.Key1, c.Threshold, v.Error)
		case bound.Binary:
			fmt.Printf("  relative angle %d-%d exceeds %.4f rad by %.4f\n",
				c.Key1, c.Key2, c.Threshold, v.Error)
		}
	}
	return nil
}
