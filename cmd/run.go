package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/leafwalk/internal/config"
	"github.com/cwbudde/leafwalk/internal/leaves"
	"github.com/cwbudde/leafwalk/internal/opt"
	"github.com/cwbudde/leafwalk/internal/store"
	"github.com/cwbudde/leafwalk/internal/walker"
)

var (
	optimizerName string
	lossName      string
	method        string
	backtracking  string
	leafwise      bool
	iters         int
	learningRate  float64
	l2            float64
	workers       int
	samples       int
	numLeaves     int
	dims          int
	noise         float64
	binary        bool
	seed          int64
	mayflyIters   int
	popSize       int
	bound         float64
	save          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fit the leaves of a synthetic tree fragment",
	Long: `Generates a synthetic problem, estimates its leaf values and prints a summary.
Flags override the config file. With --save the run and its walk trace are
written to the data directory.`,
	RunE: runFit,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&optimizerName, "optimizer", "walker", "Optimizer: walker, mayfly")
	f.StringVar(&lossName, "loss", "RMSE", "Loss: RMSE, Logloss")
	f.StringVar(&method, "method", "Newton", "Leaf estimation method: Gradient, Newton")
	f.StringVar(&backtracking, "backtracking", "AnyImprovement", "Backtracking: No, AnyImprovement")
	f.BoolVar(&leafwise, "leafwise", false, "Walk every leaf independently")
	f.IntVar(&iters, "iters", 10, "Walker iteration budget")
	f.Float64Var(&learningRate, "lr", 1.0, "Learning rate")
	f.Float64Var(&l2, "l2", 3.0, "L2 leaf regularization")
	f.IntVar(&workers, "workers", 0, "Worker goroutines (0 = config value)")
	f.IntVar(&samples, "samples", 1000, "Number of samples")
	f.IntVar(&numLeaves, "leaves", 8, "Number of leaves")
	f.IntVar(&dims, "dims", 1, "Number of output dimensions")
	f.Float64Var(&noise, "noise", 0.1, "Target noise standard deviation")
	f.BoolVar(&binary, "binary", false, "Generate 0/1 targets")
	f.Int64Var(&seed, "seed", 42, "Random seed")
	f.IntVar(&mayflyIters, "mayfly-iters", 200, "Mayfly max iterations")
	f.IntVar(&popSize, "pop", 30, "Mayfly population size")
	f.Float64Var(&bound, "bound", 10, "Mayfly search bound for leaf values")
	f.BoolVar(&save, "save", false, "Persist the run and its trace")

	rootCmd.AddCommand(runCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	c, err := requireConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd.Flags(), c)

	_, err = executeRun(c, save, os.Stdout)
	return err
}

// applyRunFlags copies every explicitly set flag into c.
func applyRunFlags(flags *pflag.FlagSet, c *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("optimizer", func() { c.Optimizer = optimizerName })
	set("loss", func() { c.Loss = lossName })
	set("method", func() { c.Estimation.Method = method })
	set("backtracking", func() { c.Estimation.Backtracking = backtracking })
	set("leafwise", func() { c.Estimation.Leafwise = leafwise })
	set("iters", func() { c.Estimation.Iterations = iters })
	set("lr", func() { c.Estimation.LearningRate = learningRate })
	set("l2", func() { c.Estimation.L2 = l2 })
	set("workers", func() {
		if workers > 0 {
			c.Estimation.Workers = workers
		}
	})
	set("samples", func() { c.Data.Samples = samples })
	set("leaves", func() { c.Data.Leaves = numLeaves })
	set("dims", func() { c.Data.Dimensions = dims })
	set("noise", func() { c.Data.Noise = noise })
	set("binary", func() { c.Data.Binary = binary })
	set("seed", func() { c.Data.Seed = seed })
	set("mayfly-iters", func() { c.Mayfly.Iterations = mayflyIters })
	set("pop", func() { c.Mayfly.PopSize = popSize })
	set("bound", func() { c.Mayfly.Bound = bound })
}

// executeRun fits the configured problem and writes a summary to out. When
// persist is set the run record and walk trace are saved under c.DataDir.
func executeRun(c *config.Config, persist bool, out io.Writer) (*store.RunRecord, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loss, err := leaves.LossByName(c.Loss)
	if err != nil {
		return nil, err
	}
	problem, truth, err := leaves.Synthetic(c.Data.Synthetic())
	if err != nil {
		return nil, fmt.Errorf("failed to generate problem: %w", err)
	}

	runID := store.NewRunID()
	slog.Info("Starting run", "run_id", runID, "optimizer", c.Optimizer, "loss", loss.Name(),
		"samples", c.Data.Samples, "leaves", c.Data.Leaves, "dimensions", c.Data.Dimensions)

	var trace *store.TraceWriter
	var traceErr error
	if persist && c.Optimizer == "walker" {
		trace, err = store.NewTraceWriter(c.DataDir, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace: %w", err)
		}
		defer func() {
			if trace != nil {
				trace.Close()
			}
		}()
	}

	start := time.Now()
	var result *leaves.Result

	switch c.Optimizer {
	case "walker":
		params, err := c.Estimation.Params()
		if err != nil {
			return nil, err
		}
		if trace != nil {
			params.OnEvent = func(leaf int, ev walker.Event) {
				if err := trace.Write(store.EntryFromEvent(leaf, ev)); err != nil && traceErr == nil {
					traceErr = err
				}
			}
		}
		result, err = leaves.Fit(problem, loss, params)
		if err != nil {
			return nil, fmt.Errorf("leaf estimation failed: %w", err)
		}
	case "mayfly":
		optimizer := opt.NewMayfly(c.Mayfly.Iterations, c.Mayfly.PopSize, c.Data.Seed)
		result, err = leaves.FitGlobal(problem, loss, optimizer, leaves.GlobalParams{
			Bound:   c.Mayfly.Bound,
			Workers: c.Estimation.Workers,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown optimizer: %s", c.Optimizer)
	}

	elapsed := time.Since(start)
	maxErr := maxAbsDiff(result.LeafValues, truth)

	slog.Info("Run complete",
		"run_id", runID,
		"elapsed", elapsed,
		"initial_loss", result.InitialLoss,
		"final_loss", result.FinalLoss,
		"accepted", result.Walk.Accepted,
		"rejected", result.Walk.Rejected,
		"loss_evaluations", result.Walk.LossEvaluations,
		"max_leaf_error", maxErr,
	)

	record := store.NewRunRecord(runID, result.LeafValues, result.StepSum, result.InitialLoss, result.FinalLoss, runConfig(c))
	record.Accepted = result.Walk.Accepted
	record.Rejected = result.Walk.Rejected
	record.LossEvaluations = result.Walk.LossEvaluations
	record.Exhausted = result.Walk.Exhausted

	fmt.Fprintf(out, "Fitted %d leaves x %d dims with %s (loss: %.6f -> %.6f, accepted %d, rejected %d, max leaf error %.4f)\n",
		c.Data.Leaves, c.Data.Dimensions, c.Optimizer,
		result.InitialLoss, result.FinalLoss,
		result.Walk.Accepted, result.Walk.Rejected, maxErr,
	)

	if !persist {
		return record, nil
	}

	if trace != nil {
		tracePath := trace.Path()
		if err := trace.Close(); err != nil && traceErr == nil {
			traceErr = err
		}
		trace = nil
		if traceErr != nil {
			return nil, fmt.Errorf("failed to write trace: %w", traceErr)
		}
		fmt.Fprintf(out, "Wrote trace %s\n", tracePath)
	}

	runStore, err := store.NewFSStore(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	if err := runStore.SaveRun(runID, record); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	fmt.Fprintf(out, "Saved run %s to %s\n", runID, runStore.RunDir(runID))
	return record, nil
}

func runConfig(c *config.Config) store.RunConfig {
	rc := store.RunConfig{
		Optimizer:  c.Optimizer,
		Loss:       c.Loss,
		Samples:    c.Data.Samples,
		Leaves:     c.Data.Leaves,
		Dimensions: c.Data.Dimensions,
		Noise:      c.Data.Noise,
		Binary:     c.Data.Binary,
		Seed:       c.Data.Seed,
	}
	if c.Optimizer == "walker" {
		rc.Method = c.Estimation.Method
		rc.Backtracking = c.Estimation.Backtracking
		rc.Leafwise = c.Estimation.Leafwise
		rc.Iterations = c.Estimation.Iterations
		rc.LearningRate = c.Estimation.LearningRate
		rc.L2 = c.Estimation.L2
	} else {
		rc.Iterations = c.Mayfly.Iterations
	}
	return rc
}

func maxAbsDiff(a, b [][]float64) float64 {
	var m float64
	for d := range a {
		for i := range a[d] {
			m = math.Max(m, math.Abs(a[d][i]-b[d][i]))
		}
	}
	return m
}
