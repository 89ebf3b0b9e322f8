package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/internal/config"
	"github.com/arnavshah/bunk-planner-go/internal/logging"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/export"
	"github.com/arnavshah/bunk-planner-go/pkg/metrics"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
	"github.com/arnavshah/bunk-planner-go/pkg/solver"
	"github.com/arnavshah/bunk-planner-go/pkg/source"
)

// exitInfeasible is the exit status when no assignment exists
const exitInfeasible = 2

type options struct {
	file            string
	warm            string
	format          string
	timeLimit       time.Duration
	maxIterations   int
	allowUnassigned bool
	logLevel        string
}

func main() {
	code, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string, stdout io.Writer) (int, error) {
	config.LoadDotEnv()
	cfg, err := config.Parse()
	if err != nil {
		return 0, err
	}

	var opts options
	flagSet := pflag.NewFlagSet("solve", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.file, "file", "f", "", "snapshot export (.json, .yaml or .yml)")
	flagSet.StringVar(&opts.warm, "warm", "", "assignment JSON to warm start from; locked placements become pins")
	flagSet.StringVarP(&opts.format, "format", "o", "json", "output format: json or csv")
	flagSet.DurationVar(&opts.timeLimit, "time-limit", cfg.SolveTimeLimit, "wall time budget")
	flagSet.IntVar(&opts.maxIterations, "max-iterations", cfg.SolveMaxIterations, "iteration budget")
	flagSet.BoolVar(&opts.allowUnassigned, "allow-unassigned", cfg.AllowUnassigned, "leave campers unassigned instead of failing when bunks are short")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return 0, nil
		}
		return 0, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return 0, nil
	}
	if opts.file == "" {
		if flagSet.NArg() == 0 {
			return 0, fmt.Errorf("a snapshot file is required")
		}
		opts.file = flagSet.Arg(0)
	}
	if opts.format != "json" && opts.format != "csv" {
		return 0, fmt.Errorf("unknown format %q", opts.format)
	}

	logger, err := logging.New(opts.logLevel, "console", "bunk-solve")
	if err != nil {
		return 0, err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return solve(ctx, cfg, opts, logger, stdout)
}

type output struct {
	Result  solver.Result    `json:"result"`
	Metrics *metrics.Metrics `json:"metrics,omitempty"`
}

func solve(ctx context.Context, cfg config.Config, opts options, logger *zap.Logger, stdout io.Writer) (int, error) {
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := source.Decode(data, filepath.Ext(opts.file))
	if err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	var warm *models.Assignment
	if opts.warm != "" {
		raw, err := os.ReadFile(opts.warm)
		if err != nil {
			return 0, fmt.Errorf("read warm start: %w", err)
		}
		warm = &models.Assignment{}
		if err := json.Unmarshal(raw, warm); err != nil {
			return 0, fmt.Errorf("decode warm start: %w", err)
		}
	}

	buildOpts := cfg.BuildOptions()
	buildOpts.AllowUnassigned = opts.allowUnassigned
	m, err := constraints.Build(snap, constraints.Input{Pins: warm.Pins()}, buildOpts)
	var res solver.Result
	if err != nil {
		infeasible, ok := solver.Infeasible(err)
		if !ok {
			return 0, err
		}
		res = infeasible
	} else {
		solverOpts := cfg.SolverOptions()
		solverOpts.Logger = logger
		res, err = solver.New(solverOpts).Solve(ctx, m, warm, solver.Budget{
			TimeLimit:     opts.timeLimit,
			MaxIterations: opts.maxIterations,
		})
		if err != nil {
			return 0, err
		}
	}

	if res.Status == solver.StatusInfeasible {
		logger.Warn("no assignment exists", zap.String("reason", res.Reason))
		if err := writeJSON(stdout, output{Result: res}); err != nil {
			return 0, err
		}
		return exitInfeasible, nil
	}

	if opts.format == "csv" {
		return 0, export.WriteCSV(stdout, snap, res.Assignment)
	}
	met := metrics.NewEngine(cfg.MinConfidence).Score(snap, res.Assignment, nil)
	return 0, writeJSON(stdout, output{Result: res, Metrics: &met})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `solve: assign campers of one session export to bunks.

Prints the solver result and metrics as JSON, or the placements as CSV.
Weights and defaults come from the same environment as the server.
Exits 2 when no assignment satisfies the hard constraints.

Usage:
  solve [flags] <snapshot>

Flags:
%s`, flagSet.FlagUsages())
}
