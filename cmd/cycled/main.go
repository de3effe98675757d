// Cycled drives an automated build, deploy, test and fix lifecycle for
// generated projects. It plans and materializes a project through an
// external generation service, supervises the project's runtime
// process, and iterates a bounded test/fix loop until the suite passes
// or the iteration cap is reached.
//
// Usage:
//
//	# Run a full development cycle
//	cycled run "build a todo app"
//
//	# Run with an explicit project name and config file
//	cycled run --name todo --config ./config.yaml "build a todo app"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cycled/internal/collab"
	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/logging"
	"github.com/fyrsmithlabs/cycled/internal/orchestrator"
	"github.com/fyrsmithlabs/cycled/internal/runner"
	"github.com/fyrsmithlabs/cycled/internal/supervisor"
	"github.com/fyrsmithlabs/cycled/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath  string
	projectName string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cycled",
	Short:   "Development-cycle orchestrator with process supervision",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Run a full development cycle for one project",
	Long: `Run plans, builds and deploys a project from a natural-language
command, then iterates a bounded test/fix loop until all tests pass or
the iteration cap is reached.

Examples:
  # Run a cycle with an auto-generated project name
  cycled run "build a todo app"

  # Name the project explicitly
  cycled run --name todo "build a todo app"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCycle(cmd.Context(), args[0], projectName)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cycled by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	runCmd.Flags().StringVar(&projectName, "name", "", "project name (auto-generated if empty)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// runCycle wires the full service graph, runs one development cycle and
// tears everything down.
func runCycle(ctx context.Context, command, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = tel.Shutdown(sctx)
	}()

	logger, err := newLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting cycled",
		zap.String("version", version),
		zap.Int("max_iterations", cfg.Cycle.MaxIterations),
		zap.String("projects_dir", cfg.Supervisor.ProjectsDir))

	sup, err := supervisor.NewService(supervisor.FromConfig(cfg.Supervisor), logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing supervisor: %w", err)
	}

	gen, err := collab.NewClient(collab.FromConfig(cfg.Generation), logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing generation client: %w", err)
	}

	tester, err := runner.NewClient(runner.FromConfig(cfg), logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing test runner client: %w", err)
	}

	orch, err := orchestrator.NewService(
		&orchestrator.Config{
			MaxIterations:    cfg.Cycle.MaxIterations,
			IterationBackoff: cfg.Cycle.IterationBackoff.Duration(),
			EntryFile:        cfg.Cycle.EntryFile,
		},
		sup, gen, gen, tester, gen, logger,
	)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	// Teardown runs even when the cycle was interrupted; the supervisor
	// must never leave child processes behind.
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()
		if err := orch.CleanupAll(cctx); err != nil {
			logger.Warn(cctx, "cleanup failed", zap.Error(err))
		}
	}()

	result, err := orch.StartCycle(ctx, command, name)
	if err != nil {
		return err
	}

	printResult(orch, result)
	return nil
}

func printResult(orch orchestrator.Service, result *orchestrator.CycleResult) {
	fmt.Printf("\nProject:      %s\n", result.Name)
	fmt.Printf("Plan:         %s\n", result.PlanID)
	fmt.Printf("URL:          %s\n", result.URL)
	fmt.Printf("Iterations:   %d\n", result.Iterations)
	fmt.Printf("Final status: %s\n", result.FinalStatus)
	fmt.Printf("Elapsed:      %s\n", result.Elapsed.Round(time.Millisecond))

	snap, err := orch.GetStatus(context.Background(), result.Name)
	if err != nil {
		return
	}
	fmt.Printf("\nIteration history:\n")
	for _, rec := range snap.History {
		fmt.Printf("  [%s] %s\n", rec.Iteration, rec.Outcome)
		for _, fb := range rec.Feedback {
			fmt.Printf("        %s\n", strings.TrimSpace(fb))
		}
	}
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	lcfg := logging.NewDefaultConfig()
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.OTEL = cfg.Logging.OTEL && cfg.Observability.Enabled

	return logging.NewLogger(lcfg, tel.LoggerProvider())
}
