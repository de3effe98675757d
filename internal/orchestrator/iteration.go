package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/logging"
	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

// IterationController runs the bounded test/fix loop for one project.
// Each pass runs the test step, and on anything short of all-passed
// applies a fix and restarts the process so the fix takes effect. The
// iteration cap is a hard ceiling regardless of step latency.
type IterationController struct {
	test    PhaseStep
	fix     PhaseStep
	sup     supervisor.Service
	store   *ProjectStore
	logger  *logging.Logger
	max     int
	backoff time.Duration
}

func NewIterationController(
	test, fix PhaseStep,
	sup supervisor.Service,
	store *ProjectStore,
	logger *logging.Logger,
	maxIterations int,
	backoff time.Duration,
) *IterationController {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &IterationController{
		test:    test,
		fix:     fix,
		sup:     sup,
		store:   store,
		logger:  logger,
		max:     maxIterations,
		backoff: backoff,
	}
}

// Run executes the loop for the named project until tests pass or the
// cap is reached. Failures inside a pass are recorded and fed into the
// next one; only context cancellation aborts the loop with an error.
func (c *IterationController) Run(ctx context.Context, name string) (*IterationResult, error) {
	for i := 1; i <= c.max; i++ {
		ictx := logging.WithIteration(ctx, i)
		c.logger.Info(ictx, "iteration starting",
			zap.Int("max_iterations", c.max))

		rec, err := c.store.Snapshot(name)
		if err != nil {
			return nil, err
		}
		if err := c.store.Update(name, func(r *ProjectRecord) {
			r.Iteration = i
		}); err != nil {
			return nil, err
		}

		report := c.runTestPass(ictx, rec)
		c.recordPass(ictx, name, strconv.Itoa(i), report)

		if report.Outcome == OutcomeAllPassed {
			c.logger.Info(ictx, "all tests passed")
			return &IterationResult{Iterations: i, Final: IterationAllPassed}, nil
		}

		c.applyFix(ictx, rec, report)

		if i == c.max {
			break
		}
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Warn(ctx, "iteration cap reached without a passing run",
		zap.Int("max_iterations", c.max))
	return &IterationResult{Iterations: c.max, Final: IterationMaxedOut}, nil
}

// RunOnce performs a single out-of-band test pass and records it under
// the given history label. Used for additional test runs after a cycle
// has finished.
func (c *IterationController) RunOnce(ctx context.Context, name, label string) (*TestReport, error) {
	rec, err := c.store.Snapshot(name)
	if err != nil {
		return nil, err
	}
	report := c.runTestPass(ctx, rec)
	c.recordPass(ctx, name, label, report)
	return report, nil
}

// runTestPass invokes the test step, folding a step error into a failed
// outcome whose feedback preserves the cause for the fix step.
func (c *IterationController) runTestPass(ctx context.Context, rec ProjectRecord) *TestReport {
	res, err := c.test.Run(ctx, &StepRequest{Record: rec})
	if err != nil {
		c.logger.Warn(ctx, "test step error", zap.Error(err))
		return &TestReport{
			Outcome:  OutcomeFailed,
			Feedback: []string{fmt.Sprintf("test step error: %v", err)},
		}
	}
	return res.Report
}

// applyFix concatenates feedback into one diagnostic blob, invokes the
// fix step and restarts the process. Both are best effort: a failure
// here is logged and the loop moves on.
func (c *IterationController) applyFix(ctx context.Context, rec ProjectRecord, report *TestReport) {
	feedback := strings.Join(report.Feedback, "\n")

	if _, err := c.fix.Run(ctx, &StepRequest{Record: rec, Feedback: feedback}); err != nil {
		c.logger.Warn(ctx, "fix step failed", zap.Error(err))
		return
	}

	// Restart so the rewritten file is actually served. The supervisor's
	// startup grace guarantees the process is up before the next pass.
	if _, err := c.sup.Restart(ctx, rec.Name); err != nil {
		c.logger.Warn(ctx, "restart after fix failed", zap.Error(err))
	}
}

func (c *IterationController) recordPass(ctx context.Context, name, label string, report *TestReport) {
	if err := c.store.Update(name, func(r *ProjectRecord) {
		appendHistory(r, label, report)
	}); err != nil {
		c.logger.Warn(ctx, "recording iteration failed", zap.Error(err))
	}
}
