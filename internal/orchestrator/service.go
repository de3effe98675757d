package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/logging"
	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

const instrumentationName = "github.com/fyrsmithlabs/cycled/internal/orchestrator"

// Service drives the full development cycle state machine for named
// projects and answers queries about them.
type Service interface {
	// StartCycle runs plan, build, deploy and the test/fix loop for a
	// new project. An empty name gets a timestamp-based one.
	StartCycle(ctx context.Context, command, name string) (*CycleResult, error)

	// GetStatus merges the live process state into the stored record.
	GetStatus(ctx context.Context, name string) (*ProjectSnapshot, error)

	// ListProjects returns snapshots of every tracked project.
	ListProjects(ctx context.Context) []ProjectSnapshot

	// Stop terminates the project's process and marks it stopped.
	// Stopping an already-stopped project succeeds with no side effect.
	Stop(ctx context.Context, name string) error

	// Restart bounces the project's process; on success the record goes
	// back to deployed.
	Restart(ctx context.Context, name string) (*supervisor.StartResult, error)

	// RunAdditionalTests runs one out-of-band test pass and appends it
	// to the project's history.
	RunAdditionalTests(ctx context.Context, name string) (*TestReport, error)

	// CleanupAll stops every tracked process and clears all records.
	CleanupAll(ctx context.Context) error

	// Status summarizes every tracked project and its process.
	Status(ctx context.Context) *SystemStatus
}

// Config holds the orchestrator's loop parameters.
type Config struct {
	MaxIterations    int
	IterationBackoff time.Duration
	EntryFile        string
}

func DefaultConfig() *Config {
	return &Config{
		MaxIterations:    5,
		IterationBackoff: 2 * time.Second,
		EntryFile:        "main.py",
	}
}

func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.EntryFile == "" {
		return errors.New("entry file is required")
	}
	return nil
}

type service struct {
	cfg    *Config
	store  *ProjectStore
	sup    supervisor.Service
	plan   PhaseStep
	build  PhaseStep
	loop   *IterationController
	logger *logging.Logger

	tracer          trace.Tracer
	cyclesStarted   metric.Int64Counter
	cyclesCompleted metric.Int64Counter
	cyclesFailed    metric.Int64Counter
	iterationsRun   metric.Int64Counter
}

// NewService wires the orchestrator from its collaborators. The
// supervisor is required; telemetry instruments come from the global
// otel providers.
func NewService(
	cfg *Config,
	sup supervisor.Service,
	planner Planner,
	builder Builder,
	tester Tester,
	fixer Fixer,
	logger *logging.Logger,
) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if sup == nil {
		return nil, errors.New("supervisor is required")
	}
	if planner == nil || builder == nil || tester == nil || fixer == nil {
		return nil, errors.New("planner, builder, tester and fixer are all required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store := NewProjectStore()
	s := &service{
		cfg:    cfg,
		store:  store,
		sup:    sup,
		plan:   NewPlanStep(planner),
		build:  NewBuildStep(builder),
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
	s.loop = NewIterationController(
		NewTestStep(tester),
		NewFixStep(fixer, cfg.EntryFile),
		sup, store, logger,
		cfg.MaxIterations, cfg.IterationBackoff,
	)

	meter := otel.Meter(instrumentationName)
	var err error
	if s.cyclesStarted, err = meter.Int64Counter("cycled.cycles.started",
		metric.WithDescription("Development cycles started")); err != nil {
		return nil, err
	}
	if s.cyclesCompleted, err = meter.Int64Counter("cycled.cycles.completed",
		metric.WithDescription("Development cycles that ran to completion")); err != nil {
		return nil, err
	}
	if s.cyclesFailed, err = meter.Int64Counter("cycled.cycles.failed",
		metric.WithDescription("Development cycles that failed in a phase")); err != nil {
		return nil, err
	}
	if s.iterationsRun, err = meter.Int64Counter("cycled.iterations.run",
		metric.WithDescription("Test/fix loop passes executed")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) StartCycle(ctx context.Context, command, name string) (*CycleResult, error) {
	if name == "" {
		name = fmt.Sprintf("project_%s", time.Now().Format("20060102_150405"))
	}

	runID := uuid.NewString()
	ctx = logging.WithProject(ctx, name)
	ctx, span := s.tracer.Start(ctx, "orchestrator.start_cycle",
		trace.WithAttributes(
			attribute.String("project.name", name),
			attribute.String("cycle.run_id", runID)))
	defer span.End()

	s.cyclesStarted.Add(ctx, 1)

	started := time.Now()
	s.store.Put(&ProjectRecord{
		Name:      name,
		RunID:     runID,
		Command:   command,
		Status:    StatusStarting,
		Phase:     PhasePlan,
		StartedAt: started,
	})

	s.logger.Info(ctx, "development cycle starting",
		zap.String("command", command), zap.String("run_id", runID))

	// Phase 1: plan.
	planRes, err := s.runPhase(ctx, name, s.plan, StatusPlanningComplete)
	if err != nil {
		return nil, s.failCycle(ctx, span, name, PhasePlan, "Planning failed", err)
	}
	s.store.Update(name, func(r *ProjectRecord) { r.PlanID = planRes.PlanID })

	// Phase 2: build.
	if _, err = s.runPhase(ctx, name, s.build, StatusDevelopmentComplete); err != nil {
		return nil, s.failCycle(ctx, span, name, PhaseBuild, "Development failed", err)
	}

	// Phase 3: deploy.
	deployRes, err := s.runPhase(ctx, name, NewDeployStep(s.sup), StatusDeployed)
	if err != nil {
		return nil, s.failCycle(ctx, span, name, PhaseDeploy, "Deployment failed", err)
	}
	s.store.Update(name, func(r *ProjectRecord) { r.URL = deployRes.URL })

	// Phase 4: test/fix loop. Exhausting the cap is still a completed
	// cycle, not an error.
	s.store.Update(name, func(r *ProjectRecord) { r.Phase = PhaseTest })
	loopRes, err := s.loop.Run(ctx, name)
	if err != nil {
		return nil, s.failCycle(ctx, span, name, PhaseTest, "Testing aborted", err)
	}
	s.iterationsRun.Add(ctx, int64(loopRes.Iterations))

	ended := time.Now()
	s.store.Update(name, func(r *ProjectRecord) {
		r.Status = StatusCompleted
		r.EndedAt = &ended
	})
	s.cyclesCompleted.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int("cycle.iterations", loopRes.Iterations),
		attribute.String("cycle.final_status", string(loopRes.Final)),
	)

	result := &CycleResult{
		Name:        name,
		URL:         deployRes.URL,
		PlanID:      planRes.PlanID,
		Iterations:  loopRes.Iterations,
		FinalStatus: string(loopRes.Final),
		Elapsed:     ended.Sub(started),
		Message:     fmt.Sprintf("cycle finished after %d iteration(s)", loopRes.Iterations),
	}
	s.logger.Info(ctx, "development cycle finished",
		zap.Int("iterations", result.Iterations),
		zap.String("final_status", result.FinalStatus),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// runPhase executes one plan/build/deploy step and advances the record
// to the given status on success.
func (s *service) runPhase(ctx context.Context, name string, step PhaseStep, next ProjectStatus) (*StepResult, error) {
	pctx := logging.WithPhase(ctx, step.Name())
	pctx, span := s.tracer.Start(pctx, "orchestrator.phase."+step.Name())
	defer span.End()

	s.store.Update(name, func(r *ProjectRecord) { r.Phase = step.Name() })
	s.logger.Info(pctx, "phase starting")

	rec, err := s.store.Snapshot(name)
	if err != nil {
		return nil, err
	}

	res, err := step.Run(pctx, &StepRequest{Record: rec})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.store.Update(name, func(r *ProjectRecord) { r.Status = next })
	s.logger.Info(pctx, "phase complete", zap.String("detail", res.Detail))
	return res, nil
}

// failCycle stamps the record with a definite error state before the
// call returns, then wraps the cause for the caller.
func (s *service) failCycle(ctx context.Context, span trace.Span, name, phase, message string, err error) error {
	ended := time.Now()
	s.store.Update(name, func(r *ProjectRecord) {
		r.Status = StatusError
		r.EndedAt = &ended
		r.LastError = err.Error()
	})
	s.cyclesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
	span.RecordError(err)
	span.SetStatus(codes.Error, message)

	s.logger.Error(ctx, "development cycle failed",
		zap.String("phase", phase), zap.Error(err))
	return &CycleError{Name: name, Phase: phase, Message: message, Err: err}
}

func (s *service) GetStatus(ctx context.Context, name string) (*ProjectSnapshot, error) {
	rec, err := s.store.Snapshot(name)
	if err != nil {
		return nil, err
	}
	return &ProjectSnapshot{
		ProjectRecord: rec,
		Process:       s.sup.Status(name),
	}, nil
}

func (s *service) ListProjects(ctx context.Context) []ProjectSnapshot {
	records := s.store.List()
	out := make([]ProjectSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, ProjectSnapshot{
			ProjectRecord: rec,
			Process:       s.sup.Status(rec.Name),
		})
	}
	return out
}

func (s *service) Stop(ctx context.Context, name string) error {
	if _, err := s.store.Snapshot(name); err != nil {
		return err
	}

	ctx = logging.WithProject(ctx, name)
	if err := s.sup.Stop(ctx, name); err != nil {
		return fmt.Errorf("stopping %s: %w", name, err)
	}

	s.store.Update(name, func(r *ProjectRecord) {
		if r.Status == StatusStopped {
			return
		}
		r.Status = StatusStopped
		ended := time.Now()
		r.EndedAt = &ended
	})
	s.logger.Info(ctx, "project stopped")
	return nil
}

func (s *service) Restart(ctx context.Context, name string) (*supervisor.StartResult, error) {
	if _, err := s.store.Snapshot(name); err != nil {
		return nil, err
	}

	ctx = logging.WithProject(ctx, name)
	res, err := s.sup.Restart(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("restarting %s: %w", name, err)
	}

	s.store.Update(name, func(r *ProjectRecord) {
		r.Status = StatusDeployed
		r.EndedAt = nil
	})
	s.logger.Info(ctx, "project restarted", zap.Int("pid", res.PID))
	return res, nil
}

func (s *service) RunAdditionalTests(ctx context.Context, name string) (*TestReport, error) {
	if _, err := s.store.Snapshot(name); err != nil {
		return nil, err
	}

	ctx = logging.WithProject(ctx, name)
	s.logger.Info(ctx, "running additional tests")
	return s.loop.RunOnce(ctx, name, "additional")
}

func (s *service) CleanupAll(ctx context.Context) error {
	s.logger.Info(ctx, "cleaning up all projects")
	err := s.sup.CleanupAll(ctx)
	s.store.Clear()
	return err
}

func (s *service) Status(ctx context.Context) *SystemStatus {
	snapshots := s.ListProjects(ctx)
	status := &SystemStatus{Projects: snapshots}
	for _, snap := range snapshots {
		switch {
		case snap.Process != nil && snap.Process.State == supervisor.StateRunning:
			status.Running++
		case snap.Status == StatusCompleted:
			status.Completed++
		case snap.Status == StatusError:
			status.Failed++
		}
	}
	return status
}
