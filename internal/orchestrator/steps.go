package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

// Phase names, in program order.
const (
	PhasePlan   = "plan"
	PhaseBuild  = "build"
	PhaseDeploy = "deploy"
	PhaseTest   = "test"
	PhaseFix    = "fix"
)

// StepRequest is the input every phase step receives. Record is a copy
// of the project record at invocation time; Feedback carries the
// accumulated diagnostic blob for the fix step.
type StepRequest struct {
	Record   ProjectRecord
	Feedback string
}

// StepResult is the union of every step's output. Steps fill in only
// the fields they produce.
type StepResult struct {
	Detail       string
	PlanID       string
	FilesCreated []string
	URL          string
	PID          int
	Report       *TestReport
}

// PhaseStep is the uniform contract over each externally-invoked phase.
// A returned error is a phase failure; the orchestrator decides whether
// it is terminal.
type PhaseStep interface {
	Name() string
	Run(ctx context.Context, req *StepRequest) (*StepResult, error)
}

type planStep struct {
	planner Planner
}

func NewPlanStep(p Planner) PhaseStep { return &planStep{planner: p} }

func (s *planStep) Name() string { return PhasePlan }

func (s *planStep) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	plan, err := s.planner.CreatePlan(ctx, req.Record.Command, req.Record.Name)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		PlanID: plan.ID,
		Detail: fmt.Sprintf("plan %s created", plan.ID),
	}, nil
}

type buildStep struct {
	builder Builder
}

func NewBuildStep(b Builder) PhaseStep { return &buildStep{builder: b} }

func (s *buildStep) Name() string { return PhaseBuild }

func (s *buildStep) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	res, err := s.builder.Materialize(ctx, req.Record.PlanID, req.Record.Name)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		FilesCreated: res.FilesCreated,
		Detail:       fmt.Sprintf("%d files created", len(res.FilesCreated)),
	}, nil
}

type deployStep struct {
	sup supervisor.Service
}

func NewDeployStep(sup supervisor.Service) PhaseStep { return &deployStep{sup: sup} }

func (s *deployStep) Name() string { return PhaseDeploy }

func (s *deployStep) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	res, err := s.sup.Deploy(ctx, req.Record.Name)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		URL:    res.URL,
		PID:    res.PID,
		Detail: res.Message,
	}, nil
}

type testStep struct {
	tester Tester
}

func NewTestStep(t Tester) PhaseStep { return &testStep{tester: t} }

func (s *testStep) Name() string { return PhaseTest }

func (s *testStep) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	report, err := s.tester.RunTests(ctx, req.Record.Name)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		Report: report,
		Detail: string(report.Outcome),
	}, nil
}

type fixStep struct {
	fixer     Fixer
	entryFile string
}

func NewFixStep(f Fixer, entryFile string) PhaseStep {
	return &fixStep{fixer: f, entryFile: entryFile}
}

func (s *fixStep) Name() string { return PhaseFix }

func (s *fixStep) Run(ctx context.Context, req *StepRequest) (*StepResult, error) {
	if err := s.fixer.ApplyFix(ctx, req.Record.Name, s.entryFile, req.Feedback); err != nil {
		return nil, err
	}
	return &StepResult{Detail: fmt.Sprintf("fix applied to %s", s.entryFile)}, nil
}
