// Package orchestrator drives the development cycle for a project: plan,
// build, deploy, then a bounded test/fix loop. It owns the per-project
// state machine and delegates the actual work to collaborator services
// and the process supervisor.
package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

// ProjectStatus is the lifecycle state of a managed project.
type ProjectStatus string

const (
	StatusStarting            ProjectStatus = "starting"
	StatusPlanningComplete    ProjectStatus = "planning_complete"
	StatusDevelopmentComplete ProjectStatus = "development_complete"
	StatusDeployed            ProjectStatus = "deployed"
	StatusCompleted           ProjectStatus = "completed"
	StatusError               ProjectStatus = "error"
	StatusStopped             ProjectStatus = "stopped"
)

// TestOutcome classifies a full test pass.
type TestOutcome string

const (
	OutcomeAllPassed   TestOutcome = "all_passed"
	OutcomePartialPass TestOutcome = "partial_pass"
	OutcomeFailed      TestOutcome = "failed"
)

// TestReport is the result of one test pass against a deployed project.
type TestReport struct {
	Outcome  TestOutcome `json:"outcome"`
	Feedback []string    `json:"feedback,omitempty"`
}

// IterationRecord captures one completed pass of the test/fix loop.
// Iteration is "1".."N" for loop passes and "additional" for on-demand
// test runs after the cycle finished.
type IterationRecord struct {
	Iteration string      `json:"iteration"`
	Outcome   TestOutcome `json:"outcome"`
	Feedback  []string    `json:"feedback,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProjectRecord is the orchestrator's view of one project. It is owned
// by the store; callers receive copies.
type ProjectRecord struct {
	Name      string            `json:"name"`
	RunID     string            `json:"run_id"`
	Command   string            `json:"command"`
	Status    ProjectStatus     `json:"status"`
	Phase     string            `json:"phase"`
	Iteration int               `json:"iteration"`
	PlanID    string            `json:"plan_id,omitempty"`
	URL       string            `json:"url,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	History   []IterationRecord `json:"history,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// ProjectSnapshot pairs a project record with the live state of its
// process, if any.
type ProjectSnapshot struct {
	ProjectRecord
	Process *supervisor.Status `json:"process,omitempty"`
}

// CycleResult summarizes a completed StartCycle call.
type CycleResult struct {
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	PlanID      string        `json:"plan_id"`
	Iterations  int           `json:"iterations"`
	FinalStatus string        `json:"final_status"`
	Elapsed     time.Duration `json:"elapsed"`
	Message     string        `json:"message"`
}

// IterationStatus is the terminal state of the test/fix loop.
type IterationStatus string

const (
	IterationAllPassed IterationStatus = "all_passed"
	IterationMaxedOut  IterationStatus = "max_iterations_reached"
)

// IterationResult reports how the test/fix loop ended.
type IterationResult struct {
	Iterations int             `json:"iterations"`
	Final      IterationStatus `json:"final"`
}

// SystemStatus is a point-in-time summary over every tracked project.
type SystemStatus struct {
	Projects  []ProjectSnapshot `json:"projects"`
	Running   int               `json:"running"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
}

// Plan identifies a generated development plan.
type Plan struct {
	ID string `json:"id"`
}

// BuildResult reports what materializing a plan produced.
type BuildResult struct {
	FilesCreated []string `json:"files_created"`
}

// Planner turns a natural-language command into a development plan.
type Planner interface {
	CreatePlan(ctx context.Context, command, name string) (*Plan, error)
}

// Builder materializes a plan into project files on disk.
type Builder interface {
	Materialize(ctx context.Context, planID, name string) (*BuildResult, error)
}

// Tester runs a full test pass against a deployed project. A transport
// or environment failure is returned as an error; a completed pass with
// failing tests is a report, not an error.
type Tester interface {
	RunTests(ctx context.Context, name string) (*TestReport, error)
}

// Fixer applies accumulated test feedback to a project file.
type Fixer interface {
	ApplyFix(ctx context.Context, name, file, feedback string) error
}
