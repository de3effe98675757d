// Package supervisor owns the runtime process lifecycle for deployed
// projects: start with a bounded startup grace, graceful stop with kill
// escalation, restart, liveness status and HTTP health probing.
//
// One child process is tracked per project name. Liveness is observed
// lazily: a process that died is detected on the next status query or
// lifecycle operation, and its bookkeeping entry is removed then.
package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

// ProcessState describes the tracked state of a project's process.
type ProcessState string

const (
	StateNotRunning ProcessState = "not_running"
	StateRunning    ProcessState = "running"
	StateStopped    ProcessState = "stopped"
)

// Status is a point-in-time view of a project's process.
type Status struct {
	Name      string        `json:"name"`
	State     ProcessState  `json:"state"`
	PID       int           `json:"pid,omitempty"`
	URL       string        `json:"url,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// HealthState classifies a health probe outcome.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthError     HealthState = "error"
)

// HealthReport is the result of a health probe. Probe failures are
// reported here as states, never as errors to the caller.
type HealthReport struct {
	State        HealthState   `json:"state"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// StartResult reports a successful process start.
type StartResult struct {
	PID     int    `json:"pid"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// ErrProjectDirMissing marks a deploy against a project directory that
// does not exist.
var ErrProjectDirMissing = errors.New("project directory not found")

// StartError reports a child process that exited before the startup
// grace period elapsed, with its captured output.
type StartError struct {
	Name   string
	Output string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("project %s exited during startup: %s", e.Name, e.Output)
}

// InstallError reports a failed or timed-out dependency installation.
type InstallError struct {
	Dir      string
	TimedOut bool
	Output   string
}

func (e *InstallError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("dependency installation in %s timed out", e.Dir)
	}
	return fmt.Sprintf("dependency installation in %s failed: %s", e.Dir, e.Output)
}

// Config configures the supervisor.
type Config struct {
	// ProjectsDir holds one working directory per project name.
	ProjectsDir string

	// AppCommand launches the project runtime inside its directory.
	AppCommand []string

	// AppURL is the base URL the runtime exposes once started.
	AppURL string

	// HealthPath is the liveness endpoint on AppURL.
	HealthPath string

	// InstallCommand installs project dependencies before start; empty
	// disables installation.
	InstallCommand []string

	// InstallMarker is the file whose presence in the project directory
	// triggers InstallCommand; empty always runs it.
	InstallMarker string

	// StartupGrace is how long a started process must survive before it
	// is considered up.
	StartupGrace time.Duration

	// StopGrace bounds the wait for graceful termination before the
	// process is killed.
	StopGrace time.Duration

	// InstallTimeout bounds the dependency installation step.
	InstallTimeout time.Duration

	// HealthTimeout bounds a single health probe.
	HealthTimeout time.Duration
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() *Config {
	return &Config{
		ProjectsDir:    "custom_projects",
		AppCommand:     []string{"python", "main.py"},
		AppURL:         "http://localhost:8001",
		HealthPath:     "/api/health",
		InstallCommand: []string{"pip", "install", "-r", "requirements.txt"},
		InstallMarker:  "requirements.txt",
		StartupGrace:   3 * time.Second,
		StopGrace:      5 * time.Second,
		InstallTimeout: 120 * time.Second,
		HealthTimeout:  5 * time.Second,
	}
}

// FromConfig maps the supervisor section of the application config.
func FromConfig(sc config.SupervisorConfig) *Config {
	cfg := DefaultConfig()
	if sc.ProjectsDir != "" {
		cfg.ProjectsDir = sc.ProjectsDir
	}
	if len(sc.AppCommand) > 0 {
		cfg.AppCommand = sc.AppCommand
	}
	if sc.AppURL != "" {
		cfg.AppURL = sc.AppURL
	}
	if sc.HealthPath != "" {
		cfg.HealthPath = sc.HealthPath
	}
	cfg.InstallCommand = sc.InstallCommand
	cfg.InstallMarker = sc.InstallMarker
	if d := sc.StartupGrace.Duration(); d > 0 {
		cfg.StartupGrace = d
	}
	if d := sc.StopGrace.Duration(); d > 0 {
		cfg.StopGrace = d
	}
	if d := sc.InstallTimeout.Duration(); d > 0 {
		cfg.InstallTimeout = d
	}
	if d := sc.HealthTimeout.Duration(); d > 0 {
		cfg.HealthTimeout = d
	}
	return cfg
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.ProjectsDir == "" {
		return errors.New("projects dir is required")
	}
	if len(c.AppCommand) == 0 {
		return errors.New("app command is required")
	}
	if c.StartupGrace <= 0 || c.StopGrace <= 0 || c.InstallTimeout <= 0 || c.HealthTimeout <= 0 {
		return errors.New("grace periods and timeouts must be positive")
	}
	return nil
}
