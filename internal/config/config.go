// Package config provides configuration loading for cycled.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CYCLE_MAX_ITERATIONS, SUPERVISOR_PROJECTS_DIR, ...)
//  2. YAML config file (default: ~/.config/cycled/config.yaml)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"time"
)

// Config holds the complete cycled configuration.
type Config struct {
	Cycle         CycleConfig         `koanf:"cycle"`
	Supervisor    SupervisorConfig    `koanf:"supervisor"`
	Runner        RunnerConfig        `koanf:"runner"`
	Generation    GenerationConfig    `koanf:"generation"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// CycleConfig controls the development-cycle iteration loop.
type CycleConfig struct {
	// MaxIterations caps test/fix passes per cycle.
	MaxIterations int `koanf:"max_iterations"`

	// IterationBackoff is the pause between loop passes.
	IterationBackoff Duration `koanf:"iteration_backoff"`

	// EntryFile is the file handed to the fix step.
	EntryFile string `koanf:"entry_file"`
}

// SupervisorConfig controls the project runtime process lifecycle.
type SupervisorConfig struct {
	// ProjectsDir holds one working directory per project name.
	ProjectsDir string `koanf:"projects_dir"`

	// AppCommand launches the project runtime inside its directory.
	AppCommand []string `koanf:"app_command"`

	// AppURL is the base URL the runtime exposes once started.
	AppURL string `koanf:"app_url"`

	// HealthPath is the liveness endpoint on AppURL.
	HealthPath string `koanf:"health_path"`

	// InstallCommand installs project dependencies before start.
	InstallCommand []string `koanf:"install_command"`

	// InstallMarker is the file whose presence triggers InstallCommand.
	InstallMarker string `koanf:"install_marker"`

	StartupGrace   Duration `koanf:"startup_grace"`
	StopGrace      Duration `koanf:"stop_grace"`
	InstallTimeout Duration `koanf:"install_timeout"`
	HealthTimeout  Duration `koanf:"health_timeout"`
}

// RunnerConfig points at the external test-runner service.
type RunnerConfig struct {
	URL             string   `koanf:"url"`
	HealthTimeout   Duration `koanf:"health_timeout"`
	GenerateTimeout Duration `koanf:"generate_timeout"`
	ExecuteTimeout  Duration `koanf:"execute_timeout"`
}

// GenerationConfig points at the external generation service that backs
// the plan, materialize and fix steps.
type GenerationConfig struct {
	URL     string   `koanf:"url"`
	Timeout Duration `koanf:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig controls OpenTelemetry export.
type ObservabilityConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns the hardcoded defaults. The grace periods and
// the iteration cap mirror the behavior the rest of the system is
// specified against; change them deliberately.
func NewDefaultConfig() *Config {
	return &Config{
		Cycle: CycleConfig{
			MaxIterations:    5,
			IterationBackoff: Duration(2 * time.Second),
			EntryFile:        "main.py",
		},
		Supervisor: SupervisorConfig{
			ProjectsDir:    "custom_projects",
			AppCommand:     []string{"python", "main.py"},
			AppURL:         "http://localhost:8001",
			HealthPath:     "/api/health",
			InstallCommand: []string{"pip", "install", "-r", "requirements.txt"},
			InstallMarker:  "requirements.txt",
			StartupGrace:   Duration(3 * time.Second),
			StopGrace:      Duration(5 * time.Second),
			InstallTimeout: Duration(120 * time.Second),
			HealthTimeout:  Duration(5 * time.Second),
		},
		Runner: RunnerConfig{
			URL:             "http://localhost:3000",
			HealthTimeout:   Duration(5 * time.Second),
			GenerateTimeout: Duration(30 * time.Second),
			ExecuteTimeout:  Duration(60 * time.Second),
		},
		Generation: GenerationConfig{
			URL:     "http://localhost:3100",
			Timeout: Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			ServiceName:    "cycled",
			ServiceVersion: "0.1.0",
			Insecure:       true,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the assembled configuration for errors.
func (c *Config) Validate() error {
	if c.Cycle.MaxIterations < 1 {
		return fmt.Errorf("cycle.max_iterations must be >= 1, got %d", c.Cycle.MaxIterations)
	}
	if c.Cycle.EntryFile == "" {
		return fmt.Errorf("cycle.entry_file is required")
	}
	if c.Supervisor.ProjectsDir == "" {
		return fmt.Errorf("supervisor.projects_dir is required")
	}
	if len(c.Supervisor.AppCommand) == 0 {
		return fmt.Errorf("supervisor.app_command is required")
	}
	if c.Supervisor.AppURL == "" {
		return fmt.Errorf("supervisor.app_url is required")
	}
	for name, d := range map[string]Duration{
		"supervisor.startup_grace":   c.Supervisor.StartupGrace,
		"supervisor.stop_grace":      c.Supervisor.StopGrace,
		"supervisor.install_timeout": c.Supervisor.InstallTimeout,
		"supervisor.health_timeout":  c.Supervisor.HealthTimeout,
	} {
		if d.Duration() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Runner.URL == "" {
		return fmt.Errorf("runner.url is required")
	}
	if c.Generation.URL == "" {
		return fmt.Errorf("generation.url is required")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Observability.Enabled {
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("observability.endpoint is required when observability is enabled")
		}
		if c.Observability.ServiceName == "" {
			return fmt.Errorf("observability.service_name is required when observability is enabled")
		}
		if p := c.Observability.Protocol; p != "grpc" && p != "http/protobuf" {
			return fmt.Errorf("observability.protocol must be 'grpc' or 'http/protobuf', got %q", p)
		}
	}
	return nil
}
