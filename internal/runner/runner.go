// Package runner implements the test step against an external
// test-runner service plus a local test suite run inside the project
// directory. It satisfies the orchestrator's Tester contract.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/orchestrator"
)

// Config holds the test-runner client configuration.
type Config struct {
	// URL is the base URL of the external test-runner service.
	URL string

	// AppURL and HealthPath locate the deployed project's liveness
	// endpoint, probed before any tests run.
	AppURL     string
	HealthPath string

	// ProjectsDir holds one working directory per project name; the
	// local suite runs from there.
	ProjectsDir string

	// LocalCommand runs the project's own test suite, if present.
	LocalCommand []string

	HealthTimeout   time.Duration
	GenerateTimeout time.Duration
	ExecuteTimeout  time.Duration
	LocalTimeout    time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		URL:             "http://localhost:3000",
		AppURL:          "http://localhost:8001",
		HealthPath:      "/api/health",
		ProjectsDir:     "custom_projects",
		LocalCommand:    []string{"python", "-m", "pytest", "tests/", "-v", "--tb=short"},
		HealthTimeout:   5 * time.Second,
		GenerateTimeout: 30 * time.Second,
		ExecuteTimeout:  60 * time.Second,
		LocalTimeout:    60 * time.Second,
	}
}

// FromConfig maps the application configuration onto a runner Config.
func FromConfig(cfg *config.Config) *Config {
	rc := DefaultConfig()
	if cfg == nil {
		return rc
	}
	if cfg.Runner.URL != "" {
		rc.URL = cfg.Runner.URL
	}
	if cfg.Supervisor.AppURL != "" {
		rc.AppURL = cfg.Supervisor.AppURL
	}
	if cfg.Supervisor.HealthPath != "" {
		rc.HealthPath = cfg.Supervisor.HealthPath
	}
	if cfg.Supervisor.ProjectsDir != "" {
		rc.ProjectsDir = cfg.Supervisor.ProjectsDir
	}
	if d := cfg.Runner.HealthTimeout.Duration(); d > 0 {
		rc.HealthTimeout = d
	}
	if d := cfg.Runner.GenerateTimeout.Duration(); d > 0 {
		rc.GenerateTimeout = d
	}
	if d := cfg.Runner.ExecuteTimeout.Duration(); d > 0 {
		rc.ExecuteTimeout = d
		rc.LocalTimeout = d
	}
	return rc
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("runner url is required")
	}
	if c.AppURL == "" {
		return errors.New("app url is required")
	}
	if c.ProjectsDir == "" {
		return errors.New("projects dir is required")
	}
	return nil
}

// Client talks to the external test-runner service.
type Client struct {
	cfg    *Config
	client *http.Client
	logger *zap.Logger
}

var _ orchestrator.Tester = (*Client)(nil)

func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// RunTests probes the deployed project, runs its local suite and the
// remote runner's generated suite, and folds both into a single report.
// Environment problems (app down, runner unreachable) surface as a
// failed report with diagnostic feedback, not as an error.
func (c *Client) RunTests(ctx context.Context, name string) (*orchestrator.TestReport, error) {
	c.logger.Info("testing project", zap.String("project", name))

	if msg, healthy := c.checkAppHealth(ctx); !healthy {
		return &orchestrator.TestReport{
			Outcome: orchestrator.OutcomeFailed,
			Feedback: []string{
				fmt.Sprintf("project %s is not running or unhealthy", name),
				msg,
			},
		}, nil
	}

	local := c.runLocalTests(ctx, name)
	remote := c.runRemoteTests(ctx, name)

	report := &orchestrator.TestReport{
		Outcome:  deriveOutcome(local, remote),
		Feedback: buildFeedback(local, remote),
	}
	c.logger.Info("test pass complete",
		zap.String("project", name),
		zap.String("outcome", string(report.Outcome)))
	return report, nil
}

// suiteResult is the folded result of one test source.
type suiteResult struct {
	ran     bool
	passed  bool
	message string
}

func (c *Client) checkAppHealth(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AppURL+c.cfg.HealthPath, nil)
	if err != nil {
		return err.Error(), false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Sprintf("health check failed: %v", err), false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("health check returned status %d", resp.StatusCode), false
	}
	return "", true
}

// runLocalTests runs the project's own suite from its working
// directory. A missing tests directory is reported, not failed.
func (c *Client) runLocalTests(ctx context.Context, name string) suiteResult {
	dir := filepath.Join(c.cfg.ProjectsDir, name)
	if _, err := os.Stat(filepath.Join(dir, "tests")); err != nil {
		return suiteResult{message: "no local tests found, consider adding test files"}
	}

	c.logger.Debug("running local tests", zap.String("dir", dir))

	tctx, cancel := context.WithTimeout(ctx, c.cfg.LocalTimeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, c.cfg.LocalCommand[0], c.cfg.LocalCommand[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return suiteResult{ran: true, message: "local tests timed out"}
		}
		return suiteResult{
			ran:     true,
			message: fmt.Sprintf("local tests failed: %s", truncate(string(out), 200)),
		}
	}
	return suiteResult{ran: true, passed: true, message: "local tests passed"}
}

// runRemoteTests asks the runner service to generate and execute a
// suite against the deployed project. An unreachable runner degrades to
// a not-run result rather than an error.
func (c *Client) runRemoteTests(ctx context.Context, name string) suiteResult {
	if !c.runnerAvailable(ctx) {
		return suiteResult{message: "test runner not available, using local tests only"}
	}

	gen, err := c.generateTests(ctx, name)
	if err != nil {
		return suiteResult{ran: true, message: fmt.Sprintf("test generation failed: %v", err)}
	}

	passed, failed, err := c.executeTests(ctx, name, gen)
	if err != nil {
		return suiteResult{ran: true, message: fmt.Sprintf("test execution failed: %v", err)}
	}
	return suiteResult{
		ran:     true,
		passed:  passed > 0 && failed == 0,
		message: fmt.Sprintf("runner tests executed: %d passed, %d failed", passed, failed),
	}
}

func (c *Client) runnerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	ProjectName  string   `json:"project_name"`
	TargetURL    string   `json:"target_url"`
	Requirements []string `json:"test_requirements"`
}

type executeRequest struct {
	ProjectName string          `json:"project_name"`
	TestCases   json.RawMessage `json:"test_cases"`
	TargetURL   string          `json:"target_url"`
}

type executeResponse struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

func (c *Client) generateTests(ctx context.Context, name string) (json.RawMessage, error) {
	body := generateRequest{
		ProjectName: name,
		TargetURL:   c.cfg.AppURL,
		Requirements: []string{
			"Test all API endpoints",
			"Test error handling",
			"Test response formats",
			"Test health checks",
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	var cases json.RawMessage
	if err := c.postJSON(ctx, c.cfg.URL+"/generate-tests", body, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (c *Client) executeTests(ctx context.Context, name string, cases json.RawMessage) (int, int, error) {
	body := executeRequest{
		ProjectName: name,
		TestCases:   cases,
		TargetURL:   c.cfg.AppURL,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecuteTimeout)
	defer cancel()

	var res executeResponse
	if err := c.postJSON(ctx, c.cfg.URL+"/execute-tests", body, &res); err != nil {
		return 0, 0, err
	}
	return res.Passed, res.Failed, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func deriveOutcome(local, remote suiteResult) orchestrator.TestOutcome {
	switch {
	case local.passed && remote.passed:
		return orchestrator.OutcomeAllPassed
	case local.passed || remote.passed:
		return orchestrator.OutcomePartialPass
	default:
		return orchestrator.OutcomeFailed
	}
}

func buildFeedback(local, remote suiteResult) []string {
	feedback := []string{local.message, remote.message}

	switch deriveOutcome(local, remote) {
	case orchestrator.OutcomeAllPassed:
		feedback = append(feedback, "all tests passed, project is ready")
	case orchestrator.OutcomePartialPass:
		feedback = append(feedback, "some tests passed but improvements are needed")
	default:
		feedback = append(feedback, "tests failed, code needs fixes")
	}
	return feedback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
