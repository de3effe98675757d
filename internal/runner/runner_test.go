package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/orchestrator"
)

// fakeRunner serves the external test-runner API with canned results.
func fakeRunner(t *testing.T, passed, failed int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/generate-tests", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["project_name"])
		json.NewEncoder(w).Encode([]map[string]string{{"name": "health endpoint"}})
	})
	mux.HandleFunc("/execute-tests", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"passed": passed, "failed": failed})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func healthyApp(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testClient(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ProjectsDir = t.TempDir()
	mutate(cfg)
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

// withLocalSuite lays out a project directory whose local suite exits
// with the given status.
func withLocalSuite(t *testing.T, cfg *Config, name string, pass bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProjectsDir, name, "tests"), 0o755))
	if pass {
		cfg.LocalCommand = []string{"sh", "-c", "exit 0"}
	} else {
		cfg.LocalCommand = []string{"sh", "-c", "echo assertion error; exit 1"}
	}
}

func TestRunTestsAllPassed(t *testing.T) {
	app := healthyApp(t)
	remote := fakeRunner(t, 3, 0)

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
		cfg.URL = remote.URL
		withLocalSuite(t, cfg, "demo", true)
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeAllPassed, report.Outcome)
	assert.Contains(t, report.Feedback, "local tests passed")
	assert.Contains(t, report.Feedback, "all tests passed, project is ready")
}

func TestRunTestsPartialPass(t *testing.T) {
	app := healthyApp(t)
	remote := fakeRunner(t, 2, 1)

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
		cfg.URL = remote.URL
		withLocalSuite(t, cfg, "demo", true)
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomePartialPass, report.Outcome)
	assert.Contains(t, report.Feedback, "runner tests executed: 2 passed, 1 failed")
}

func TestRunTestsAllFailed(t *testing.T) {
	app := healthyApp(t)
	remote := fakeRunner(t, 0, 3)

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
		cfg.URL = remote.URL
		withLocalSuite(t, cfg, "demo", false)
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.Feedback, "tests failed, code needs fixes")
	// Local failure output is preserved for the fix step.
	assert.Contains(t, report.Feedback[0], "assertion error")
}

func TestRunTestsAppUnhealthy(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(app.Close)

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.Feedback[0], "not running or unhealthy")
}

func TestRunTestsRunnerUnavailable(t *testing.T) {
	app := healthyApp(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := dead.URL
	dead.Close()

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
		cfg.URL = addr
		withLocalSuite(t, cfg, "demo", true)
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	// Local suite passed, remote never ran.
	assert.Equal(t, orchestrator.OutcomePartialPass, report.Outcome)
	assert.Contains(t, report.Feedback, "test runner not available, using local tests only")
}

func TestRunTestsNoLocalSuite(t *testing.T) {
	app := healthyApp(t)
	remote := fakeRunner(t, 3, 0)

	c := testClient(t, func(cfg *Config) {
		cfg.AppURL = app.URL
		cfg.URL = remote.URL
	})

	report, err := c.RunTests(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomePartialPass, report.Outcome)
	assert.Contains(t, report.Feedback, "no local tests found, consider adding test files")
}

func TestFromConfigMapsSections(t *testing.T) {
	app := config.NewDefaultConfig()
	app.Runner.URL = "http://runner:9999"
	app.Supervisor.AppURL = "http://app:8080"
	app.Supervisor.ProjectsDir = "/srv/projects"

	cfg := FromConfig(app)
	assert.Equal(t, "http://runner:9999", cfg.URL)
	assert.Equal(t, "http://app:8080", cfg.AppURL)
	assert.Equal(t, "/srv/projects", cfg.ProjectsDir)
	assert.Equal(t, DefaultConfig().HealthPath, cfg.HealthPath)
}
