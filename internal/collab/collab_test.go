package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

func testServer(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.URL = ts.URL
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestCreatePlan(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plans", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "build a todo app", req["command"])
		assert.Equal(t, "demo", req["name"])

		json.NewEncoder(w).Encode(map[string]string{"status": "success", "plan_id": "p1"})
	}))

	plan, err := c.CreatePlan(context.Background(), "build a todo app", "demo")
	require.NoError(t, err)
	assert.Equal(t, "p1", plan.ID)
}

func TestCreatePlanRejected(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "quota exceeded"})
	}))

	_, err := c.CreatePlan(context.Background(), "build a todo app", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestMaterialize(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plans/p1/materialize", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "success",
			"files_created": []string{"main.py", "requirements.txt"},
		})
	}))

	res, err := c.Materialize(context.Background(), "p1", "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py", "requirements.txt"}, res.FilesCreated)
}

func TestMaterializeFailure(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "error"})
	}))

	_, err := c.Materialize(context.Background(), "p1", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build rejected")
}

func TestApplyFix(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/demo/fix", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "main.py", req["file"])
		assert.Contains(t, req["feedback"], "missing endpoint")

		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))

	err := c.ApplyFix(context.Background(), "demo", "main.py", "missing endpoint")
	require.NoError(t, err)
}

func TestServerErrorStatus(t *testing.T) {
	c := testServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))

	_, err := c.CreatePlan(context.Background(), "cmd", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.GenerationConfig{URL: "http://gen:3100"})
	assert.Equal(t, "http://gen:3100", cfg.URL)
	assert.Equal(t, DefaultConfig().Timeout, cfg.Timeout)
}
