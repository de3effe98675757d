// Package collab implements the plan, build and fix steps as HTTP
// clients of the external generation service. The orchestrator treats
// these as opaque collaborators; a non-success response from any of
// them is a terminal phase failure there.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/orchestrator"
)

// Config holds the generation-service client configuration.
type Config struct {
	// URL is the base URL of the generation service.
	URL string

	// Timeout bounds each generation call. Plan and fix calls invoke a
	// text-generation backend, so this is generous by default.
	Timeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		URL:     "http://localhost:3100",
		Timeout: 60 * time.Second,
	}
}

// FromConfig maps the application configuration onto a collab Config.
func FromConfig(gc config.GenerationConfig) *Config {
	cfg := DefaultConfig()
	if gc.URL != "" {
		cfg.URL = gc.URL
	}
	if d := gc.Timeout.Duration(); d > 0 {
		cfg.Timeout = d
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("generation url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid generation url: %w", err)
	}
	return nil
}

// Client is the HTTP client for the generation service. It implements
// the orchestrator's Planner, Builder and Fixer contracts.
type Client struct {
	cfg    *Config
	client *http.Client
	logger *zap.Logger
}

var (
	_ orchestrator.Planner = (*Client)(nil)
	_ orchestrator.Builder = (*Client)(nil)
	_ orchestrator.Fixer   = (*Client)(nil)
)

func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collab config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type planRequest struct {
	Command string `json:"command"`
	Name    string `json:"name"`
}

type planResponse struct {
	Status string `json:"status"`
	PlanID string `json:"plan_id"`
	Error  string `json:"error,omitempty"`
}

// CreatePlan asks the generation service to turn a natural-language
// command into a development plan.
func (c *Client) CreatePlan(ctx context.Context, command, name string) (*orchestrator.Plan, error) {
	c.logger.Info("creating plan", zap.String("project", name))

	var res planResponse
	err := c.post(ctx, "/plans", planRequest{Command: command, Name: name}, &res)
	if err != nil {
		return nil, fmt.Errorf("plan request: %w", err)
	}
	if res.Status != "success" || res.PlanID == "" {
		return nil, fmt.Errorf("planning rejected: %s", nonEmpty(res.Error, res.Status))
	}
	return &orchestrator.Plan{ID: res.PlanID}, nil
}

type materializeRequest struct {
	Name string `json:"name"`
}

type materializeResponse struct {
	Status       string   `json:"status"`
	FilesCreated []string `json:"files_created"`
	Error        string   `json:"error,omitempty"`
}

// Materialize asks the generation service to write the plan's files
// into the project directory.
func (c *Client) Materialize(ctx context.Context, planID, name string) (*orchestrator.BuildResult, error) {
	c.logger.Info("materializing plan",
		zap.String("project", name), zap.String("plan_id", planID))

	var res materializeResponse
	path := fmt.Sprintf("/plans/%s/materialize", url.PathEscape(planID))
	if err := c.post(ctx, path, materializeRequest{Name: name}, &res); err != nil {
		return nil, fmt.Errorf("materialize request: %w", err)
	}
	if res.Status != "success" {
		return nil, fmt.Errorf("build rejected: %s", nonEmpty(res.Error, res.Status))
	}
	return &orchestrator.BuildResult{FilesCreated: res.FilesCreated}, nil
}

type fixRequest struct {
	File     string `json:"file"`
	Feedback string `json:"feedback"`
}

type fixResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ApplyFix hands the accumulated test feedback to the generation
// service so it can rewrite the named project file.
func (c *Client) ApplyFix(ctx context.Context, name, file, feedback string) error {
	c.logger.Info("applying fix",
		zap.String("project", name), zap.String("file", file))

	var res fixResponse
	path := fmt.Sprintf("/projects/%s/fix", url.PathEscape(name))
	if err := c.post(ctx, path, fixRequest{File: file, Feedback: feedback}, &res); err != nil {
		return fmt.Errorf("fix request: %w", err)
	}
	if res.Status != "success" {
		return fmt.Errorf("fix rejected: %s", nonEmpty(res.Error, res.Status))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(payload))
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
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "unknown"
}
