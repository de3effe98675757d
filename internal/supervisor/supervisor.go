package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service provides process lifecycle operations, one process per project.
type Service interface {
	// Deploy stops any prior process for the project, installs
	// dependencies and starts the runtime from its project directory.
	Deploy(ctx context.Context, name string) (*StartResult, error)

	// Start launches the project runtime in dir and waits out the
	// startup grace period before declaring it up.
	Start(ctx context.Context, name, dir string) (*StartResult, error)

	// Stop terminates the project's process. Stopping an untracked
	// project is a successful no-op.
	Stop(ctx context.Context, name string) error

	// Restart stops then starts the project's process as one logical
	// action.
	Restart(ctx context.Context, name string) (*StartResult, error)

	// Status polls process liveness. A process found dead is removed
	// from tracking as a side effect.
	Status(name string) *Status

	// HealthCheck probes the project's HTTP endpoint. Failures are
	// reported in the returned state, never raised.
	HealthCheck(ctx context.Context, name string) *HealthReport

	// InstallDependencies runs the bounded install step in dir.
	InstallDependencies(ctx context.Context, dir string) error

	// Running lists all currently live processes, pruning dead entries.
	Running() []*Status

	// CleanupAll stops every tracked process.
	CleanupAll(ctx context.Context) error
}

// process is one tracked child process. The output buffer must only be
// read after done is closed; until then exec's copier goroutine owns it.
type process struct {
	name      string
	dir       string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	output    *bytes.Buffer
	done      chan struct{}
	waitErr   error
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type service struct {
	cfg    *Config
	logger *zap.Logger
	client *http.Client

	mu    sync.Mutex
	procs map[string]*process
}

// NewService creates a supervisor service.
func NewService(cfg *Config, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.HealthTimeout},
		procs:  make(map[string]*process),
	}, nil
}

func (s *service) Deploy(ctx context.Context, name string) (*StartResult, error) {
	dir := filepath.Join(s.cfg.ProjectsDir, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectDirMissing, dir)
	}

	s.logger.Info("deploying project", zap.String("project", name), zap.String("dir", dir))

	// A prior process for the same name is replaced, not joined.
	if err := s.Stop(ctx, name); err != nil {
		return nil, fmt.Errorf("stopping previous process: %w", err)
	}

	if err := s.InstallDependencies(ctx, dir); err != nil {
		return nil, err
	}

	return s.Start(ctx, name, dir)
}

func (s *service) Start(ctx context.Context, name, dir string) (*StartResult, error) {
	s.mu.Lock()
	if p, ok := s.procs[name]; ok && p.alive() {
		s.mu.Unlock()
		return nil, fmt.Errorf("project %s is already running (pid %d)", name, p.pid)
	}
	delete(s.procs, name)
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.AppCommand[0], s.cfg.AppCommand[1:]...)
	cmd.Dir = dir
	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}

	p := &process{
		name:      name,
		dir:       dir,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		output:    output,
		done:      make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	s.logger.Info("process launched, waiting startup grace",
		zap.String("project", name), zap.Int("pid", p.pid))

	grace := time.NewTimer(s.cfg.StartupGrace)
	defer grace.Stop()

	select {
	case <-p.done:
		// Exited within the grace period: startup failure, report the
		// captured output.
		return nil, &StartError{Name: name, Output: output.String()}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-p.done
		return nil, ctx.Err()
	case <-grace.C:
	}

	if !p.alive() {
		return nil, &StartError{Name: name, Output: output.String()}
	}

	s.mu.Lock()
	s.procs[name] = p
	s.mu.Unlock()

	s.logger.Info("process up", zap.String("project", name), zap.Int("pid", p.pid))
	return &StartResult{
		PID:     p.pid,
		URL:     s.cfg.AppURL,
		Message: fmt.Sprintf("application started (pid %d)", p.pid),
	}, nil
}

func (s *service) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	if ok {
		// The entry is removed up front so no path leaves a
		// tracked-but-dead process behind.
		delete(s.procs, name)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("stop requested for untracked project", zap.String("project", name))
		return nil
	}
	if !p.alive() {
		return nil
	}

	s.logger.Info("stopping process", zap.String("project", name), zap.Int("pid", p.pid))

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Signal can fail if the process died between the liveness check
		// and here; escalate straight to kill, which tolerates that too.
		_ = p.cmd.Process.Kill()
	}

	stopTimer := time.NewTimer(s.cfg.StopGrace)
	defer stopTimer.Stop()

	select {
	case <-p.done:
	case <-stopTimer.C:
		s.logger.Warn("graceful stop timed out, killing",
			zap.String("project", name), zap.Int("pid", p.pid))
		_ = p.cmd.Process.Kill()
		<-p.done
	}

	return nil
}

func (s *service) Restart(ctx context.Context, name string) (*StartResult, error) {
	s.mu.Lock()
	dir := filepath.Join(s.cfg.ProjectsDir, name)
	if p, ok := s.procs[name]; ok {
		dir = p.dir
	}
	s.mu.Unlock()

	if err := s.Stop(ctx, name); err != nil {
		return nil, fmt.Errorf("restart of %s: %w", name, err)
	}
	res, err := s.Start(ctx, name, dir)
	if err != nil {
		return nil, fmt.Errorf("restart of %s: %w", name, err)
	}
	return res, nil
}

func (s *service) Status(name string) *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok {
		return &Status{Name: name, State: StateNotRunning, Message: "project is not running"}
	}
	if !p.alive() {
		// Self-healing bookkeeping: prune the dead entry on query.
		delete(s.procs, name)
		return &Status{Name: name, State: StateStopped, Message: "process has exited"}
	}
	return &Status{
		Name:      name,
		State:     StateRunning,
		PID:       p.pid,
		URL:       s.cfg.AppURL,
		StartedAt: p.startedAt,
		Uptime:    time.Since(p.startedAt),
	}
}

func (s *service) HealthCheck(ctx context.Context, name string) *HealthReport {
	if st := s.Status(name); st.State != StateRunning {
		return &HealthReport{State: HealthError, Message: "project is not running"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.AppURL+s.cfg.HealthPath, nil)
	if err != nil {
		return &HealthReport{State: HealthError, Message: err.Error()}
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return &HealthReport{State: HealthError, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HealthReport{
			State:      HealthUnhealthy,
			StatusCode: resp.StatusCode,
			Message:    "health check returned non-success status",
		}
	}
	return &HealthReport{
		State:        HealthHealthy,
		StatusCode:   resp.StatusCode,
		ResponseTime: time.Since(started),
	}
}

func (s *service) InstallDependencies(ctx context.Context, dir string) error {
	if len(s.cfg.InstallCommand) == 0 {
		return nil
	}
	if s.cfg.InstallMarker != "" {
		if _, err := os.Stat(filepath.Join(dir, s.cfg.InstallMarker)); err != nil {
			s.logger.Debug("no install marker, skipping dependency installation",
				zap.String("dir", dir), zap.String("marker", s.cfg.InstallMarker))
			return nil
		}
	}

	s.logger.Info("installing dependencies", zap.String("dir", dir))

	ictx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	defer cancel()

	cmd := exec.CommandContext(ictx, s.cfg.InstallCommand[0], s.cfg.InstallCommand[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return &InstallError{Dir: dir, TimedOut: true, Output: string(out)}
		}
		return &InstallError{Dir: dir, Output: string(out)}
	}
	return nil
}

func (s *service) Running() []*Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make([]*Status, 0, len(s.procs))
	for name, p := range s.procs {
		if !p.alive() {
			delete(s.procs, name)
			continue
		}
		running = append(running, &Status{
			Name:      name,
			State:     StateRunning,
			PID:       p.pid,
			URL:       s.cfg.AppURL,
			StartedAt: p.startedAt,
			Uptime:    time.Since(p.startedAt),
		})
	}
	return running
}

func (s *service) CleanupAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	if len(names) == 0 {
		return nil
	}

	s.logger.Info("stopping all tracked processes", zap.Int("count", len(names)))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return s.Stop(gctx, name)
		})
	}
	return g.Wait()
}
