package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

type mockSupervisor struct {
	mock.Mock
}

func (m *mockSupervisor) Deploy(ctx context.Context, name string) (*supervisor.StartResult, error) {
	args := m.Called(ctx, name)
	if res := args.Get(0); res != nil {
		return res.(*supervisor.StartResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupervisor) Start(ctx context.Context, name, dir string) (*supervisor.StartResult, error) {
	args := m.Called(ctx, name, dir)
	if res := args.Get(0); res != nil {
		return res.(*supervisor.StartResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupervisor) Stop(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockSupervisor) Restart(ctx context.Context, name string) (*supervisor.StartResult, error) {
	args := m.Called(ctx, name)
	if res := args.Get(0); res != nil {
		return res.(*supervisor.StartResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupervisor) Status(name string) *supervisor.Status {
	args := m.Called(name)
	if res := args.Get(0); res != nil {
		return res.(*supervisor.Status)
	}
	return &supervisor.Status{Name: name, State: supervisor.StateNotRunning}
}

func (m *mockSupervisor) HealthCheck(ctx context.Context, name string) *supervisor.HealthReport {
	args := m.Called(ctx, name)
	return args.Get(0).(*supervisor.HealthReport)
}

func (m *mockSupervisor) InstallDependencies(ctx context.Context, dir string) error {
	return m.Called(ctx, dir).Error(0)
}

func (m *mockSupervisor) Running() []*supervisor.Status {
	args := m.Called()
	if res := args.Get(0); res != nil {
		return res.([]*supervisor.Status)
	}
	return nil
}

func (m *mockSupervisor) CleanupAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) CreatePlan(ctx context.Context, command, name string) (*Plan, error) {
	args := m.Called(ctx, command, name)
	if res := args.Get(0); res != nil {
		return res.(*Plan), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockBuilder struct {
	mock.Mock
}

func (m *mockBuilder) Materialize(ctx context.Context, planID, name string) (*BuildResult, error) {
	args := m.Called(ctx, planID, name)
	if res := args.Get(0); res != nil {
		return res.(*BuildResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTester struct {
	mock.Mock
}

func (m *mockTester) RunTests(ctx context.Context, name string) (*TestReport, error) {
	args := m.Called(ctx, name)
	if res := args.Get(0); res != nil {
		return res.(*TestReport), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockFixer struct {
	mock.Mock
}

func (m *mockFixer) ApplyFix(ctx context.Context, name, file, feedback string) error {
	return m.Called(ctx, name, file, feedback).Error(0)
}
