package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cycled/internal/supervisor"
)

func newLoop(t *testing.T, tester *mockTester, fixer *mockFixer, sup *mockSupervisor, max int) (*IterationController, *ProjectStore) {
	t.Helper()
	store := NewProjectStore()
	store.Put(&ProjectRecord{Name: "demo", Status: StatusDeployed})

	loop := NewIterationController(
		NewTestStep(tester),
		NewFixStep(fixer, "main.py"),
		sup, store, nil,
		max, time.Millisecond,
	)
	return loop, store
}

func TestLoopStopsEarlyOnAllPassed(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeFailed, Feedback: []string{"missing endpoint"}}, nil).Once()
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "missing endpoint").Return(nil).Once()
	sup.On("Restart", mock.Anything, "demo").
		Return(&supervisor.StartResult{PID: 5678}, nil).Once()
	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeAllPassed}, nil).Once()

	loop, store := newLoop(t, tester, fixer, sup, 5)
	res, err := loop.Run(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, IterationAllPassed, res.Final)

	rec, err := store.Snapshot("demo")
	require.NoError(t, err)
	require.Len(t, rec.History, 2)
	assert.Equal(t, "1", rec.History[0].Iteration)
	assert.Equal(t, OutcomeFailed, rec.History[0].Outcome)
	assert.Equal(t, "2", rec.History[1].Iteration)
	assert.Equal(t, OutcomeAllPassed, rec.History[1].Outcome)

	tester.AssertExpectations(t)
	fixer.AssertExpectations(t)
	sup.AssertExpectations(t)
}

func TestLoopHitsIterationCap(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeFailed, Feedback: []string{"still broken"}}, nil)
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "still broken").Return(nil)
	sup.On("Restart", mock.Anything, "demo").
		Return(&supervisor.StartResult{PID: 1}, nil)

	loop, store := newLoop(t, tester, fixer, sup, 3)
	res, err := loop.Run(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, IterationMaxedOut, res.Final)

	// The cap is a hard ceiling on test invocations, with a fix attempt
	// on every failing pass.
	tester.AssertNumberOfCalls(t, "RunTests", 3)
	fixer.AssertNumberOfCalls(t, "ApplyFix", 3)

	rec, err := store.Snapshot("demo")
	require.NoError(t, err)
	assert.Len(t, rec.History, 3)
}

func TestLoopTreatsTestErrorAsFailedPass(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	tester.On("RunTests", mock.Anything, "demo").
		Return(nil, errors.New("connection refused")).Once()
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "test step error: connection refused").
		Return(nil).Once()
	sup.On("Restart", mock.Anything, "demo").
		Return(&supervisor.StartResult{PID: 2}, nil).Once()
	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeAllPassed}, nil).Once()

	loop, store := newLoop(t, tester, fixer, sup, 5)
	res, err := loop.Run(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)

	// The transport failure is preserved in history for diagnosis.
	rec, err := store.Snapshot("demo")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, rec.History[0].Outcome)
	assert.Contains(t, rec.History[0].Feedback[0], "connection refused")
}

func TestLoopToleratesFixAndRestartFailures(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	// First pass: fix itself fails, no restart attempted.
	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeFailed, Feedback: []string{"a"}}, nil).Once()
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "a").
		Return(errors.New("generation backend down")).Once()

	// Second pass: fix works but restart fails; the loop still proceeds.
	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeFailed, Feedback: []string{"b"}}, nil).Once()
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "b").Return(nil).Once()
	sup.On("Restart", mock.Anything, "demo").
		Return(nil, errors.New("port in use")).Once()

	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeAllPassed}, nil).Once()

	loop, _ := newLoop(t, tester, fixer, sup, 5)
	res, err := loop.Run(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, IterationAllPassed, res.Final)

	sup.AssertNumberOfCalls(t, "Restart", 1)
}

func TestLoopAbortsOnCancelledContext(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomeFailed, Feedback: []string{"x"}}, nil)
	fixer.On("ApplyFix", mock.Anything, "demo", "main.py", "x").Return(nil)
	sup.On("Restart", mock.Anything, "demo").
		Return(&supervisor.StartResult{PID: 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop, _ := newLoop(t, tester, fixer, sup, 5)
	_, err := loop.Run(ctx, "demo")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunOnceRecordsAdditionalPass(t *testing.T) {
	tester := &mockTester{}
	fixer := &mockFixer{}
	sup := &mockSupervisor{}

	tester.On("RunTests", mock.Anything, "demo").
		Return(&TestReport{Outcome: OutcomePartialPass, Feedback: []string{"one flaky case"}}, nil).Once()

	loop, store := newLoop(t, tester, fixer, sup, 5)
	report, err := loop.RunOnce(context.Background(), "demo", "additional")
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialPass, report.Outcome)

	rec, err := store.Snapshot("demo")
	require.NoError(t, err)
	require.Len(t, rec.History, 1)
	assert.Equal(t, "additional", rec.History[0].Iteration)
}
