package tdd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
)

// scriptedRunner returns queued outcomes in order, then repeats the
// last one.
type scriptedRunner struct {
	outcomes []Outcome
	calls    int
}

func (r *scriptedRunner) Run(_ context.Context, _ string) (Outcome, error) {
	i := r.calls
	if i >= len(r.outcomes) {
		i = len(r.outcomes) - 1
	}
	r.calls++
	return r.outcomes[i], nil
}

func newTestManager(t *testing.T, runner Runner) (*Manager, *store.Store, *hooks.Bus) {
	t.Helper()
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := hooks.NewBus(logging.Nop())
	return New(s, runner, bus, logging.Nop()), s, bus
}

func handle(t *testing.T, m *Manager, name string, args map[string]any) map[string]any {
	t.Helper()
	result, err := m.Handle(context.Background(), name, args)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func TestRedGreenRefactorCycle(t *testing.T) {
	runner := &scriptedRunner{outcomes: []Outcome{
		{Passed: false, Output: "FAIL"},
		{Passed: true, Output: "ok"},
		{Passed: true, Output: "ok"},
	}}
	m, s, bus := newTestManager(t, runner)

	var kinds []hooks.Kind
	for _, k := range []hooks.Kind{hooks.TDDCycleStarted, hooks.TestCompleted, hooks.TDDCycleCompleted} {
		k := k
		bus.Register(k, func(e *hooks.Event) error {
			kinds = append(kinds, e.Kind)
			return nil
		})
	}

	args := map[string]any{"testPath": "pkg/calc_test.go"}
	red := handle(t, m, "tdd_red", args)
	assert.NotContains(t, red, "warning")
	green := handle(t, m, "tdd_green", args)
	assert.NotContains(t, green, "warning")
	refactor := handle(t, m, "tdd_refactor", args)
	assert.NotContains(t, refactor, "warning")

	runs, err := s.ListTestRuns(context.Background(), "pkg/calc_test.go", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, store.PhaseRefactor, runs[0].Phase)
	assert.Equal(t, store.PhaseRed, runs[2].Phase)
	assert.False(t, runs[2].Passed)

	assert.Equal(t, []hooks.Kind{
		hooks.TDDCycleStarted, hooks.TestCompleted,
		hooks.TestCompleted,
		hooks.TestCompleted, hooks.TDDCycleCompleted,
	}, kinds)
}

func TestRedPhaseWarnsWhenTestsPass(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: true, Output: "ok"}}})
	payload := handle(t, m, "tdd_red", map[string]any{"testPath": "x_test.go"})
	assert.Contains(t, payload["warning"], "expected a failing test")
}

func TestGreenPhaseWarnsWhenTestsFail(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: false, Output: "FAIL"}}})
	payload := handle(t, m, "tdd_green", map[string]any{"testPath": "x_test.go"})
	assert.Contains(t, payload["warning"], "failed during green phase")
}

func TestVerifyWarnsWhenLastPhaseNotGreen(t *testing.T) {
	runner := &scriptedRunner{outcomes: []Outcome{
		{Passed: false, Output: "FAIL"}, // red
		{Passed: true, Output: "ok"},    // verify
	}}
	m, _, _ := newTestManager(t, runner)

	handle(t, m, "tdd_red", map[string]any{"testPath": "x_test.go"})
	payload := handle(t, m, "tdd_verify", map[string]any{"testPath": "x_test.go"})
	assert.Contains(t, payload["warning"], "not green")
	assert.Equal(t, true, payload["passed"])
}

func TestVerifyCleanAfterGreen(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: true, Output: "ok"}}})

	handle(t, m, "tdd_green", map[string]any{"testPath": "x_test.go"})
	payload := handle(t, m, "tdd_verify", map[string]any{"testPath": "x_test.go"})
	assert.NotContains(t, payload, "warning")
}

func TestVerifyRecordsRun(t *testing.T) {
	m, s, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: true, Output: "ok"}}})

	handle(t, m, "tdd_green", map[string]any{"testPath": "x_test.go"})
	payload := handle(t, m, "tdd_verify", map[string]any{"testPath": "x_test.go"})
	assert.NotContains(t, payload, "warning")

	runs, err := s.ListTestRuns(context.Background(), "x_test.go", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, store.PhaseVerify, runs[0].Phase)
	assert.True(t, runs[0].Passed)

	// A second verify reports against the green run, not the verify
	// row it just appended.
	again := handle(t, m, "tdd_verify", map[string]any{"testPath": "x_test.go"})
	assert.NotContains(t, again, "warning")
	runs, err = s.ListTestRuns(context.Background(), "x_test.go", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestVerifyWithNoHistory(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: true, Output: "ok"}}})
	payload := handle(t, m, "tdd_verify", map[string]any{"testPath": "fresh_test.go"})
	assert.Contains(t, payload["warning"], "no prior runs")
}

func TestPhaseUpdatesLinkedTask(t *testing.T) {
	m, s, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{Passed: false}}})
	task, err := s.CreateTask(context.Background(), store.Task{Content: "feature", Type: "tdd"})
	require.NoError(t, err)

	handle(t, m, "tdd_red", map[string]any{"testPath": "x_test.go", "taskId": task.ID})

	updated, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "red", updated.TDDPhase)
	assert.Equal(t, "x_test.go", updated.TestPath)
}

func TestMissingTestPathRejected(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedRunner{outcomes: []Outcome{{}}})
	_, err := m.Handle(context.Background(), "tdd_green", map[string]any{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}
