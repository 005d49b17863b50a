package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
)

type fakeRunner struct {
	result RunResult
	err    error
	block  bool
}

func (r *fakeRunner) Run(ctx context.Context, _ RunSpec) (RunResult, error) {
	if r.block {
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}
	return r.result, r.err
}

func newTestManager(t *testing.T, runner Runner, opts ...Option) (*Manager, *store.Store, *hooks.Bus) {
	t.Helper()
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := hooks.NewBus(logging.Nop())
	return New(s, runner, bus, logging.Nop(), opts...), s, bus
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

func spawn(t *testing.T, m *Manager, args map[string]any) string {
	t.Helper()
	payload := handle(t, m, "agent_spawn", args)
	return payload["id"].(string)
}

func TestSpawnRunsToCompletion(t *testing.T) {
	runner := &fakeRunner{result: RunResult{Output: "done", TodoIDs: []string{"t1"}}}
	m, s, bus := newTestManager(t, runner)

	var completed *hooks.Event
	bus.Register(hooks.AgentCompleted, func(e *hooks.Event) error {
		completed = e
		return nil
	})

	id := spawn(t, m, map[string]any{"type": "worker", "task": "do the thing"})
	m.Wait()

	rec, err := s.GetAgent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.AgentCompleted, rec.Status)
	assert.Contains(t, rec.Result, "done")
	require.NotNil(t, rec.CompletedAt)

	require.NotNil(t, completed)
	result := completed.Data["result"].(map[string]any)
	assert.Equal(t, []any{"t1"}, result["todoIds"])
}

func TestSpawnFiresAgentStartedBeforeReply(t *testing.T) {
	m, _, bus := newTestManager(t, &fakeRunner{})
	var started bool
	bus.Register(hooks.AgentStarted, func(*hooks.Event) error {
		started = true
		return nil
	})
	spawn(t, m, map[string]any{"type": "worker", "task": "anything"})
	assert.True(t, started)
	m.Wait()
}

func TestFailedRunnerMarksAgentFailed(t *testing.T) {
	m, s, _ := newTestManager(t, &fakeRunner{err: errors.New("exploded")})
	id := spawn(t, m, map[string]any{"type": "worker", "task": "boom"})
	m.Wait()

	rec, err := s.GetAgent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.AgentFailed, rec.Status)
	assert.Equal(t, "exploded", rec.Result)
}

func TestSoftTimeoutMarksAgentTimedOut(t *testing.T) {
	m, s, _ := newTestManager(t, &fakeRunner{block: true}, WithTimeout(20*time.Millisecond))
	id := spawn(t, m, map[string]any{"type": "worker", "task": "forever"})
	m.Wait()

	rec, err := s.GetAgent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.AgentTimedOut, rec.Status)
}

func TestStatusAndResultLifecycle(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeRunner{result: RunResult{Output: "answer"}})
	id := spawn(t, m, map[string]any{"type": "worker", "task": "compute"})
	m.Wait()

	status := handle(t, m, "agent_status", map[string]any{"id": id})
	assert.Equal(t, "completed", status["status"])

	result := handle(t, m, "agent_result", map[string]any{"id": id})
	assert.Contains(t, result["result"], "answer")
}

func TestResultBeforeFinishRejected(t *testing.T) {
	runner := &fakeRunner{block: true}
	m, s, _ := newTestManager(t, runner, WithTimeout(time.Minute))

	rec, err := s.CreateAgent(context.Background(), "worker", "pending work", "")
	require.NoError(t, err)

	_, err = m.Handle(context.Background(), "agent_result", map[string]any{"id": rec.ID})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestSpawnRejectsUnknownParentTask(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeRunner{})
	_, err := m.Handle(context.Background(), "agent_spawn",
		map[string]any{"type": "worker", "task": "x", "parentTaskId": "missing"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestStatusUnknownAgent(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeRunner{})
	_, err := m.Handle(context.Background(), "agent_status", map[string]any{"id": "nope"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
