package planning

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, hooks.NewBus(logging.Nop()), logging.Nop()), s
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

func createTask(t *testing.T, m *Manager, args map[string]any) string {
	t.Helper()
	payload := handle(t, m, "planning_create", args)
	task := payload["task"].(map[string]any)
	return task["id"].(string)
}

func TestCreateAndTreeLayout(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	createTask(t, m, map[string]any{"content": "B", "parentId": a, "status": "in-progress"})
	createTask(t, m, map[string]any{"content": "C", "parentId": a, "status": "completed"})

	payload := handle(t, m, "planning_tree", map[string]any{})
	tree := payload["asciiTree"].(string)
	lines := strings.Split(tree, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[ ] A", lines[0])
	assert.Equal(t, "├── [~] B", lines[1])
	assert.Equal(t, "└── [x] C", lines[2])

	summary := payload["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(1), summary["pending"])
	assert.Equal(t, float64(1), summary["inProgress"])
	assert.Equal(t, float64(1), summary["completed"])
}

func TestCreateRejectsMissingParent(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Handle(context.Background(), "planning_create",
		map[string]any{"content": "orphan", "parentId": "no-such-id"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestCycleRejectionLeavesTreeUnchanged(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	b := createTask(t, m, map[string]any{"content": "B", "parentId": a})

	_, err := m.Handle(context.Background(), "planning_update",
		map[string]any{"id": a, "parentId": b})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCycleDetected))

	payload := handle(t, m, "planning_tree", map[string]any{})
	tree := payload["asciiTree"].(string)
	lines := strings.Split(tree, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[ ] A", lines[0])
	assert.Equal(t, "└── [ ] B", lines[1])
}

func TestSelfParentRejected(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})

	_, err := m.Handle(context.Background(), "planning_update",
		map[string]any{"id": a, "parentId": a})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCycleDetected))
}

func TestDeepCycleRejected(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	b := createTask(t, m, map[string]any{"content": "B", "parentId": a})
	c := createTask(t, m, map[string]any{"content": "C", "parentId": b})

	_, err := m.Handle(context.Background(), "planning_update",
		map[string]any{"id": a, "parentId": c})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCycleDetected))
}

func TestDeleteCascadesSubtree(t *testing.T) {
	m, s := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	b := createTask(t, m, map[string]any{"content": "B", "parentId": a})
	createTask(t, m, map[string]any{"content": "C", "parentId": b})

	payload := handle(t, m, "planning_delete", map[string]any{"id": a})
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(3), payload["removed"])

	tasks, err := s.ListTasks(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestUpdateCompletionStampAndReparent(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	b := createTask(t, m, map[string]any{"content": "B", "parentId": a})

	payload := handle(t, m, "planning_update", map[string]any{"id": b, "status": "completed"})
	task := payload["task"].(map[string]any)
	assert.Equal(t, "completed", task["status"])
	assert.NotEmpty(t, task["completedAt"])

	// Reparent to root with an explicit empty string.
	payload = handle(t, m, "planning_update", map[string]any{"id": b, "parentId": ""})
	task = payload["task"].(map[string]any)
	_, hasParent := task["parentId"]
	assert.False(t, hasParent)
}

func TestTDDTaskRendersPhase(t *testing.T) {
	m, _ := newTestManager(t)
	createTask(t, m, map[string]any{
		"content": "write failing test", "type": "tdd",
		"tddStatus": "red", "testPath": "pkg/foo_test.go",
	})

	payload := handle(t, m, "planning_tree", map[string]any{})
	assert.Contains(t, payload["asciiTree"].(string), "(tdd:red)")
}

func TestTreeSubtreeRoot(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})
	b := createTask(t, m, map[string]any{"content": "B", "parentId": a})
	createTask(t, m, map[string]any{"content": "C", "parentId": b})
	createTask(t, m, map[string]any{"content": "other root"})

	payload := handle(t, m, "planning_tree", map[string]any{"rootId": b})
	tree := payload["asciiTree"].(string)
	assert.Equal(t, "[ ] B\n└── [ ] C", tree)
}

func TestMarkCompletedSkipsUnknownIDs(t *testing.T) {
	m, s := newTestManager(t)
	a := createTask(t, m, map[string]any{"content": "A"})

	err := m.MarkCompleted(context.Background(), []string{a, "missing"})
	require.NoError(t, err)

	task, err := s.GetTask(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)
}
