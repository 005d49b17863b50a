package memory

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

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m, err := New(context.Background(), s, hooks.NewBus(logging.Nop()), logging.Nop())
	require.NoError(t, err)
	return m, s
}

func handle(t *testing.T, m *Manager, name string, args map[string]any) map[string]any {
	t.Helper()
	result, err := m.Handle(context.Background(), name, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func TestMemoryRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	saved := handle(t, m, "memory_save", map[string]any{"key": "pref", "value": "dark"})
	id, ok := saved["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	listed := handle(t, m, "memory_list", map[string]any{})
	assert.Equal(t, float64(1), listed["count"])

	recalled := handle(t, m, "memory_recall", map[string]any{"query": "dark"})
	results, ok := recalled["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	entry := first["memory"].(map[string]any)
	assert.Equal(t, id, entry["id"])
	assert.Greater(t, first["score"].(float64), 0.0)
	assert.Equal(t, float64(1), entry["accessCount"])

	forgotten := handle(t, m, "memory_forget", map[string]any{"id": id})
	assert.Equal(t, true, forgotten["success"])

	listed = handle(t, m, "memory_list", map[string]any{})
	assert.Equal(t, float64(0), listed["count"])
}

func TestRecallEmptyQueryReturnsNothing(t *testing.T) {
	m, _ := newTestManager(t)
	handle(t, m, "memory_save", map[string]any{"key": "k", "value": "anything at all"})

	results := m.Recall(context.Background(), "   ", 10, "")
	assert.Empty(t, results)
}

func TestRecallHonorsLimitAndOrdering(t *testing.T) {
	m, _ := newTestManager(t)
	handle(t, m, "memory_save", map[string]any{"key": "editor", "value": "dark theme dark mode dark"})
	handle(t, m, "memory_save", map[string]any{"key": "terminal", "value": "dark background"})
	handle(t, m, "memory_save", map[string]any{"key": "unrelated", "value": "coffee order"})

	results := m.Recall(context.Background(), "dark", 1, "")
	require.Len(t, results, 1)
	assert.Equal(t, "editor", results[0].Memory.Key)

	all := m.Recall(context.Background(), "dark", 10, "")
	require.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].Score, all[1].Score)
}

func TestRecallCategoryFilter(t *testing.T) {
	m, _ := newTestManager(t)
	handle(t, m, "memory_save", map[string]any{
		"key": "a", "value": "shared term",
		"metadata": map[string]any{"category": "work"},
	})
	handle(t, m, "memory_save", map[string]any{
		"key": "b", "value": "shared term",
		"metadata": map[string]any{"category": "personal"},
	})

	results := m.Recall(context.Background(), "shared", 10, "work")
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Memory.Key)
}

func TestForgetIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	saved := handle(t, m, "memory_save", map[string]any{"key": "once", "value": "twice"})
	id := saved["id"].(string)

	first := handle(t, m, "memory_forget", map[string]any{"id": id})
	assert.Equal(t, true, first["success"])
	second := handle(t, m, "memory_forget", map[string]any{"id": id})
	assert.Equal(t, false, second["success"])
}

func TestSaveRequiresKeyAndValue(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Handle(context.Background(), "memory_save", map[string]any{"key": "only-key"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestUnknownToolName(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Handle(context.Background(), "memory_explode", nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestIndexRebuiltFromStore(t *testing.T) {
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.SaveMemory(context.Background(), "persisted", "survives restart", "", nil)
	require.NoError(t, err)

	m, err := New(context.Background(), s, hooks.NewBus(logging.Nop()), logging.Nop())
	require.NoError(t, err)

	results := m.Recall(context.Background(), "survives", 10, "")
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Memory.Key)
}

func TestSaveFiresMemorySavedHook(t *testing.T) {
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := hooks.NewBus(logging.Nop())
	var fired *hooks.Event
	bus.Register(hooks.MemorySaved, func(e *hooks.Event) error {
		fired = e
		return nil
	})

	m, err := New(context.Background(), s, bus, logging.Nop())
	require.NoError(t, err)

	handle(t, m, "memory_save", map[string]any{"key": "hooked", "value": "observed"})
	require.NotNil(t, fired)
	assert.Equal(t, "hooked", fired.Data["key"])
}
