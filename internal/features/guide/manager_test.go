package guide

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
	require.Len(t, result.Content, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	return payload
}

func TestSeedsInsertedOnlyWhenEmpty(t *testing.T) {
	m, s := newTestManager(t)
	count, err := s.CountGuides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(seedGuides), count)
	_ = m

	// A second manager over the same store must not reseed.
	m2, err := New(context.Background(), s, hooks.NewBus(logging.Nop()), logging.Nop())
	require.NoError(t, err)
	count, err = s.CountGuides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(seedGuides), count)
	_ = m2
}

func TestSearchRanksRelevantGuideFirst(t *testing.T) {
	m, _ := newTestManager(t)
	payload := handle(t, m, "guide_search", map[string]any{"query": "recall memories by relevance"})

	results := payload["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, "memory-basics", first["slug"])
	assert.Greater(t, first["score"].(float64), 0.0)
}

func TestSearchFilters(t *testing.T) {
	m, _ := newTestManager(t)
	payload := handle(t, m, "guide_search", map[string]any{
		"query": "tasks tree planning", "difficulty": "intermediate",
	})
	results := payload["results"].([]any)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "intermediate", r.(map[string]any)["difficulty"])
	}
}

func TestSearchLimit(t *testing.T) {
	m, _ := newTestManager(t)
	payload := handle(t, m, "guide_search", map[string]any{"query": "guide tools", "limit": 1})
	assert.LessOrEqual(t, len(payload["results"].([]any)), 1)
}

func guideID(t *testing.T, s *store.Store, slug string) string {
	t.Helper()
	guides, err := s.ListGuides(context.Background(), "")
	require.NoError(t, err)
	for _, g := range guides {
		if g.Slug == slug {
			return g.ID
		}
	}
	t.Fatalf("guide %s not found", slug)
	return ""
}

func TestTutorialStepper(t *testing.T) {
	m, s := newTestManager(t)
	id := guideID(t, s, "memory-basics")

	started := handle(t, m, "guide_tutorial", map[string]any{"action": "start", "guideId": id})
	assert.Equal(t, float64(0), started["step"])
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, "Save a fact", started["heading"])
	assert.Equal(t, float64(3), started["totalSteps"])

	next := handle(t, m, "guide_tutorial", map[string]any{"action": "next", "guideId": id})
	assert.Equal(t, float64(1), next["step"])
	assert.Equal(t, "Recall by relevance", next["heading"])

	prev := handle(t, m, "guide_tutorial", map[string]any{"action": "previous", "guideId": id})
	assert.Equal(t, float64(0), prev["step"])

	hint := handle(t, m, "guide_tutorial", map[string]any{"action": "hint", "guideId": id})
	assert.Equal(t, "Save a fact", hint["hint"])

	check := handle(t, m, "guide_tutorial", map[string]any{"action": "check", "guideId": id})
	assert.Equal(t, true, check["started"])

	done := handle(t, m, "guide_tutorial", map[string]any{"action": "complete", "guideId": id})
	assert.Equal(t, "completed", done["status"])

	reset := handle(t, m, "guide_tutorial", map[string]any{"action": "reset", "guideId": id})
	assert.Equal(t, true, reset["reset"])

	check = handle(t, m, "guide_tutorial", map[string]any{"action": "check", "guideId": id})
	assert.Equal(t, false, check["started"])
}

func TestNextClampsAtLastStep(t *testing.T) {
	m, s := newTestManager(t)
	id := guideID(t, s, "memory-basics")
	handle(t, m, "guide_tutorial", map[string]any{"action": "start", "guideId": id})
	for i := 0; i < 10; i++ {
		handle(t, m, "guide_tutorial", map[string]any{"action": "next", "guideId": id})
	}
	check := handle(t, m, "guide_tutorial", map[string]any{"action": "check", "guideId": id})
	assert.Equal(t, float64(2), check["step"])
}

func TestNextWithoutStartRejected(t *testing.T) {
	m, s := newTestManager(t)
	id := guideID(t, s, "memory-basics")
	_, err := m.Handle(context.Background(), "guide_tutorial",
		map[string]any{"action": "next", "guideId": id})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestSessionsTrackProgressIndependently(t *testing.T) {
	m, s := newTestManager(t)
	id := guideID(t, s, "memory-basics")

	handle(t, m, "guide_tutorial", map[string]any{"action": "start", "guideId": id, "sessionId": "a"})
	handle(t, m, "guide_tutorial", map[string]any{"action": "next", "guideId": id, "sessionId": "a"})
	handle(t, m, "guide_tutorial", map[string]any{"action": "start", "guideId": id, "sessionId": "b"})

	a := handle(t, m, "guide_tutorial", map[string]any{"action": "check", "guideId": id, "sessionId": "a"})
	b := handle(t, m, "guide_tutorial", map[string]any{"action": "check", "guideId": id, "sessionId": "b"})
	assert.Equal(t, float64(1), a["step"])
	assert.Equal(t, float64(0), b["step"])
}

func TestUnknownGuideRejected(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Handle(context.Background(), "guide_tutorial",
		map[string]any{"action": "start", "guideId": "missing"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestUnknownActionRejected(t *testing.T) {
	m, s := newTestManager(t)
	id := guideID(t, s, "memory-basics")
	_, err := m.Handle(context.Background(), "guide_tutorial",
		map[string]any{"action": "teleport", "guideId": id})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestSearchFiresGuideQueried(t *testing.T) {
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := hooks.NewBus(logging.Nop())
	var fired bool
	bus.Register(hooks.GuideQueried, func(*hooks.Event) error {
		fired = true
		return nil
	})
	m, err := New(context.Background(), s, bus, logging.Nop())
	require.NoError(t, err)

	handle(t, m, "guide_search", map[string]any{"query": "memory"})
	assert.True(t, fired)
}

func TestSplitSteps(t *testing.T) {
	steps := splitSteps("# Title\n\nintro\n\n## One\nbody one\n\n## Two\nbody two\n")
	require.Len(t, steps, 2)
	assert.Equal(t, "One", steps[0].Heading)
	assert.Equal(t, "body one", steps[0].Body)
	assert.Equal(t, "Two", steps[1].Heading)
}
