// Package guide serves the markdown guide corpus: relevance search
// plus a per-session tutorial stepper.
package guide

import (
	"context"
	"strings"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/search"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// ProviderID is the guide feature namespace.
const ProviderID = "internal:guide"

const (
	defaultSearchLimit = 5
	defaultSessionID   = "default"
)

// Manager owns the guide corpus and its search index.
type Manager struct {
	store  *store.Store
	index  *search.Index
	bus    *hooks.Bus
	logger logging.Logger
}

// New builds the manager, seeds the corpus when the table is empty and
// indexes every guide.
func New(ctx context.Context, s *store.Store, bus *hooks.Bus, logger logging.Logger) (*Manager, error) {
	m := &Manager{
		store:  s,
		index:  search.NewIndex(),
		bus:    bus,
		logger: logging.OrNop(logger),
	}

	count, err := s.CountGuides(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		for _, g := range seedGuides {
			if _, err := s.UpsertGuide(ctx, g); err != nil {
				return nil, err
			}
		}
		m.logger.Info("seeded %d guides", len(seedGuides))
	}

	guides, err := s.ListGuides(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, g := range guides {
		m.index.AddOrReplace(g.ID, indexableText(g))
	}
	return m, nil
}

func indexableText(g store.Guide) string {
	parts := []string{g.Title, g.Excerpt, g.Content}
	parts = append(parts, g.Tags...)
	return strings.Join(parts, " ")
}

// ProviderID implements features.Manager.
func (m *Manager) ProviderID() string { return ProviderID }

// Definitions implements features.Manager.
func (m *Manager) Definitions() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "guide_search",
			ProviderID:  ProviderID,
			Description: "Search the guide corpus by relevance",
			Category:    "guide",
			Keywords:    []string{"guide", "help", "documentation", "search", "learn"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"query":      tool.Prop("string", "Free-text query"),
				"category":   tool.Prop("string", "Restrict to one category"),
				"difficulty": tool.Prop("string", "beginner | intermediate | advanced"),
				"limit":      tool.Prop("integer", "Maximum results, default 5"),
			}, "query"),
		},
		{
			Name:        "guide_tutorial",
			ProviderID:  ProviderID,
			Description: "Step through a guide interactively",
			Category:    "guide",
			Keywords:    []string{"guide", "tutorial", "stepper", "learn"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"action":    tool.Prop("string", "start | next | previous | check | hint | complete | reset"),
				"guideId":   tool.Prop("string", "Guide id"),
				"sessionId": tool.Prop("string", "Caller session; defaults to a shared session"),
			}, "action", "guideId"),
		},
	}
}

// Handle implements features.Manager.
func (m *Manager) Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	switch name {
	case "guide_search":
		return m.search(ctx, args)
	case "guide_tutorial":
		return m.tutorial(ctx, args)
	default:
		return nil, errs.NotFound("unknown guide tool: %s", name)
	}
}

// SearchResult pairs a guide with its relevance score. The body is
// omitted; callers fetch it through the tutorial stepper.
type SearchResult struct {
	ID         string   `json:"id"`
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Category   string   `json:"category,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Score      float64  `json:"score"`
}

func (m *Manager) search(ctx context.Context, args map[string]any) (*tool.Result, error) {
	query, err := tool.StringArg(args, "query", true)
	if err != nil {
		return nil, err
	}
	category, err := tool.StringArg(args, "category", false)
	if err != nil {
		return nil, err
	}
	difficulty, err := tool.StringArg(args, "difficulty", false)
	if err != nil {
		return nil, err
	}
	limit, err := tool.IntArg(args, "limit", defaultSearchLimit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	matches := m.index.Search(query, 0, 0)
	results := make([]SearchResult, 0, limit)
	for _, match := range matches {
		if len(results) >= limit {
			break
		}
		g, err := m.store.GetGuide(ctx, match.Name)
		if err != nil {
			m.index.Remove(match.Name)
			continue
		}
		if category != "" && g.Category != category {
			continue
		}
		if difficulty != "" && g.Difficulty != difficulty {
			continue
		}
		results = append(results, SearchResult{
			ID: g.ID, Slug: g.Slug, Title: g.Title,
			Category: g.Category, Difficulty: g.Difficulty,
			Excerpt: g.Excerpt, Tags: g.Tags, Score: match.Score,
		})
	}

	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.GuideQueried,
			ToolName: "guide_search",
			Data:     map[string]any{"query": query, "count": len(results)},
		})
	}
	return tool.JSONResult(map[string]any{"results": results})
}

func (m *Manager) tutorial(ctx context.Context, args map[string]any) (*tool.Result, error) {
	action, err := tool.StringArg(args, "action", true)
	if err != nil {
		return nil, err
	}
	guideID, err := tool.StringArg(args, "guideId", true)
	if err != nil {
		return nil, err
	}
	sessionID, err := tool.StringArg(args, "sessionId", false)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	g, err := m.store.GetGuide(ctx, guideID)
	if err != nil {
		return nil, err
	}
	steps := splitSteps(g.Content)
	if len(steps) == 0 {
		return nil, errs.Internal(nil, "guide %s has no steps", g.Slug)
	}

	switch action {
	case "start":
		progress := store.LearningProgress{
			GuideID: guideID, SessionID: sessionID,
			Status: store.ProgressStarted, Step: 0,
		}
		if err := m.store.SaveProgress(ctx, progress); err != nil {
			return nil, err
		}
		return m.stepResult(g, steps, progress)

	case "next", "previous":
		progress, err := m.store.GetProgress(ctx, guideID, sessionID)
		if err != nil {
			return nil, errs.InvalidInput("tutorial not started for guide %s", g.Slug)
		}
		if action == "next" && progress.Step < len(steps)-1 {
			progress.Step++
		}
		if action == "previous" && progress.Step > 0 {
			progress.Step--
		}
		progress.Status = store.ProgressInProgress
		if err := m.store.SaveProgress(ctx, *progress); err != nil {
			return nil, err
		}
		return m.stepResult(g, steps, *progress)

	case "check":
		progress, err := m.store.GetProgress(ctx, guideID, sessionID)
		if err != nil {
			return tool.JSONResult(map[string]any{
				"guideId": guideID, "started": false, "totalSteps": len(steps),
			})
		}
		return tool.JSONResult(map[string]any{
			"guideId": guideID, "started": true,
			"status": progress.Status, "step": progress.Step, "totalSteps": len(steps),
		})

	case "hint":
		progress, err := m.store.GetProgress(ctx, guideID, sessionID)
		if err != nil {
			return nil, errs.InvalidInput("tutorial not started for guide %s", g.Slug)
		}
		return tool.JSONResult(map[string]any{
			"guideId": guideID, "step": progress.Step,
			"hint": steps[progress.Step].Heading,
		})

	case "complete":
		progress := store.LearningProgress{
			GuideID: guideID, SessionID: sessionID,
			Status: store.ProgressCompleted, Step: len(steps) - 1,
		}
		if err := m.store.SaveProgress(ctx, progress); err != nil {
			return nil, err
		}
		return tool.JSONResult(map[string]any{
			"guideId": guideID, "status": store.ProgressCompleted,
		})

	case "reset":
		if err := m.store.DeleteProgress(ctx, guideID, sessionID); err != nil {
			return nil, err
		}
		return tool.JSONResult(map[string]any{"guideId": guideID, "reset": true})

	default:
		return nil, errs.InvalidInput("unknown tutorial action: %s", action)
	}
}

func (m *Manager) stepResult(g *store.Guide, steps []step, progress store.LearningProgress) (*tool.Result, error) {
	current := steps[progress.Step]
	return tool.JSONResult(map[string]any{
		"guideId":    g.ID,
		"title":      g.Title,
		"status":     progress.Status,
		"step":       progress.Step,
		"totalSteps": len(steps),
		"heading":    current.Heading,
		"body":       current.Body,
	})
}

type step struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// splitSteps breaks the markdown body into steps at second-level
// headings. Text before the first "## " belongs to no step.
func splitSteps(content string) []step {
	var out []step
	var current *step
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			if current != nil {
				current.Body = strings.TrimSpace(current.Body)
				out = append(out, *current)
			}
			current = &step{Heading: strings.TrimPrefix(line, "## ")}
			continue
		}
		if current != nil {
			current.Body += line + "\n"
		}
	}
	if current != nil {
		current.Body = strings.TrimSpace(current.Body)
		out = append(out, *current)
	}
	return out
}
