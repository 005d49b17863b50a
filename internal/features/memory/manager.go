// Package memory implements the persistent key/value memory feature:
// save, recall with BM25 relevance, list and forget.
package memory

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

// ProviderID is the memory feature namespace.
const ProviderID = "internal:memory"

const defaultRecallLimit = 10

// Manager owns the memory schema slice and its recall index. The index
// is a derived projection of the memory table, rebuilt at construction.
type Manager struct {
	store  *store.Store
	index  *search.Index
	bus    *hooks.Bus
	logger logging.Logger
}

// New builds the manager and replays persisted entries into the recall
// index.
func New(ctx context.Context, s *store.Store, bus *hooks.Bus, logger logging.Logger) (*Manager, error) {
	m := &Manager{
		store:  s,
		index:  search.NewIndex(),
		bus:    bus,
		logger: logging.OrNop(logger),
	}
	entries, err := s.ListMemories(ctx, store.MemoryFilter{})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		m.index.AddOrReplace(entry.ID, indexableText(entry))
	}
	m.logger.Debug("memory index rebuilt with %d entries", len(entries))
	return m, nil
}

func indexableText(entry store.MemoryEntry) string {
	return strings.Join(append([]string{entry.Key, entry.Value}, entry.Tags...), " ")
}

// ProviderID implements features.Manager.
func (m *Manager) ProviderID() string { return ProviderID }

// Definitions implements features.Manager.
func (m *Manager) Definitions() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "memory_save",
			ProviderID:  ProviderID,
			Description: "Save a key/value memory entry with optional category and tags",
			Category:    "memory",
			Keywords:    []string{"memory", "save", "remember", "store"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"key":   tool.Prop("string", "Lookup key; does not need to be unique"),
				"value": tool.Prop("string", "Content to remember"),
				"metadata": map[string]any{
					"type":        "object",
					"description": "Optional category (string) and tags (string array)",
				},
			}, "key", "value"),
		},
		{
			Name:        "memory_recall",
			ProviderID:  ProviderID,
			Description: "Recall memories ranked by relevance to a query",
			Category:    "memory",
			Keywords:    []string{"memory", "recall", "search", "relevance"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"query":    tool.Prop("string", "Free-text query"),
				"limit":    tool.Prop("integer", "Maximum results, default 10"),
				"category": tool.Prop("string", "Restrict to one category"),
			}, "query"),
		},
		{
			Name:        "memory_list",
			ProviderID:  ProviderID,
			Description: "List memories newest-first with optional filters",
			Category:    "memory",
			Keywords:    []string{"memory", "list"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"filter": map[string]any{
					"type":        "object",
					"description": "Optional category (string) and tags (string array) filter",
				},
				"limit": tool.Prop("integer", "Maximum results"),
			}),
		},
		{
			Name:        "memory_forget",
			ProviderID:  ProviderID,
			Description: "Delete one memory entry by id",
			Category:    "memory",
			Keywords:    []string{"memory", "forget", "delete"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"id": tool.Prop("string", "Memory id to delete"),
			}, "id"),
		},
	}
}

// Handle implements features.Manager.
func (m *Manager) Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	switch name {
	case "memory_save":
		return m.save(ctx, args)
	case "memory_recall":
		return m.recall(ctx, args)
	case "memory_list":
		return m.list(ctx, args)
	case "memory_forget":
		return m.forget(ctx, args)
	default:
		return nil, errs.NotFound("unknown memory tool: %s", name)
	}
}

// Save stores an entry directly; hook handlers use this to persist
// records without going through the tool surface.
func (m *Manager) Save(ctx context.Context, key, value, category string, tags []string) (*store.MemoryEntry, error) {
	entry, err := m.store.SaveMemory(ctx, key, value, category, tags)
	if err != nil {
		return nil, err
	}
	m.index.AddOrReplace(entry.ID, indexableText(*entry))
	return entry, nil
}

func (m *Manager) save(ctx context.Context, args map[string]any) (*tool.Result, error) {
	key, err := tool.StringArg(args, "key", true)
	if err != nil {
		return nil, err
	}
	value, err := tool.StringArg(args, "value", true)
	if err != nil {
		return nil, err
	}
	metadata, err := tool.MapArg(args, "metadata")
	if err != nil {
		return nil, err
	}
	category, err := tool.StringArg(metadata, "category", false)
	if err != nil {
		return nil, err
	}
	tags, err := tool.StringSliceArg(metadata, "tags")
	if err != nil {
		return nil, err
	}

	entry, err := m.Save(ctx, key, value, category, tags)
	if err != nil {
		return nil, err
	}
	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.MemorySaved,
			ToolName: "memory_save",
			Data:     map[string]any{"id": entry.ID, "key": entry.Key},
		})
	}
	return tool.JSONResult(map[string]any{"id": entry.ID, "memory": entry})
}

func (m *Manager) recall(ctx context.Context, args map[string]any) (*tool.Result, error) {
	q, err := tool.StringArg(args, "query", false)
	if err != nil {
		return nil, err
	}
	limit, err := tool.IntArg(args, "limit", defaultRecallLimit)
	if err != nil {
		return nil, err
	}
	category, err := tool.StringArg(args, "category", false)
	if err != nil {
		return nil, err
	}

	results := m.Recall(ctx, q, limit, category)
	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.MemoryRecalled,
			ToolName: "memory_recall",
			Data:     map[string]any{"query": q, "count": len(results)},
		})
	}
	return tool.JSONResult(map[string]any{"results": results})
}

// RecallResult pairs an entry with its relevance score.
type RecallResult struct {
	Memory store.MemoryEntry `json:"memory"`
	Score  float64           `json:"score"`
}

// Recall scores memories against the query, optionally restricted to a
// category, and bumps access counts on the returned rows. An empty
// query returns nothing.
func (m *Manager) Recall(ctx context.Context, q string, limit int, category string) []RecallResult {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if limit <= 0 {
		limit = defaultRecallLimit
	}

	matches := m.index.Search(q, 0, 0)
	out := make([]RecallResult, 0, limit)
	var touched []string
	for _, match := range matches {
		if len(out) >= limit {
			break
		}
		entry, err := m.store.GetMemory(ctx, match.Name)
		if err != nil {
			// Index ahead of the table; drop the stale document.
			m.index.Remove(match.Name)
			continue
		}
		if category != "" && entry.Category != category {
			continue
		}
		entry.AccessCount++
		out = append(out, RecallResult{Memory: *entry, Score: match.Score})
		touched = append(touched, entry.ID)
	}
	if err := m.store.TouchMemories(ctx, touched); err != nil {
		m.logger.Warn("failed to bump access counts: %v", err)
	}
	return out
}

func (m *Manager) list(ctx context.Context, args map[string]any) (*tool.Result, error) {
	filter, err := tool.MapArg(args, "filter")
	if err != nil {
		return nil, err
	}
	category, err := tool.StringArg(filter, "category", false)
	if err != nil {
		return nil, err
	}
	tags, err := tool.StringSliceArg(filter, "tags")
	if err != nil {
		return nil, err
	}
	limit, err := tool.IntArg(args, "limit", 0)
	if err != nil {
		return nil, err
	}

	memories, err := m.store.ListMemories(ctx, store.MemoryFilter{Category: category, Tags: tags, Limit: limit})
	if err != nil {
		return nil, err
	}
	return tool.JSONResult(map[string]any{"memories": memories, "count": len(memories)})
}

func (m *Manager) forget(ctx context.Context, args map[string]any) (*tool.Result, error) {
	id, err := tool.StringArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	deleted, err := m.store.DeleteMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if deleted {
		m.index.Remove(id)
	}
	return tool.JSONResult(map[string]any{"success": deleted})
}

// Snapshot serializes the current memory state for context snapshots.
func (m *Manager) Snapshot(ctx context.Context) ([]store.MemoryEntry, error) {
	return m.store.ListMemories(ctx, store.MemoryFilter{})
}
