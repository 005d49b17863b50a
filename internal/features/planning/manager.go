// Package planning implements the hierarchical task tracker: create,
// update, render and delete nodes of the persistent task forest.
package planning

import (
	"context"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// ProviderID is the planning feature namespace.
const ProviderID = "internal:planning"

// Manager owns the task schema slice.
type Manager struct {
	store  *store.Store
	bus    *hooks.Bus
	logger logging.Logger
}

// New builds the manager.
func New(s *store.Store, bus *hooks.Bus, logger logging.Logger) *Manager {
	return &Manager{store: s, bus: bus, logger: logging.OrNop(logger)}
}

// ProviderID implements features.Manager.
func (m *Manager) ProviderID() string { return ProviderID }

// Definitions implements features.Manager.
func (m *Manager) Definitions() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "planning_create",
			ProviderID:  ProviderID,
			Description: "Create a task, optionally beneath a parent task",
			Category:    "planning",
			Keywords:    []string{"task", "todo", "plan", "create"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"content":   tool.Prop("string", "Task description"),
				"status":    tool.Prop("string", "pending | in-progress | completed"),
				"parentId":  tool.Prop("string", "Existing parent task id"),
				"tags":      tool.ArrayProp("Task tags"),
				"type":      tool.Prop("string", "Set to tdd for TDD tasks"),
				"tddStatus": tool.Prop("string", "red | green | refactor"),
				"testPath":  tool.Prop("string", "Test file path for TDD tasks"),
			}, "content"),
		},
		{
			Name:        "planning_update",
			ProviderID:  ProviderID,
			Description: "Update a task's status, content, parent or tags",
			Category:    "planning",
			Keywords:    []string{"task", "todo", "update", "status"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"content":  tool.Prop("string", "New task description"),
				"id":       tool.Prop("string", "Task id"),
				"status":   tool.Prop("string", "pending | in-progress | completed"),
				"parentId": tool.Prop("string", "New parent id; empty string moves to root"),
				"tags":     tool.ArrayProp("Replacement tag set"),
			}, "id"),
		},
		{
			Name:        "planning_tree",
			ProviderID:  ProviderID,
			Description: "Render the task forest as an ASCII tree with a status summary",
			Category:    "planning",
			Keywords:    []string{"task", "tree", "overview"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"rootId": tool.Prop("string", "Render only the subtree below this id"),
			}),
		},
		{
			Name:        "planning_delete",
			ProviderID:  ProviderID,
			Description: "Delete a task and its whole subtree",
			Category:    "planning",
			Keywords:    []string{"task", "delete", "remove"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"id": tool.Prop("string", "Task id"),
			}, "id"),
		},
	}
}

// Handle implements features.Manager.
func (m *Manager) Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	switch name {
	case "planning_create":
		return m.create(ctx, args)
	case "planning_update":
		return m.update(ctx, args)
	case "planning_tree":
		return m.tree(ctx, args)
	case "planning_delete":
		return m.remove(ctx, args)
	default:
		return nil, errs.NotFound("unknown planning tool: %s", name)
	}
}

func (m *Manager) create(ctx context.Context, args map[string]any) (*tool.Result, error) {
	content, err := tool.StringArg(args, "content", true)
	if err != nil {
		return nil, err
	}
	status, err := tool.StringArg(args, "status", false)
	if err != nil {
		return nil, err
	}
	parentID, err := tool.StringArg(args, "parentId", false)
	if err != nil {
		return nil, err
	}
	tags, err := tool.StringSliceArg(args, "tags")
	if err != nil {
		return nil, err
	}
	typ, err := tool.StringArg(args, "type", false)
	if err != nil {
		return nil, err
	}
	tddStatus, err := tool.StringArg(args, "tddStatus", false)
	if err != nil {
		return nil, err
	}
	testPath, err := tool.StringArg(args, "testPath", false)
	if err != nil {
		return nil, err
	}

	if parentID != "" {
		if _, err := m.store.GetTask(ctx, parentID); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return nil, errs.InvalidInput("parent task not found: %s", parentID)
			}
			return nil, err
		}
	}

	task, err := m.store.CreateTask(ctx, store.Task{
		Content:  content,
		Status:   store.TaskStatus(status),
		ParentID: parentID,
		Tags:     tags,
		Type:     typ,
		TDDPhase: tddStatus,
		TestPath: testPath,
	})
	if err != nil {
		return nil, err
	}
	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.PlanningStarted,
			ToolName: "planning_create",
			Data:     map[string]any{"id": task.ID, "parentId": task.ParentID},
		})
	}
	return tool.JSONResult(map[string]any{"task": task})
}

func (m *Manager) update(ctx context.Context, args map[string]any) (*tool.Result, error) {
	id, err := tool.StringArg(args, "id", true)
	if err != nil {
		return nil, err
	}

	var update store.TaskUpdate
	if raw, ok := args["content"]; ok && raw != nil {
		content, err := tool.StringArg(args, "content", true)
		if err != nil {
			return nil, err
		}
		update.Content = &content
	}
	if raw, ok := args["status"]; ok && raw != nil {
		s, err := tool.StringArg(args, "status", true)
		if err != nil {
			return nil, err
		}
		status := store.TaskStatus(s)
		update.Status = &status
	}
	if raw, ok := args["tags"]; ok && raw != nil {
		tags, err := tool.StringSliceArg(args, "tags")
		if err != nil {
			return nil, err
		}
		update.Tags = &tags
	}
	if raw, ok := args["parentId"]; ok && raw != nil {
		parent, err := tool.StringArg(args, "parentId", false)
		if err != nil {
			return nil, err
		}
		if parent != "" {
			if err := m.checkCycle(ctx, id, parent); err != nil {
				return nil, err
			}
		}
		update.SetParent = true
		update.ParentID = &parent
	}

	task, err := m.store.UpdateTask(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if m.bus != nil && task.Status == store.TaskCompleted && task.ParentID == "" {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.PlanningCompleted,
			ToolName: "planning_update",
			Data:     map[string]any{"id": task.ID},
		})
	}
	return tool.JSONResult(map[string]any{"task": task})
}

// checkCycle walks the ancestors of the prospective parent and rejects
// the assignment when the node itself is encountered.
func (m *Manager) checkCycle(ctx context.Context, id, parentID string) error {
	if id == parentID {
		return errs.CycleDetected("task %s cannot be its own parent", id)
	}
	current := parentID
	for current != "" {
		ancestor, err := m.store.GetTask(ctx, current)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return errs.InvalidInput("parent task not found: %s", parentID)
			}
			return err
		}
		if ancestor.ID == id {
			return errs.CycleDetected("assigning parent %s to task %s would create a cycle", parentID, id)
		}
		current = ancestor.ParentID
	}
	return nil
}

func (m *Manager) tree(ctx context.Context, args map[string]any) (*tool.Result, error) {
	rootID, err := tool.StringArg(args, "rootId", false)
	if err != nil {
		return nil, err
	}
	tasks, err := m.store.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	if rootID != "" {
		if _, err := m.store.GetTask(ctx, rootID); err != nil {
			return nil, err
		}
	}

	rendered := renderTree(tasks, rootID)
	summary := summarize(tasks)
	return tool.JSONResult(map[string]any{"asciiTree": rendered, "summary": summary})
}

func (m *Manager) remove(ctx context.Context, args map[string]any) (*tool.Result, error) {
	id, err := tool.StringArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	removed, err := m.store.DeleteTaskTree(ctx, id)
	if err != nil {
		return nil, err
	}
	return tool.JSONResult(map[string]any{"success": true, "removed": removed})
}

// MarkCompleted flips tasks to completed; the agent-completion hook
// uses this to close out todo items reported by an agent.
func (m *Manager) MarkCompleted(ctx context.Context, ids []string) error {
	done := store.TaskCompleted
	for _, id := range ids {
		if _, err := m.store.UpdateTask(ctx, id, store.TaskUpdate{Status: &done}); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				m.logger.Warn("agent reported unknown todo id %s", id)
				continue
			}
			return err
		}
	}
	return nil
}

// Snapshot serializes the current task state for context snapshots.
func (m *Manager) Snapshot(ctx context.Context) ([]store.Task, error) {
	return m.store.ListTasks(ctx, "")
}
