package features

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"metatool/internal/errs"
	"metatool/internal/features/agents"
	"metatool/internal/features/guide"
	"metatool/internal/features/memory"
	"metatool/internal/features/planning"
	"metatool/internal/features/science"
	"metatool/internal/features/tdd"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// CoordinatorOptions carries the pluggable capabilities; nil fields get
// built-in fallbacks.
type CoordinatorOptions struct {
	TestRunner     tdd.Runner
	AgentRunner    agents.Runner
	ComputeBackend science.ComputeBackend
}

// Coordinator constructs the feature managers in dependency order, owns
// the hook bus and routes internal tool calls to the owning manager.
type Coordinator struct {
	bus      *hooks.Bus
	store    *store.Store
	logger   logging.Logger
	managers map[string]Manager

	memory   *memory.Manager
	planning *planning.Manager
	tdd      *tdd.Manager
	agents   *agents.Manager
	guide    *guide.Manager
	science  *science.Manager
}

// NewCoordinator builds every manager and installs the built-in hook
// subscriptions.
func NewCoordinator(ctx context.Context, s *store.Store, opts CoordinatorOptions, logger logging.Logger) (*Coordinator, error) {
	logger = logging.OrNop(logger)
	bus := hooks.NewBus(logger)

	c := &Coordinator{
		bus:      bus,
		store:    s,
		logger:   logger,
		managers: make(map[string]Manager),
	}

	var err error
	if c.memory, err = memory.New(ctx, s, bus, logger); err != nil {
		return nil, fmt.Errorf("construct memory manager: %w", err)
	}
	c.planning = planning.New(s, bus, logger)
	c.tdd = tdd.New(s, opts.TestRunner, bus, logger)
	c.agents = agents.New(s, opts.AgentRunner, bus, logger)
	if c.guide, err = guide.New(ctx, s, bus, logger); err != nil {
		return nil, fmt.Errorf("construct guide manager: %w", err)
	}
	backend := opts.ComputeBackend
	if backend == nil {
		backend = science.StatsBackend{}
	}
	c.science = science.New(backend, bus, logger)

	for _, m := range []Manager{c.memory, c.planning, c.tdd, c.agents, c.guide, c.science} {
		c.managers[m.ProviderID()] = m
	}

	c.subscribe()
	return c, nil
}

// Bus exposes the hook bus; the gateway fires lifecycle events on it.
func (c *Coordinator) Bus() *hooks.Bus { return c.bus }

// Definitions returns the union of every manager's tool catalog.
func (c *Coordinator) Definitions() []tool.Descriptor {
	var out []tool.Descriptor
	for _, m := range []Manager{c.memory, c.planning, c.tdd, c.agents, c.guide, c.science} {
		out = append(out, m.Definitions()...)
	}
	return out
}

// ProviderIDs lists the internal provider namespaces in construction
// order.
func (c *Coordinator) ProviderIDs() []string {
	out := make([]string, 0, len(c.managers))
	for _, m := range []Manager{c.memory, c.planning, c.tdd, c.agents, c.guide, c.science} {
		out = append(out, m.ProviderID())
	}
	return out
}

// Route dispatches an internal tool call to the owning manager. The
// second return is false when providerID is not an internal namespace;
// the caller then falls through to external providers.
func (c *Coordinator) Route(ctx context.Context, providerID, name string, args map[string]any) (*tool.Result, bool, error) {
	if !strings.HasPrefix(providerID, tool.InternalPrefix) {
		return nil, false, nil
	}
	m, ok := c.managers[providerID]
	if !ok {
		return nil, true, errs.NotFound("unknown internal provider: %s", providerID)
	}
	result, err := m.Handle(ctx, name, args)
	return result, true, err
}

// Close drains background work owned by the managers.
func (c *Coordinator) Close() error {
	c.agents.Wait()
	return nil
}

// recordedTool reports whether a tool's results get persisted to
// memory by the built-in PostToolUse subscription.
func recordedTool(name string) bool {
	return name == "memory_save" || name == "planning_create" || strings.HasPrefix(name, "tdd_")
}

func (c *Coordinator) subscribe() {
	c.bus.Register(hooks.PostToolUse, c.recordToolResult,
		hooks.WithPriority(hooks.PriorityMedium), hooks.WithDescription("record-tool-result"))
	c.bus.Register(hooks.AgentCompleted, c.completeAgentTodos,
		hooks.WithDescription("complete-agent-todos"))
	c.bus.Register(hooks.ContextFull, c.snapshotContext,
		hooks.WithDescription("snapshot-context"))
	c.bus.Register(hooks.SessionStart, c.announceSnapshot,
		hooks.WithDescription("announce-snapshot"))
}

func (c *Coordinator) recordToolResult(e *hooks.Event) error {
	if !recordedTool(e.ToolName) {
		return nil
	}
	record := map[string]any{"tool": e.ToolName, "args": e.ToolArgs}
	if e.ToolResult != nil {
		record["result"] = e.ToolResult
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = c.memory.Save(context.Background(),
		"tool_result:"+e.ToolName, string(encoded), "tool_execution", nil)
	return err
}

func (c *Coordinator) completeAgentTodos(e *hooks.Event) error {
	result, ok := e.Data["result"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := result["todoIds"].([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		if id, ok := item.(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return c.planning.MarkCompleted(context.Background(), ids)
}

func (c *Coordinator) snapshotContext(e *hooks.Event) error {
	ctx := context.Background()
	memories, err := c.memory.Snapshot(ctx)
	if err != nil {
		return err
	}
	tasks, err := c.planning.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(map[string]any{"memories": memories, "tasks": tasks})
	if err != nil {
		return err
	}
	_, err = c.store.SaveSnapshot(ctx, e.SessionID, string(data), map[string]string{
		"memories": fmt.Sprintf("%d", len(memories)),
		"tasks":    fmt.Sprintf("%d", len(tasks)),
	})
	return err
}

func (c *Coordinator) announceSnapshot(e *hooks.Event) error {
	snap, err := c.store.LatestSnapshot(context.Background(), e.SessionID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	c.logger.Info("session %s has a restorable snapshot from %s", e.SessionID, snap.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
