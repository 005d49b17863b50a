// Package agents spawns background workers, tracks their lifecycle in
// the store and reports completion through the hook bus.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"metatool/internal/async"
	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// ProviderID is the agents feature namespace.
const ProviderID = "internal:agents"

// DefaultTimeout is the soft per-agent deadline.
const DefaultTimeout = 5 * time.Minute

// RunSpec describes the work handed to a Runner.
type RunSpec struct {
	AgentID      string
	Type         string
	Task         string
	ParentTaskID string
}

// RunResult is what a Runner reports back.
type RunResult struct {
	Output  string   `json:"output"`
	TodoIDs []string `json:"todoIds,omitempty"`
}

// Runner executes one agent. Implementations must honor ctx; the
// manager abandons the run when the soft timeout fires.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// echoRunner is the fallback runner when none is injected. It does no
// real work; it acknowledges the task so the lifecycle stays testable.
type echoRunner struct{}

func (echoRunner) Run(_ context.Context, spec RunSpec) (RunResult, error) {
	return RunResult{Output: fmt.Sprintf("agent %s acknowledged task: %s", spec.Type, spec.Task)}, nil
}

// Manager owns the agent lifecycle.
type Manager struct {
	store   *store.Store
	runner  Runner
	bus     *hooks.Bus
	logger  logging.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures the manager.
type Option func(*Manager)

// WithTimeout overrides the soft per-agent deadline.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// New builds the manager; a nil runner gets the echo fallback.
func New(s *store.Store, runner Runner, bus *hooks.Bus, logger logging.Logger, opts ...Option) *Manager {
	if runner == nil {
		runner = echoRunner{}
	}
	m := &Manager{
		store:   s,
		runner:  runner,
		bus:     bus,
		logger:  logging.OrNop(logger),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProviderID implements features.Manager.
func (m *Manager) ProviderID() string { return ProviderID }

// Definitions implements features.Manager.
func (m *Manager) Definitions() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "agent_spawn",
			ProviderID:  ProviderID,
			Description: "Spawn a background agent for a task",
			Category:    "agents",
			Keywords:    []string{"agent", "spawn", "delegate", "background"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"type":         tool.Prop("string", "Agent type label"),
				"task":         tool.Prop("string", "What the agent should do"),
				"parentTaskId": tool.Prop("string", "Planning task this agent works on"),
			}, "type", "task"),
		},
		{
			Name:        "agent_status",
			ProviderID:  ProviderID,
			Description: "Report an agent's lifecycle status",
			Category:    "agents",
			Keywords:    []string{"agent", "status", "progress"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"id": tool.Prop("string", "Agent id"),
			}, "id"),
		},
		{
			Name:        "agent_result",
			ProviderID:  ProviderID,
			Description: "Fetch a finished agent's result",
			Category:    "agents",
			Keywords:    []string{"agent", "result", "output"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"id": tool.Prop("string", "Agent id"),
			}, "id"),
		},
	}
}

// Handle implements features.Manager.
func (m *Manager) Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	switch name {
	case "agent_spawn":
		return m.spawn(ctx, args)
	case "agent_status":
		return m.status(ctx, args)
	case "agent_result":
		return m.result(ctx, args)
	default:
		return nil, errs.NotFound("unknown agents tool: %s", name)
	}
}

func (m *Manager) spawn(ctx context.Context, args map[string]any) (*tool.Result, error) {
	agentType, err := tool.StringArg(args, "type", true)
	if err != nil {
		return nil, err
	}
	task, err := tool.StringArg(args, "task", true)
	if err != nil {
		return nil, err
	}
	parentTaskID, err := tool.StringArg(args, "parentTaskId", false)
	if err != nil {
		return nil, err
	}
	if parentTaskID != "" {
		if _, err := m.store.GetTask(ctx, parentTaskID); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return nil, errs.InvalidInput("parent task not found: %s", parentTaskID)
			}
			return nil, err
		}
	}

	rec, err := m.store.CreateAgent(ctx, agentType, task, parentTaskID)
	if err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.AgentStarted,
			ToolName: "agent_spawn",
			Data:     map[string]any{"id": rec.ID, "type": agentType, "task": task},
		})
	}

	spec := RunSpec{AgentID: rec.ID, Type: agentType, Task: task, ParentTaskID: parentTaskID}
	m.wg.Add(1)
	async.Go(m.logger, "agent-"+rec.ID, func() {
		defer m.wg.Done()
		m.run(spec)
	})

	return tool.JSONResult(map[string]any{"id": rec.ID, "status": store.AgentPending})
}

// run executes the agent off the caller's goroutine. The store is the
// source of truth for status; the spawn reply never waits on this.
func (m *Manager) run(spec RunSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.store.UpdateAgent(ctx, spec.AgentID, store.AgentRunning, ""); err != nil {
		m.logger.Error("agent %s could not be marked running: %v", spec.AgentID, err)
		return
	}

	result, err := m.runner.Run(ctx, spec)

	// Status updates outlive the agent deadline.
	finCtx, finCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finCancel()

	switch {
	case ctx.Err() != nil:
		if uerr := m.store.UpdateAgent(finCtx, spec.AgentID, store.AgentTimedOut, ""); uerr != nil {
			m.logger.Error("agent %s could not be marked timed-out: %v", spec.AgentID, uerr)
		}
		return
	case err != nil:
		if uerr := m.store.UpdateAgent(finCtx, spec.AgentID, store.AgentFailed, err.Error()); uerr != nil {
			m.logger.Error("agent %s could not be marked failed: %v", spec.AgentID, uerr)
		}
		return
	}

	encoded, merr := json.Marshal(result)
	if merr != nil {
		encoded = []byte(result.Output)
	}
	if uerr := m.store.UpdateAgent(finCtx, spec.AgentID, store.AgentCompleted, string(encoded)); uerr != nil {
		m.logger.Error("agent %s could not be marked completed: %v", spec.AgentID, uerr)
		return
	}

	if m.bus != nil {
		todoIDs := make([]any, 0, len(result.TodoIDs))
		for _, id := range result.TodoIDs {
			todoIDs = append(todoIDs, id)
		}
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.AgentCompleted,
			ToolName: "agent_spawn",
			Data: map[string]any{
				"id": spec.AgentID,
				"result": map[string]any{
					"output":  result.Output,
					"todoIds": todoIDs,
				},
			},
		})
	}
}

func (m *Manager) status(ctx context.Context, args map[string]any) (*tool.Result, error) {
	id, err := tool.StringArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"id": rec.ID, "status": rec.Status, "type": rec.Type}
	if rec.CompletedAt != nil {
		payload["completedAt"] = rec.CompletedAt
	}
	return tool.JSONResult(payload)
}

func (m *Manager) result(ctx context.Context, args map[string]any) (*tool.Result, error) {
	id, err := tool.StringArg(args, "id", true)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case store.AgentCompleted, store.AgentFailed, store.AgentTimedOut:
		return tool.JSONResult(map[string]any{
			"id": rec.ID, "status": rec.Status, "result": rec.Result,
		})
	default:
		return nil, errs.InvalidInput("agent %s has not finished (status %s)", id, rec.Status)
	}
}

// Wait blocks until every spawned agent has finished. Shutdown and
// tests use it to drain in-flight work.
func (m *Manager) Wait() {
	m.wg.Wait()
}
