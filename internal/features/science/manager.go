// Package science routes computation jobs to a pluggable backend. The
// core owns routing and bookkeeping only; the math lives behind the
// ComputeBackend capability.
package science

import (
	"context"

	"metatool/internal/errs"
	"metatool/internal/hooks"
	"metatool/internal/logging"
	"metatool/internal/tool"
)

// ProviderID is the science feature namespace.
const ProviderID = "internal:science"

// ComputeBackend executes one named job with parameters.
type ComputeBackend interface {
	// Jobs enumerates the job names the backend accepts.
	Jobs() []string
	// Run executes one job; unknown names return NotFound.
	Run(ctx context.Context, job string, params map[string]any) (map[string]any, error)
}

// Manager routes science_run to the backend.
type Manager struct {
	backend ComputeBackend
	bus     *hooks.Bus
	logger  logging.Logger
}

// New builds the manager. A nil backend is allowed; every run then
// fails with Unavailable.
func New(backend ComputeBackend, bus *hooks.Bus, logger logging.Logger) *Manager {
	return &Manager{backend: backend, bus: bus, logger: logging.OrNop(logger)}
}

// ProviderID implements features.Manager.
func (m *Manager) ProviderID() string { return ProviderID }

// Definitions implements features.Manager.
func (m *Manager) Definitions() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "science_run",
			ProviderID:  ProviderID,
			Description: "Run a computation job on the configured backend",
			Category:    "science",
			Keywords:    []string{"science", "compute", "statistics", "analysis"},
			InputSchema: tool.ObjectSchema(map[string]any{
				"job": tool.Prop("string", "Job name known to the backend"),
				"params": map[string]any{
					"type":        "object",
					"description": "Job parameters",
				},
			}, "job"),
		},
	}
}

// Handle implements features.Manager.
func (m *Manager) Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "science_run" {
		return nil, errs.NotFound("unknown science tool: %s", name)
	}

	job, err := tool.StringArg(args, "job", true)
	if err != nil {
		return nil, err
	}
	params, err := tool.MapArg(args, "params")
	if err != nil {
		return nil, err
	}
	if m.backend == nil {
		return nil, errs.Unavailable("no compute backend configured")
	}

	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.ScienceJobStarted,
			ToolName: "science_run",
			Data:     map[string]any{"job": job},
		})
	}

	output, err := m.backend.Run(ctx, job, params)
	if err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Fire(&hooks.Event{
			Kind:     hooks.ScienceJobDone,
			ToolName: "science_run",
			Data:     map[string]any{"job": job},
		})
	}
	return tool.JSONResult(map[string]any{"job": job, "output": output})
}
