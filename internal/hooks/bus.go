// Package hooks is the typed in-process event fan-out. Components fire
// events synchronously on the calling goroutine; handlers run in
// descending priority order, observe each other through a shared
// per-event state map, and are isolated from each other's failures.
package hooks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"metatool/internal/logging"
)

// Kind is one of the closed set of lifecycle event kinds.
type Kind string

const (
	SessionStart      Kind = "SessionStart"
	SessionEnd        Kind = "SessionEnd"
	UserPromptSubmit  Kind = "UserPromptSubmit"
	PreToolUse        Kind = "PreToolUse"
	PostToolUse       Kind = "PostToolUse"
	ErrorOccurred     Kind = "ErrorOccurred"
	ContextFull       Kind = "ContextFull"
	TestCompleted     Kind = "TestCompleted"
	AgentStarted      Kind = "AgentStarted"
	AgentCompleted    Kind = "AgentCompleted"
	PlanningStarted   Kind = "PlanningStarted"
	PlanningCompleted Kind = "PlanningCompleted"
	MemorySaved       Kind = "MemorySaved"
	MemoryRecalled    Kind = "MemoryRecalled"
	TDDCycleStarted   Kind = "TDDCycleStarted"
	TDDCycleCompleted Kind = "TDDCycleCompleted"
	ScienceJobStarted Kind = "ScienceJobStarted"
	ScienceJobDone    Kind = "ScienceJobCompleted"
	GuideQueried      Kind = "GuideQueried"
)

// Priority bands for handler registration.
const (
	PriorityLow    = 10
	PriorityMedium = 50
	PriorityHigh   = 100
)

// Event carries the context of one fired event. SharedState is mutable
// and visible to every handler of this event in priority order.
type Event struct {
	Kind        Kind
	Timestamp   time.Time
	SessionID   string
	ToolName    string
	ToolArgs    map[string]any
	ToolResult  any
	Err         error
	Data        map[string]any
	SharedState map[string]any
}

// Handler reacts to one event. A returned error is logged and isolated;
// it never cancels the event or the remaining handlers.
type Handler func(event *Event) error

type registration struct {
	id          int64
	kind        Kind
	priority    int
	seq         int64
	description string
	handler     Handler
}

// Bus dispatches events to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]*registration
	byID     map[int64]*registration
	nextID   int64
	logger   logging.Logger
}

// NewBus creates an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]*registration),
		byID:     make(map[int64]*registration),
		logger:   logging.OrNop(logger),
	}
}

// RegisterOption configures a subscription.
type RegisterOption func(*registration)

// WithPriority sets the handler priority; higher runs earlier.
func WithPriority(p int) RegisterOption {
	return func(r *registration) { r.priority = p }
}

// WithDescription labels the handler for log output.
func WithDescription(d string) RegisterOption {
	return func(r *registration) { r.description = d }
}

// Register subscribes a handler to a kind and returns the handler id.
// Equal priorities run in registration order.
func (b *Bus) Register(kind Kind, handler Handler, opts ...RegisterOption) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := &registration{
		id:       b.nextID,
		kind:     kind,
		priority: PriorityMedium,
		seq:      b.nextID,
		handler:  handler,
	}
	for _, opt := range opts {
		opt(reg)
	}

	list := append(b.handlers[kind], reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.handlers[kind] = list
	b.byID[reg.id] = reg
	return reg.id
}

// Unregister removes a subscription by id; unknown ids are a no-op.
func (b *Bus) Unregister(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	list := b.handlers[reg.kind]
	for i, r := range list {
		if r.id == id {
			b.handlers[reg.kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Fire dispatches the event synchronously. Handlers run on the calling
// goroutine in descending priority order; a panicking or erroring
// handler is logged and the remaining handlers still run.
func (b *Bus) Fire(event *Event) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SharedState == nil {
		event.SharedState = make(map[string]any)
	}

	b.mu.RLock()
	list := make([]*registration, len(b.handlers[event.Kind]))
	copy(list, b.handlers[event.Kind])
	b.mu.RUnlock()

	for _, reg := range list {
		b.run(reg, event)
	}
}

func (b *Bus) run(reg *registration, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook %s panicked on %s: %v", b.label(reg), event.Kind, r)
		}
	}()
	if err := reg.handler(event); err != nil {
		b.logger.Warn("hook %s failed on %s: %v", b.label(reg), event.Kind, err)
	}
}

func (b *Bus) label(reg *registration) string {
	if reg.description != "" {
		return reg.description
	}
	return fmt.Sprintf("#%d", reg.id)
}
