// Package loader decides which tool descriptors are surfaced to the
// caller: a pinned essential set (layer 1), the BM25-relevant matches
// for the current hint (layer 2), and everything else reachable only by
// name (layer 3).
package loader

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"metatool/internal/logging"
	"metatool/internal/query"
	"metatool/internal/search"
	"metatool/internal/tool"
)

const (
	// DefaultMaxLayer2 caps the relevant layer.
	DefaultMaxLayer2 = 15
	// DefaultScoreFloor drops stop-word-grade BM25 matches.
	DefaultScoreFloor = 0.25
	// usageBoostWeight scales the usage-learning boost.
	usageBoostWeight = 0.1
)

// UsagePersister is the slice of the store the loader needs for
// best-effort persistence of usage counters.
type UsagePersister interface {
	UsageCounts(ctx context.Context) (map[string]int64, error)
}

// Selection is the result of a load decision.
type Selection struct {
	Essential      []tool.Descriptor `json:"essential"`
	Relevant       []tool.Descriptor `json:"relevant"`
	AvailableTotal int               `json:"availableTotal"`
	Meta           Meta              `json:"meta"`
}

// Meta explains how the selection was made.
type Meta struct {
	Layer     int           `json:"layer"`
	SearchFor string        `json:"searchFor,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Reason    string        `json:"reason"`
}

// Loader owns the live tool map, the BM25 index over it and the
// usage-count cache. Writers (register/unregister) are serialized;
// readers may run concurrently.
type Loader struct {
	index     *search.Index
	processor *query.Processor
	logger    logging.Logger

	mu        sync.RWMutex
	catalog   map[string]tool.Descriptor
	essential map[string]struct{}

	usageMu sync.Mutex
	usage   map[string]int64

	maxLayer2  int
	scoreFloor float64
}

// Option customizes a Loader.
type Option func(*Loader)

// WithMaxLayer2 overrides the relevant-layer cap.
func WithMaxLayer2(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxLayer2 = n
		}
	}
}

// WithScoreFloor overrides the BM25 floor.
func WithScoreFloor(f float64) Option {
	return func(l *Loader) { l.scoreFloor = f }
}

// New creates an empty loader.
func New(logger logging.Logger, opts ...Option) *Loader {
	l := &Loader{
		index:      search.NewIndex(),
		processor:  query.NewProcessor(),
		logger:     logging.OrNop(logger),
		catalog:    make(map[string]tool.Descriptor),
		essential:  make(map[string]struct{}),
		usage:      make(map[string]int64),
		maxLayer2:  DefaultMaxLayer2,
		scoreFloor: DefaultScoreFloor,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WarmUsage seeds the in-memory usage counters from persisted state.
func (l *Loader) WarmUsage(counts map[string]int64) {
	l.usageMu.Lock()
	defer l.usageMu.Unlock()
	for name, count := range counts {
		l.usage[name] = count
	}
}

// Register adds or replaces a descriptor in the live map and the index.
func (l *Loader) Register(d tool.Descriptor) {
	l.mu.Lock()
	l.catalog[d.Name] = d
	l.mu.Unlock()
	l.index.AddOrReplace(d.Name, search.DocumentText(d.Name, d.Description, d.Keywords, d.Category))
}

// Unregister removes a descriptor; absent names are a no-op.
func (l *Loader) Unregister(name string) {
	l.mu.Lock()
	delete(l.catalog, name)
	delete(l.essential, name)
	l.mu.Unlock()
	l.index.Remove(name)
}

// Get returns the live descriptor by name.
func (l *Loader) Get(name string) (tool.Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.catalog[name]
	return d, ok
}

// All returns a snapshot of every registered descriptor sorted by name.
func (l *Loader) All() []tool.Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]tool.Descriptor, 0, len(l.catalog))
	for _, d := range l.catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pin marks a tool name as essential (layer 1). Unknown names are
// accepted; they surface once the tool registers.
func (l *Loader) Pin(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.essential[name] = struct{}{}
}

// Unpin removes a name from the essential set.
func (l *Loader) Unpin(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.essential, name)
}

// Pinned returns the current essential names sorted.
func (l *Loader) Pinned() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.essential))
	for name := range l.essential {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RecordUsage bumps the in-memory counter. Persistence of the counter
// rides in the gateway's usage-log transaction.
func (l *Loader) RecordUsage(name string) {
	l.usageMu.Lock()
	defer l.usageMu.Unlock()
	l.usage[name]++
}

// UsageCount reports the in-memory counter for one tool.
func (l *Loader) UsageCount(name string) int64 {
	l.usageMu.Lock()
	defer l.usageMu.Unlock()
	return l.usage[name]
}

// boost is the usage-learning adjustment: log(1+usage) * 0.1.
func (l *Loader) boost(name string) float64 {
	l.usageMu.Lock()
	count := l.usage[name]
	l.usageMu.Unlock()
	if count == 0 {
		return 0
	}
	return math.Log(1+float64(count)) * usageBoostWeight
}

// Load selects the surfaced descriptors for an optional hint. An empty
// hint yields layer 1 only; otherwise layer 2 holds the top BM25
// matches for the enhanced query, usage-boosted and re-sorted, minus
// anything already essential.
func (l *Loader) Load(hint string) Selection {
	sel := Selection{Essential: l.essentialDescriptors()}

	l.mu.RLock()
	sel.AvailableTotal = len(l.catalog)
	l.mu.RUnlock()

	if hint == "" {
		sel.Meta = Meta{Layer: 1, Reason: "no query hint; essential tools only"}
		return sel
	}

	processed := l.processor.Process(hint)
	searchFor := processed.EnhancedQuery
	if searchFor == "" {
		searchFor = hint
	}

	start := time.Now()
	matches := l.index.Search(searchFor, l.maxLayer2*2, l.scoreFloor)
	elapsed := time.Since(start)

	for i := range matches {
		matches[i].Score += l.boost(matches[i].Name)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range matches {
		if len(sel.Relevant) >= l.maxLayer2 {
			break
		}
		if _, pinned := l.essential[m.Name]; pinned {
			continue
		}
		d, ok := l.catalog[m.Name]
		if !ok {
			continue
		}
		sel.Relevant = append(sel.Relevant, d)
	}

	sel.Meta = Meta{
		Layer:     2,
		SearchFor: searchFor,
		Elapsed:   elapsed,
		Reason:    "query hint matched via BM25 with usage boost",
	}
	return sel
}

// Score exposes the boosted BM25 score of one tool for a hint; used by
// tests and diagnostics.
func (l *Loader) Score(hint, name string) float64 {
	processed := l.processor.Process(hint)
	searchFor := processed.EnhancedQuery
	if searchFor == "" {
		searchFor = hint
	}
	for _, m := range l.index.Search(searchFor, 0, math.Inf(-1)) {
		if m.Name == name {
			return m.Score + l.boost(name)
		}
	}
	return 0
}

// Stats reports the BM25 corpus statistics.
func (l *Loader) Stats() search.Stats {
	return l.index.Stats()
}

func (l *Loader) essentialDescriptors() []tool.Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.essential))
	for name := range l.essential {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]tool.Descriptor, 0, len(names))
	for _, name := range names {
		if d, ok := l.catalog[name]; ok {
			out = append(out, d)
		}
	}
	return out
}
