package provider

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"metatool/internal/errs"
	"metatool/internal/loader"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// Factory builds a connected client for a provider descriptor. Tests
// swap in fakes; production uses Dial.
type Factory func(ctx context.Context, p store.Provider) (Client, error)

// Manager owns the set of connected external providers and keeps the
// store, the loader catalog and the search index in sync with them.
type Manager struct {
	store   *store.Store
	loader  *loader.Loader
	factory Factory
	logger  logging.Logger

	mu      sync.RWMutex
	clients map[string]Client
}

// NewManager builds the manager; a nil factory defaults to Dial.
func NewManager(s *store.Store, l *loader.Loader, factory Factory, logger logging.Logger) *Manager {
	logger = logging.OrNop(logger)
	if factory == nil {
		factory = func(ctx context.Context, p store.Provider) (Client, error) {
			return Dial(ctx, p, logger)
		}
	}
	return &Manager{
		store:   s,
		loader:  l,
		factory: factory,
		logger:  logger,
		clients: make(map[string]Client),
	}
}

// Client returns the live client for a provider id.
func (m *Manager) Client(providerID string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[providerID]
	return c, ok
}

// Connected lists the ids of currently connected providers.
func (m *Manager) Connected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for id := range m.clients {
		out = append(out, id)
	}
	return out
}

// Connect registers a provider: persists the row, dials the client,
// fetches its tool catalog and publishes every tool. Any failure rolls
// the whole registration back.
func (m *Manager) Connect(ctx context.Context, p store.Provider) ([]tool.Descriptor, error) {
	if strings.HasPrefix(p.ID, tool.InternalPrefix) {
		return nil, errs.InvalidInput("provider id %s is reserved for internal features", p.ID)
	}

	m.mu.Lock()
	if _, exists := m.clients[p.ID]; exists {
		m.mu.Unlock()
		return nil, errs.Conflict("provider already connected: %s", p.ID)
	}
	m.mu.Unlock()

	if err := m.store.SaveProvider(ctx, p); err != nil {
		return nil, err
	}

	client, err := m.factory(ctx, p)
	if err != nil {
		m.rollback(ctx, p.ID, nil, nil)
		return nil, err
	}

	descriptors, err := client.List(ctx)
	if err != nil {
		m.rollback(ctx, p.ID, client, nil)
		return nil, err
	}

	// Names must be unique within one provider's batch.
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if _, dup := seen[d.Name]; dup {
			m.rollback(ctx, p.ID, client, nil)
			return nil, errs.Conflict("provider %s returned duplicate tool name: %s", p.ID, d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	// Names must also be unique across the whole catalog; upserting
	// would silently reassign another provider's tool.
	for _, d := range descriptors {
		if owner, taken := m.toolOwner(ctx, d.Name); taken && owner != p.ID {
			m.rollback(ctx, p.ID, client, nil)
			return nil, errs.Conflict("tool %s is already registered by provider %s", d.Name, owner)
		}
	}

	for i := range descriptors {
		descriptors[i].ProviderID = p.ID
	}
	if err := m.store.UpsertTools(ctx, descriptors); err != nil {
		m.rollback(ctx, p.ID, client, nil)
		return nil, err
	}

	var published []string
	for _, d := range descriptors {
		m.loader.Register(d)
		published = append(published, d.Name)
	}

	m.mu.Lock()
	m.clients[p.ID] = client
	m.mu.Unlock()

	m.logger.Info("provider %s connected with %d tools", p.ID, len(descriptors))
	return descriptors, nil
}

// toolOwner reports which provider currently owns a tool name, checking
// the live catalog first (which also covers internal features) and the
// persisted rows behind it.
func (m *Manager) toolOwner(ctx context.Context, name string) (string, bool) {
	if d, ok := m.loader.Get(name); ok {
		return d.ProviderID, true
	}
	stored, err := m.store.GetTool(ctx, name)
	if err != nil {
		return "", false
	}
	return stored.ProviderID, true
}

// rollback undoes a partial Connect: unpublish tools, close the
// client, delete the provider row (which cascades its tool rows).
func (m *Manager) rollback(ctx context.Context, providerID string, client Client, published []string) {
	for _, name := range published {
		m.loader.Unregister(name)
	}
	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("rollback: close client %s: %v", providerID, err)
		}
	}
	if err := m.store.DeleteProvider(ctx, providerID); err != nil && !errs.Is(err, errs.KindNotFound) {
		m.logger.Warn("rollback: delete provider %s: %v", providerID, err)
	}
}

// Disconnect closes the client and removes the provider's tools from
// the live catalog, the index and the store.
func (m *Manager) Disconnect(ctx context.Context, providerID string) error {
	m.mu.Lock()
	client, ok := m.clients[providerID]
	delete(m.clients, providerID)
	m.mu.Unlock()
	if !ok {
		return errs.NotFound("provider not connected: %s", providerID)
	}

	if err := client.Close(); err != nil {
		m.logger.Warn("close client %s: %v", providerID, err)
	}

	tools, err := m.store.ListToolsByProvider(ctx, providerID)
	if err != nil {
		return err
	}
	for _, d := range tools {
		m.loader.Unregister(d.Name)
	}

	// Deleting the row cascades the tool rows.
	if err := m.store.DeleteProvider(ctx, providerID); err != nil {
		return err
	}
	m.logger.Info("provider %s disconnected, %d tools removed", providerID, len(tools))
	return nil
}

// DisconnectAll tears down every provider best-effort: one failure
// does not stop cleanup of the others. The first error is returned.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	ids := m.Connected()

	var g errgroup.Group
	var mu sync.Mutex
	var firstErr error
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.Disconnect(ctx, id); err != nil {
				m.logger.Error("disconnect %s: %v", id, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}
