package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatool/internal/errs"
	"metatool/internal/loader"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

type fakeClient struct {
	tools     []tool.Descriptor
	listErr   error
	closed    bool
	connected bool
}

func (c *fakeClient) List(context.Context) ([]tool.Descriptor, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.tools, nil
}

func (c *fakeClient) Call(_ context.Context, name string, _ map[string]any) (*tool.Result, error) {
	return tool.TextResult("called %s", name), nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func fixedFactory(client *fakeClient, err error) Factory {
	return func(context.Context, store.Provider) (Client, error) {
		if err != nil {
			return nil, err
		}
		client.connected = true
		return client, nil
	}
}

func newTestManager(t *testing.T, factory Factory) (*Manager, *store.Store, *loader.Loader) {
	t.Helper()
	s, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	l := loader.New(logging.Nop())
	return NewManager(s, l, factory, logging.Nop()), s, l
}

func descriptor(name string) tool.Descriptor {
	return tool.Descriptor{Name: name, Description: name + " tool", InputSchema: map[string]any{"type": "object"}}
}

func TestConnectPublishesTools(t *testing.T) {
	client := &fakeClient{tools: []tool.Descriptor{descriptor("read_file"), descriptor("write_file")}}
	m, s, l := newTestManager(t, fixedFactory(client, nil))

	tools, err := m.Connect(context.Background(), store.Provider{ID: "fs", Name: "fs", Command: "fs-server"})
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	// Live catalog, store and client map all see the provider.
	_, ok := l.Get("read_file")
	assert.True(t, ok)
	stored, err := s.ListToolsByProvider(context.Background(), "fs")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, "fs", stored[0].ProviderID)
	_, ok = m.Client("fs")
	assert.True(t, ok)
}

func TestConnectRejectsDuplicateProviderID(t *testing.T) {
	client := &fakeClient{tools: []tool.Descriptor{descriptor("a")}}
	m, _, _ := newTestManager(t, fixedFactory(client, nil))

	_, err := m.Connect(context.Background(), store.Provider{ID: "p", Command: "x"})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), store.Provider{ID: "p", Command: "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
}

func TestConnectRejectsReservedInternalID(t *testing.T) {
	m, _, _ := newTestManager(t, fixedFactory(&fakeClient{}, nil))
	_, err := m.Connect(context.Background(), store.Provider{ID: "internal:memory", Command: "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestConnectRollsBackOnDialFailure(t *testing.T) {
	m, s, _ := newTestManager(t, fixedFactory(nil, errors.New("spawn failed")))

	_, err := m.Connect(context.Background(), store.Provider{ID: "broken", Command: "x"})
	require.Error(t, err)

	_, err = s.GetProvider(context.Background(), "broken")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Empty(t, m.Connected())
}

func TestConnectRollsBackOnListFailure(t *testing.T) {
	client := &fakeClient{listErr: errors.New("list failed")}
	m, s, _ := newTestManager(t, fixedFactory(client, nil))

	_, err := m.Connect(context.Background(), store.Provider{ID: "broken", Command: "x"})
	require.Error(t, err)
	assert.True(t, client.closed)

	_, err = s.GetProvider(context.Background(), "broken")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestConnectRejectsDuplicateToolNamesInBatch(t *testing.T) {
	client := &fakeClient{tools: []tool.Descriptor{descriptor("same"), descriptor("same")}}
	m, s, l := newTestManager(t, fixedFactory(client, nil))

	_, err := m.Connect(context.Background(), store.Provider{ID: "dupes", Command: "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.True(t, client.closed)

	_, ok := l.Get("same")
	assert.False(t, ok)
	_, err = s.GetProvider(context.Background(), "dupes")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestConnectRejectsToolNameOwnedByAnotherProvider(t *testing.T) {
	a := &fakeClient{tools: []tool.Descriptor{descriptor("read_file")}}
	b := &fakeClient{tools: []tool.Descriptor{descriptor("read_file"), descriptor("b_only")}}
	clients := map[string]*fakeClient{"a": a, "b": b}
	factory := func(_ context.Context, p store.Provider) (Client, error) {
		c := clients[p.ID]
		c.connected = true
		return c, nil
	}
	m, s, l := newTestManager(t, factory)

	_, err := m.Connect(context.Background(), store.Provider{ID: "a", Command: "x"})
	require.NoError(t, err)

	_, err = m.Connect(context.Background(), store.Provider{ID: "b", Command: "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.True(t, b.closed)

	// The original owner keeps its tool everywhere.
	d, ok := l.Get("read_file")
	require.True(t, ok)
	assert.Equal(t, "a", d.ProviderID)
	stored, err := s.GetTool(context.Background(), "read_file")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ProviderID)

	// And the rejected provider left nothing behind.
	_, ok = l.Get("b_only")
	assert.False(t, ok)
	_, err = s.GetProvider(context.Background(), "b")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Equal(t, []string{"a"}, m.Connected())
}

func TestConnectRejectsToolNameOwnedByPersistedProvider(t *testing.T) {
	client := &fakeClient{tools: []tool.Descriptor{descriptor("read_file")}}
	m, s, _ := newTestManager(t, fixedFactory(client, nil))
	_, err := m.Connect(context.Background(), store.Provider{ID: "a", Command: "x"})
	require.NoError(t, err)

	// A fresh manager over the same store has no live registration for
	// read_file; the persisted row still blocks the claim.
	other := &fakeClient{tools: []tool.Descriptor{descriptor("read_file")}}
	m2 := NewManager(s, loader.New(logging.Nop()), fixedFactory(other, nil), logging.Nop())
	_, err = m2.Connect(context.Background(), store.Provider{ID: "b", Command: "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))

	stored, err := s.GetTool(context.Background(), "read_file")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ProviderID)
}

func TestDisconnectRemovesEverything(t *testing.T) {
	client := &fakeClient{tools: []tool.Descriptor{descriptor("read_file")}}
	m, s, l := newTestManager(t, fixedFactory(client, nil))

	_, err := m.Connect(context.Background(), store.Provider{ID: "fs", Command: "x"})
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(context.Background(), "fs"))
	assert.True(t, client.closed)

	_, ok := l.Get("read_file")
	assert.False(t, ok)
	_, err = s.GetProvider(context.Background(), "fs")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	tools, err := s.ListToolsByProvider(context.Background(), "fs")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestDisconnectUnknownProvider(t *testing.T) {
	m, _, _ := newTestManager(t, fixedFactory(&fakeClient{}, nil))
	err := m.Disconnect(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDisconnectAllBestEffort(t *testing.T) {
	a := &fakeClient{tools: []tool.Descriptor{descriptor("a_tool")}}
	b := &fakeClient{tools: []tool.Descriptor{descriptor("b_tool")}}
	clients := map[string]*fakeClient{"a": a, "b": b}
	factory := func(_ context.Context, p store.Provider) (Client, error) {
		c := clients[p.ID]
		c.connected = true
		return c, nil
	}
	m, _, _ := newTestManager(t, factory)

	_, err := m.Connect(context.Background(), store.Provider{ID: "a", Command: "x"})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), store.Provider{ID: "b", Command: "x"})
	require.NoError(t, err)

	require.NoError(t, m.DisconnectAll(context.Background()))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, m.Connected())
}
