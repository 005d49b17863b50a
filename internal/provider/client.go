package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"metatool/internal/async"
	"metatool/internal/errs"
	"metatool/internal/logging"
	"metatool/internal/store"
	"metatool/internal/tool"
)

// protocolVersion is the wire protocol revision announced at initialize.
const protocolVersion = "2024-11-05"

const defaultCallTimeout = 30 * time.Second

// Client is the capability the core requires of an external provider:
// enumerate tools, call one, close, report liveness.
type Client interface {
	List(ctx context.Context) ([]tool.Descriptor, error)
	Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error)
	Close() error
	IsConnected() bool
}

// stdioClient speaks line-framed JSON-RPC to a child process.
type stdioClient struct {
	providerID string
	proc       *process
	ids        idGenerator
	pending    map[any]chan *rpcResponse
	mu         sync.RWMutex
	logger     logging.Logger
	ready      bool
}

// Dial starts the provider process and performs the initialize
// handshake.
func Dial(ctx context.Context, p store.Provider, logger logging.Logger) (Client, error) {
	logger = logging.OrNop(logger)
	c := &stdioClient{
		providerID: p.ID,
		proc:       newProcess(p.Command, p.Args, p.Env, logger),
		pending:    make(map[any]chan *rpcResponse),
		logger:     logger,
	}

	if err := c.proc.start(ctx); err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, err, "start provider %s", p.ID)
	}
	async.Go(c.logger, "provider.readLoop", c.readLoop)

	if err := c.initialize(ctx); err != nil {
		_ = c.proc.stop(5 * time.Second)
		return nil, errs.Wrap(errs.KindUnavailable, err, "initialize provider %s", p.ID)
	}
	return c, nil
}

func (c *stdioClient) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "metatool", "version": "0.1.0"},
	}
	raw, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if result.ProtocolVersion != protocolVersion {
		c.logger.Warn("protocol version mismatch: client=%s server=%s", protocolVersion, result.ProtocolVersion)
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed: %v", err)
	}
	return nil
}

// List implements Client. Descriptors get the provider id stamped on.
func (c *stdioClient) List(ctx context.Context) ([]tool.Descriptor, error) {
	if !c.IsConnected() {
		return nil, errs.Unavailable("provider %s not connected", c.providerID)
	}
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, err, "list tools from %s", c.providerID)
	}

	var response struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, errs.Internal(err, "parse tools list from %s", c.providerID)
	}

	out := make([]tool.Descriptor, 0, len(response.Tools))
	for _, t := range response.Tools {
		out = append(out, tool.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ProviderID:  c.providerID,
		})
	}
	c.logger.Info("provider %s exposes %d tools", c.providerID, len(out))
	return out, nil
}

// Call implements Client.
func (c *stdioClient) Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if !c.IsConnected() {
		return nil, errs.Unavailable("provider %s not connected", c.providerID)
	}
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, err, "call %s on %s", name, c.providerID)
	}

	var result tool.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errs.Internal(err, "parse result of %s from %s", name, c.providerID)
	}
	return &result, nil
}

// Close implements Client.
func (c *stdioClient) Close() error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	return c.proc.stop(5 * time.Second)
}

// IsConnected implements Client.
func (c *stdioClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready && c.proc.isRunning()
}

// call sends one request and waits for its response.
func (c *stdioClient) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.ids.next()
	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	respChan := make(chan *rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.proc.write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(defaultCallTimeout):
		return nil, fmt.Errorf("request timed out after %v", defaultCallTimeout)
	}
}

func (c *stdioClient) notify(method string, params map[string]any) error {
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.proc.write(append(data, '\n'))
}

// readLoop routes responses to pending callers until stdout closes.
func (c *stdioClient) readLoop() {
	scanner := bufio.NewScanner(c.proc.stdoutReader())
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		resp, err := parseResponse(scanner.Bytes())
		if err != nil {
			c.logger.Error("unparseable response from %s: %v", c.providerID, err)
			continue
		}

		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.logger.Warn("no pending call for response id=%v", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
			c.logger.Warn("response channel full, dropping id=%v", resp.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("read loop error for %s: %v", c.providerID, err)
	}
}
