// Package gateway exposes the tool catalog over line-framed JSON-RPC:
// list_tools surfaces the loader's selection, call_tool dispatches to
// an internal feature manager or an external provider client, with the
// lifecycle events and the usage log wrapped around every call.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"metatool/internal/async"
	"metatool/internal/errs"
	"metatool/internal/features"
	"metatool/internal/hooks"
	"metatool/internal/loader"
	"metatool/internal/logging"
	"metatool/internal/provider"
	"metatool/internal/store"
	"metatool/internal/tool"
)

const (
	jsonrpcVersion = "2.0"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601

	defaultCallTimeout = 60 * time.Second
	defaultMaxWorkers  = 8
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listParams struct {
	Query string `json:"query,omitempty"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	TimeoutMS int             `json:"timeoutMs,omitempty"`
}

// wireTool is the public descriptor shape emitted by list_tools.
// Provenance fields never cross the wire.
type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Server serves the gateway RPC surface over a reader/writer pair.
type Server struct {
	store     *store.Store
	loader    *loader.Loader
	coord     *features.Coordinator
	providers *provider.Manager
	logger    logging.Logger
	metrics   *metrics

	callTimeout time.Duration
	maxWorkers  int

	mu        sync.Mutex
	sessionID string
}

// Option customizes a Server.
type Option func(*Server)

// WithCallTimeout sets the default per-call deadline applied when the
// caller supplies none.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithMaxWorkers caps the number of in-flight requests.
func WithMaxWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// NewServer wires the gateway around an already-constructed store,
// loader, coordinator and provider manager.
func NewServer(st *store.Store, l *loader.Loader, coord *features.Coordinator, providers *provider.Manager, logger logging.Logger, opts ...Option) *Server {
	s := &Server{
		store:       st,
		loader:      l,
		coord:       coord,
		providers:   providers,
		logger:      logging.OrNop(logger),
		metrics:     newMetrics(),
		callTimeout: defaultCallTimeout,
		maxWorkers:  defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics exposes the gateway's private Prometheus registry.
func (s *Server) Metrics() *prometheus.Registry { return s.metrics.Registry() }

// Bootstrap publishes the internal feature tools into the live catalog,
// restores persisted external tool descriptors and warms the usage
// counters. Call once before Serve.
func (s *Server) Bootstrap(ctx context.Context, essential ...string) error {
	for _, d := range s.coord.Definitions() {
		s.loader.Register(d)
	}

	persisted, err := s.store.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, d := range persisted {
		s.loader.Register(d)
	}

	counts, err := s.store.UsageCounts(ctx)
	if err != nil {
		return err
	}
	s.loader.WarmUsage(counts)

	for _, name := range essential {
		s.loader.Pin(name)
	}
	s.logger.Info("gateway catalog ready: %d internal, %d persisted tools", len(s.coord.Definitions()), len(persisted))
	return nil
}

// Serve reads newline-delimited JSON-RPC requests from in and writes
// responses to out until in closes or ctx is cancelled. A session row
// is created on entry and SessionStart/SessionEnd bracket the loop.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sessionID, err := s.store.CreateSession(ctx, "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()

	s.coord.Bus().Fire(&hooks.Event{Kind: hooks.SessionStart, SessionID: sessionID})
	defer s.coord.Bus().Fire(&hooks.Event{Kind: hooks.SessionEnd, SessionID: sessionID})

	var writeMu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.maxWorkers)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		request := append([]byte(nil), line...)
		g.Go(func() error {
			resp := s.dispatch(ctx, request)
			if resp != nil {
				s.write(out, &writeMu, resp)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errs.Wrap(errs.KindInternal, err, "read request stream")
	}
	return nil
}

func (s *Server) write(out io.Writer, mu *sync.Mutex, resp *rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response: %v", err)
		return
	}
	data = append(data, '\n')

	mu.Lock()
	defer mu.Unlock()
	if _, err := out.Write(data); err != nil {
		s.logger.Error("write response: %v", err)
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &rpcResponse{
			JSONRPC: jsonrpcVersion,
			Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
		}
	}
	if req.JSONRPC != jsonrpcVersion {
		return &rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version"},
		}
	}

	switch req.Method {
	case "list_tools":
		return s.handleList(req)
	case "call_tool":
		return s.handleCall(ctx, req)
	default:
		return &rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method},
		}
	}
}

func (s *Server) handleList(req rpcRequest) *rpcResponse {
	var params listParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &rpcResponse{
				JSONRPC: jsonrpcVersion,
				ID:      req.ID,
				Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid list_tools params: " + err.Error()},
			}
		}
	}

	// Without a hint every descriptor is returned; with one, the
	// essential layer comes first and the relevant layer follows.
	var descriptors []tool.Descriptor
	if query := strings.TrimSpace(params.Query); query != "" {
		sel := s.loader.Load(query)
		descriptors = append(descriptors, sel.Essential...)
		descriptors = append(descriptors, sel.Relevant...)
	} else {
		descriptors = s.loader.All()
	}

	tools := make([]wireTool, 0, len(descriptors))
	for _, d := range descriptors {
		public := d.Public()
		tools = append(tools, wireTool{
			Name:        public.Name,
			Description: public.Description,
			InputSchema: public.InputSchema,
		})
	}

	s.metrics.listTotal.Inc()
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  map[string]any{"tools": tools},
	}
}

func (s *Server) handleCall(ctx context.Context, req rpcRequest) *rpcResponse {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid call_tool params: " + err.Error()},
		}
	}
	if params.Name == "" {
		return &rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "call_tool requires a tool name"},
		}
	}

	result := s.execute(ctx, params)
	return &rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  result,
	}
}

// execute runs one tool call end to end. The usage log row is appended
// before the result is returned, so the reply never precedes it.
func (s *Server) execute(ctx context.Context, params callParams) *tool.Result {
	desc, ok := s.loader.Get(params.Name)
	if !ok {
		return tool.ErrorResult("tool not found: %s", params.Name)
	}

	args, err := decodeArguments(params.Arguments)
	if err == nil {
		err = validateArguments(desc.InputSchema, args)
	}
	if err != nil {
		// Rejected before dispatch; still one usage row per call.
		s.loader.RecordUsage(params.Name)
		s.finishCall(params.Name, args, false, 0)
		s.coord.Bus().Fire(&hooks.Event{
			Kind:      hooks.ErrorOccurred,
			SessionID: s.session(),
			ToolName:  params.Name,
			ToolArgs:  args,
			Err:       err,
		})
		return tool.ErrorResult("%s", err.Error())
	}

	timeout := s.callTimeout
	if params.TimeoutMS > 0 {
		timeout = time.Duration(params.TimeoutMS) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	s.loader.RecordUsage(params.Name)

	bus := s.coord.Bus()
	bus.Fire(&hooks.Event{
		Kind:      hooks.PreToolUse,
		SessionID: s.session(),
		ToolName:  params.Name,
		ToolArgs:  args,
	})

	result, callErr := s.invoke(callCtx, desc, params.Name, args)
	if callErr == nil && callCtx.Err() != nil {
		callErr = errs.Timeout("call to %s exceeded %v", params.Name, timeout)
	}

	elapsed := time.Since(start)
	if callErr != nil {
		bus.Fire(&hooks.Event{
			Kind:      hooks.ErrorOccurred,
			SessionID: s.session(),
			ToolName:  params.Name,
			ToolArgs:  args,
			Err:       callErr,
		})
		s.finishCall(params.Name, args, false, elapsed)
		s.logger.Warn("call %s failed after %v: %v", params.Name, elapsed, callErr)
		return tool.ErrorResult("%s", callErr.Error())
	}

	bus.Fire(&hooks.Event{
		Kind:       hooks.PostToolUse,
		SessionID:  s.session(),
		ToolName:   params.Name,
		ToolArgs:   args,
		ToolResult: result,
	})

	// A structured failure counts against the tool in the log even
	// though no error surfaced on the call path.
	s.finishCall(params.Name, args, !result.IsError, elapsed)
	return result
}

// invoke routes to the internal coordinator or the external client.
func (s *Server) invoke(ctx context.Context, desc tool.Descriptor, name string, args map[string]any) (*tool.Result, error) {
	result, handled, err := s.coord.Route(ctx, desc.ProviderID, name, args)
	if handled {
		return result, err
	}

	client, ok := s.providers.Client(desc.ProviderID)
	if !ok {
		return nil, errs.Unavailable("provider %s is not connected", desc.ProviderID)
	}
	return client.Call(ctx, name, args)
}

// finishCall appends the usage row, bumping the persistent counter in
// the same transaction, and records the call metrics. The store write
// uses a fresh context so an expired call deadline cannot lose the row.
func (s *Server) finishCall(name string, args map[string]any, success bool, elapsed time.Duration) {
	argsJSON := []byte("{}")
	if args != nil {
		if encoded, err := json.Marshal(args); err == nil {
			argsJSON = encoded
		}
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordCall(recordCtx, store.UsageEntry{
		ToolName:  name,
		Arguments: string(argsJSON),
		Success:   success,
		ElapsedMS: elapsed.Milliseconds(),
	}); err != nil {
		s.logger.Error("record call %s: %v", name, err)
	}
	s.metrics.observeCall(name, success, elapsed.Seconds())
}

func (s *Server) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// StartJanitor prunes context snapshots older than maxAge on the given
// interval until ctx is cancelled.
func (s *Server) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	async.Go(s.logger, "snapshot-janitor", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.store.PruneSnapshots(ctx, time.Now().Add(-maxAge))
				if err != nil {
					s.logger.Warn("prune snapshots: %v", err)
				} else if removed > 0 {
					s.logger.Info("pruned %d stale snapshots", removed)
				}
			}
		}
	})
}

// decodeArguments parses the raw arguments payload into a map. A
// payload that is not valid JSON gets one repair attempt before being
// rejected; absent arguments decode to an empty map.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	}

	// Arguments sometimes arrive double-encoded as a JSON string.
	candidate := string(raw)
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		candidate = nested
	}
	var unwrapped map[string]any
	if err := json.Unmarshal([]byte(candidate), &unwrapped); err == nil && unwrapped != nil {
		return unwrapped, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, errs.InvalidInput("arguments are not valid JSON: %v", err)
	}
	var fixed map[string]any
	if err := json.Unmarshal([]byte(repaired), &fixed); err != nil {
		return nil, errs.InvalidInput("arguments are not a JSON object: %v", err)
	}
	if fixed == nil {
		fixed = map[string]any{}
	}
	return fixed, nil
}

// validateArguments checks the decoded arguments against the
// descriptor's JSON schema. An empty schema accepts anything.
func validateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		return errs.Internal(err, "encode input schema")
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return errs.Internal(err, "decode input schema")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return errs.Internal(err, "register input schema")
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return errs.Internal(err, "compile input schema")
	}

	payload := any(args)
	if args == nil {
		payload = map[string]any{}
	}
	if err := compiled.Validate(payload); err != nil {
		return errs.InvalidInput("invalid arguments: %v", err)
	}
	return nil
}
