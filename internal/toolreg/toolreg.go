// Package toolreg maintains per-connector MCP tool catalogs: it opens a
// client transport (streamable HTTP, SSE, or a directly spawned stdio
// subprocess), lists the server's tools, and atomically replaces the
// persisted catalog.
package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os/exec"
	"slices"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/korahq/kora/internal/resilience"
	"github.com/korahq/kora/pkg/store"
)

// TransportMode selects how an MCP server is reached.
type TransportMode string

const (
	ModeStreamableHTTP TransportMode = "streamable-http"
	ModeSSE            TransportMode = "sse"
	ModeStdio          TransportMode = "stdio"
)

// forbiddenHeaders are hop-by-hop headers stripped from user-supplied
// request headers before they reach the transport.
var forbiddenHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"transfer-encoding": {},
	"content-length":    {},
	"keep-alive":        {},
	"upgrade":           {},
	"proxy-connection":  {},
}

// TransportConfig describes how to reach one MCP server.
type TransportConfig struct {
	Mode TransportMode

	// HTTP modes.
	URL     string
	Headers map[string]string

	// Stdio mode. Args are passed to the child directly; no shell is
	// involved.
	Command string
	Args    []string
	Env     map[string]string
}

// SanitizeHeaders lower-cases header keys and drops hop-by-hop headers.
func SanitizeHeaders(headers map[string]string) http.Header {
	out := make(http.Header, len(headers))
	for k, v := range headers {
		key := strings.ToLower(k)
		if _, forbidden := forbiddenHeaders[key]; forbidden {
			continue
		}
		out[key] = append(out[key], v)
	}
	return out
}

// headerRoundTripper injects sanitized headers into every request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (rt headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, vs := range rt.headers {
		clone.Header[k] = append([]string(nil), vs...)
	}
	return rt.base.RoundTrip(clone)
}

// Registry synchronizes connector tool catalogs with their MCP servers.
type Registry struct {
	tools      store.ToolStore
	connectors store.ConnectorStore
	client     *mcpsdk.Client
	log        *slog.Logger

	// Catalog refreshes are serialized per connector. A breaker per
	// connector keeps a flapping MCP server from being hammered; it is
	// reset whenever the transport configuration changes.
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
	lastCfg  map[string]TransportConfig
}

// New builds a Registry.
func New(tools store.ToolStore, connectors store.ConnectorStore, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools:      tools,
		connectors: connectors,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "kora-toolreg", Version: "1.0.0"},
			nil,
		),
		log:      log,
		locks:    make(map[string]*sync.Mutex),
		breakers: make(map[string]*resilience.CircuitBreaker),
		lastCfg:  make(map[string]TransportConfig),
	}
}

func (r *Registry) connectorLock(externalID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[externalID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[externalID] = l
	}
	return l
}

// breaker returns the connector's circuit breaker, resetting it when the
// transport configuration changed since the last refresh.
func (r *Registry) breaker(externalID string, cfg TransportConfig) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[externalID]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "mcp/" + externalID,
			Log:  r.log,
		})
		r.breakers[externalID] = cb
	} else if !cfg.equal(r.lastCfg[externalID]) {
		cb.Reset()
	}
	r.lastCfg[externalID] = cfg
	return cb
}

func (cfg TransportConfig) equal(other TransportConfig) bool {
	return cfg.Mode == other.Mode &&
		cfg.URL == other.URL &&
		cfg.Command == other.Command &&
		slices.Equal(cfg.Args, other.Args) &&
		maps.Equal(cfg.Headers, other.Headers) &&
		maps.Equal(cfg.Env, other.Env)
}

// buildTransport maps a TransportConfig onto an SDK transport.
func buildTransport(ctx context.Context, cfg TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Mode {
	case ModeStreamableHTTP, ModeSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("toolreg: %s transport requires a URL", cfg.Mode)
		}
		httpClient := &http.Client{
			Transport: headerRoundTripper{
				base:    http.DefaultTransport,
				headers: SanitizeHeaders(cfg.Headers),
			},
		}
		if cfg.Mode == ModeSSE {
			return &mcpsdk.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil

	case ModeStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("toolreg: stdio transport requires a command")
		}
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	}
	return nil, fmt.Errorf("toolreg: unknown transport mode %q", cfg.Mode)
}

// Refresh connects to the connector's MCP server, lists its tools, and
// replaces the persisted catalog atomically. The connector moves to
// Connected on success and Failed on any error.
func (r *Registry) Refresh(ctx context.Context, c *store.Connector, cfg TransportConfig) error {
	lock := r.connectorLock(c.ExternalID)
	lock.Lock()
	defer lock.Unlock()

	err := r.breaker(c.ExternalID, cfg).Execute(func() error {
		return r.refresh(ctx, c, cfg)
	})
	status := store.StatusConnected
	if err != nil {
		status = store.StatusFailed
		r.log.ErrorContext(ctx, "mcp catalog refresh failed",
			slog.String("connector", c.ExternalID), slog.Any("error", err))
	}
	if serr := r.connectors.UpdateStatus(ctx, c.ExternalID, status); serr != nil {
		r.log.ErrorContext(ctx, "update connector status",
			slog.String("connector", c.ExternalID), slog.Any("error", serr))
		if err == nil {
			err = serr
		}
	}
	return err
}

func (r *Registry) refresh(ctx context.Context, c *store.Connector, cfg TransportConfig) error {
	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to mcp server: %w", err)
	}
	defer session.Close()

	var tools []store.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = []byte(`{"type":"object"}`)
		}
		tools = append(tools, store.Tool{
			WorkspaceID: c.WorkspaceID,
			ConnectorID: c.ID,
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      string(schema),
		})
	}

	if err := r.tools.Sync(ctx, c.WorkspaceID, c.ID, tools); err != nil {
		return fmt.Errorf("sync tool catalog: %w", err)
	}
	r.log.InfoContext(ctx, "mcp catalog synchronized",
		slog.String("connector", c.ExternalID), slog.Int("tools", len(tools)))
	return nil
}

// StatusChange toggles one tool's enabled flag.
type StatusChange struct {
	ToolID  int64 `json:"toolId"`
	Enabled bool  `json:"enabled"`
}

// StatusFailure records one change that could not be applied.
type StatusFailure struct {
	ToolID int64  `json:"toolId"`
	Error  string `json:"error"`
}

// StatusResult is the partial-success shape of UpdateToolsStatus.
type StatusResult struct {
	Updated  int             `json:"updated"`
	Failures []StatusFailure `json:"failures,omitempty"`
}

// UpdateToolsStatus applies each change independently. A failing row never
// stops the rest; failures come back itemized.
func (r *Registry) UpdateToolsStatus(ctx context.Context, workspaceID string, changes []StatusChange) StatusResult {
	var result StatusResult
	for _, change := range changes {
		if err := r.tools.SetEnabled(ctx, workspaceID, change.ToolID, change.Enabled); err != nil {
			result.Failures = append(result.Failures, StatusFailure{ToolID: change.ToolID, Error: err.Error()})
			continue
		}
		result.Updated++
	}
	return result
}

// EnabledTools returns the workspace's enabled tool catalog, the only view
// tool selection may read.
func (r *Registry) EnabledTools(ctx context.Context, workspaceID string) ([]store.Tool, error) {
	return r.tools.ListEnabled(ctx, workspaceID)
}
