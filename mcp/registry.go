// Package mcp implements the MCP Client Registry (C2): lifecycle, health
// monitoring, reconnect-with-backoff, and tool discovery for external MCP
// servers, built on the real github.com/mark3labs/mcp-go client SDK.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/internal/obslog"
	"github.com/kadirpekel/agentrt/toolapi"
)

type Status string

const (
	StatusUnregistered Status = "unregistered"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Client is the subset of mcpclient.Client the registry depends on. Defined
// here so tests can substitute a fake without touching a real process or
// socket.
type Client interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer constructs and initializes a Client for the given server config.
// The default dials a real mcp-go client; tests inject a fake.
type Dialer func(ctx context.Context, cfg config.MCPServerConfig) (Client, error)

func DefaultDialer(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
	var c *mcpclient.Client
	var err error

	switch cfg.Transport {
	case config.TransportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case config.TransportSSE:
		c, err = mcpclient.NewSSEMCPClient(cfg.URL)
	case config.TransportHTTP:
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentrt", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

type serverEntry struct {
	cfg        config.MCPServerConfig
	mu         sync.Mutex
	client     Client
	status     Status
	stopHealth chan struct{}
}

// Registry owns the mapping from server id to connection state, per §4.2.
type Registry struct {
	mu             sync.RWMutex
	order          []string
	entries        map[string]*serverEntry
	connectGroup   singleflight.Group
	reconnectGroup singleflight.Group
	dial           Dialer
	sleep          func(time.Duration)
	log            *slog.Logger
}

func New(dial Dialer) *Registry {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Registry{
		entries: make(map[string]*serverEntry),
		dial:    dial,
		sleep:   time.Sleep,
		log:     obslog.New("mcp.registry"),
	}
}

// RegisterAndConnect initializes the client immediately; on failure it logs
// a warning and leaves the server unregistered rather than returning an
// error the caller must handle specially.
func (r *Registry) RegisterAndConnect(ctx context.Context, cfg config.MCPServerConfig) {
	cfg.SetDefaults()
	entry := &serverEntry{cfg: cfg, status: StatusConnecting}
	r.add(cfg.ID, entry)

	client, err := r.dial(ctx, cfg)
	if err != nil {
		r.log.Warn("mcp server connect failed", "server", cfg.ID, "err", err)
		r.remove(cfg.ID)
		return
	}
	entry.mu.Lock()
	entry.client = client
	entry.status = StatusConnected
	entry.mu.Unlock()

	if cfg.HealthInterval > 0 {
		r.startHealthLoop(cfg.ID)
	}
}

// RegisterLazy stores the config without connecting.
func (r *Registry) RegisterLazy(cfg config.MCPServerConfig) {
	cfg.SetDefaults()
	cfg.Lazy = true
	r.add(cfg.ID, &serverEntry{cfg: cfg, status: StatusDisconnected})
}

func (r *Registry) add(id string, e *serverEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = e
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *Registry) get(id string) (*serverEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) Status(id string) (Status, bool) {
	e, ok := r.get(id)
	if !ok {
		return StatusUnregistered, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, true
}

// EnsureConnected lazily connects server id. Concurrent callers collapse to
// at-most-one in-flight Initialize via singleflight.
func (r *Registry) EnsureConnected(ctx context.Context, id string) error {
	e, ok := r.get(id)
	if !ok {
		return fmt.Errorf("mcp server '%s' is not registered", id)
	}
	e.mu.Lock()
	if e.status == StatusConnected {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	_, err, _ := r.connectGroup.Do(id, func() (any, error) {
		e.mu.Lock()
		if e.status == StatusConnected {
			e.mu.Unlock()
			return nil, nil
		}
		e.status = StatusConnecting
		cfg := e.cfg
		e.mu.Unlock()

		client, dialErr := r.dial(ctx, cfg)
		e.mu.Lock()
		defer e.mu.Unlock()
		if dialErr != nil {
			e.status = StatusError
			return nil, dialErr
		}
		e.client = client
		e.status = StatusConnected
		return nil, nil
	})
	return err
}

// DiscoverTools lists server id's native tools and wraps them as proxy
// ToolDefinitions namespaced "<id>/<toolName>".
func (r *Registry) DiscoverTools(ctx context.Context, id string) ([]toolapi.ToolDefinition, error) {
	e, ok := r.get(id)
	if !ok {
		return nil, fmt.Errorf("mcp server '%s' is not registered", id)
	}
	e.mu.Lock()
	client := e.client
	status := e.status
	e.mu.Unlock()
	if status != StatusConnected || client == nil {
		return nil, fmt.Errorf("mcp server '%s' is not connected", id)
	}

	resp, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server '%s': list tools: %w", id, err)
	}

	defs := make([]toolapi.ToolDefinition, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		name := t.Name
		fullID := id + "/" + name
		defs = append(defs, toolapi.ToolDefinition{
			ID:          fullID,
			Name:        fullID,
			Description: t.Description,
			Invoker:     r.remoteInvoker(id, name),
		})
	}
	return defs, nil
}

func (r *Registry) remoteInvoker(serverID, toolName string) toolapi.InvokeFunc {
	return func(ctx context.Context, input map[string]any) (toolapi.ToolResult, error) {
		e, ok := r.get(serverID)
		if !ok {
			return toolapi.ToolResult{}, fmt.Errorf("mcp server '%s' is not registered", serverID)
		}
		e.mu.Lock()
		client := e.client
		status := e.status
		e.mu.Unlock()
		if status != StatusConnected || client == nil {
			return toolapi.ToolResult{Success: false, Error: fmt.Sprintf("mcp server '%s' is disconnected", serverID)}, nil
		}

		req := mcp.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = input
		resp, err := client.CallTool(ctx, req)
		if err != nil {
			return toolapi.ToolResult{}, err
		}
		return toolapi.ToolResult{Success: !resp.IsError, Output: resp.Content, ToolName: toolName}, nil
	}
}

// DiscoverAll iterates every registered server, skipping disconnected ones
// with a warning; it never aborts the whole scan on one server's failure.
func (r *Registry) DiscoverAll(ctx context.Context) []toolapi.ToolDefinition {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	sort.Strings(ids)
	var out []toolapi.ToolDefinition
	for _, id := range ids {
		defs, err := r.DiscoverTools(ctx, id)
		if err != nil {
			r.log.Warn("skipping disconnected mcp server during discovery", "server", id, "err", err)
			continue
		}
		out = append(out, defs...)
	}
	return out
}

// StartHealthLoop runs one cooperative timer for server id; exported for
// callers that register lazily and want health monitoring once connected.
func (r *Registry) StartHealthLoop(id string) { r.startHealthLoop(id) }

func (r *Registry) startHealthLoop(id string) {
	e, ok := r.get(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.stopHealth != nil {
		e.mu.Unlock()
		return
	}
	interval := e.cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stop := make(chan struct{})
	e.stopHealth = stop
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !r.checkConnected(id) {
					r.reconnect(id)
				}
			}
		}
	}()
}

func (r *Registry) checkConnected(id string) bool {
	e, ok := r.get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	client := e.client
	status := e.status
	e.mu.Unlock()
	if status != StatusConnected || client == nil {
		return false
	}
	_, err := client.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		e.mu.Lock()
		e.status = StatusDisconnected
		e.mu.Unlock()
		return false
	}
	return true
}

// reconnect retries up to cfg.ReconnectMaxRetries (default 3) with backoff
// 1s, 2s, 4s (powers of two). At-most-one reconnect is in flight per id.
func (r *Registry) reconnect(id string) {
	_, _, _ = r.reconnectGroup.Do(id, func() (any, error) {
		e, ok := r.get(id)
		if !ok {
			return nil, nil
		}
		e.mu.Lock()
		e.status = StatusConnecting
		cfg := e.cfg
		e.mu.Unlock()

		maxRetries := cfg.ReconnectMaxRetries
		if maxRetries == 0 {
			maxRetries = 3
		}

		for attempt := 0; attempt < maxRetries; attempt++ {
			client, err := r.dial(context.Background(), cfg)
			if err == nil {
				e.mu.Lock()
				e.client = client
				e.status = StatusConnected
				e.mu.Unlock()
				if _, derr := r.DiscoverTools(context.Background(), id); derr != nil {
					r.log.Warn("re-discovery after reconnect failed", "server", id, "err", derr)
				}
				return nil, nil
			}
			r.log.Warn("mcp reconnect attempt failed", "server", id, "attempt", attempt, "err", err)
			r.sleep(time.Duration(1<<attempt) * time.Second)
		}

		e.mu.Lock()
		e.status = StatusError
		stop := e.stopHealth
		e.stopHealth = nil
		e.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		r.log.Warn("mcp server exhausted reconnect attempts", "server", id)
		return nil, nil
	})
}

// Shutdown stops all health loops first, then closes all clients in
// registration order, swallowing per-client close errors.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, id := range ids {
		e, ok := r.get(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.stopHealth != nil {
			close(e.stopHealth)
			e.stopHealth = nil
		}
		e.mu.Unlock()
	}
	for _, id := range ids {
		e, ok := r.get(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		client := e.client
		e.mu.Unlock()
		if client != nil {
			if err := client.Close(); err != nil {
				r.log.Warn("error closing mcp client", "server", id, "err", err)
			}
		}
	}
}
