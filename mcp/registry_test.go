package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/agentrt/config"
)

type fakeClient struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}
func (f *fakeClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "echo", Description: "echoes input"}}}, nil
}
func (f *fakeClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestEnsureConnectedCollapsesConcurrentCalls(t *testing.T) {
	var initCount int32
	dial := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		atomic.AddInt32(&initCount, 1)
		time.Sleep(5 * time.Millisecond)
		return &fakeClient{}, nil
	}
	r := New(dial)
	r.RegisterLazy(config.MCPServerConfig{ID: "srv1", Transport: config.TransportStdio, Command: "x"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.EnsureConnected(context.Background(), "srv1")
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&initCount); got != 1 {
		t.Fatalf("expected exactly one initialize under concurrent ensureConnected, got %d", got)
	}
	status, _ := r.Status("srv1")
	if status != StatusConnected {
		t.Fatalf("expected connected status, got %s", status)
	}
}

func TestDiscoverToolsNamespacesIDs(t *testing.T) {
	dial := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		return &fakeClient{}, nil
	}
	r := New(dial)
	r.RegisterAndConnect(context.Background(), config.MCPServerConfig{ID: "srv1", Transport: config.TransportStdio, Command: "x"})

	defs, err := r.DiscoverTools(context.Background(), "srv1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "srv1/echo" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
}

func TestDiscoverAllSkipsDisconnectedServers(t *testing.T) {
	dial := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		if cfg.ID == "bad" {
			return nil, fmt.Errorf("boom")
		}
		return &fakeClient{}, nil
	}
	r := New(dial)
	r.RegisterAndConnect(context.Background(), config.MCPServerConfig{ID: "good", Transport: config.TransportStdio, Command: "x"})
	r.RegisterLazy(config.MCPServerConfig{ID: "bad", Transport: config.TransportStdio, Command: "x"})

	defs := r.DiscoverAll(context.Background())
	if len(defs) != 1 || defs[0].ID != "good/echo" {
		t.Fatalf("expected only the connected server's tools, got %+v", defs)
	}
}

func TestReconnectRetriesWithBackoffThenSucceeds(t *testing.T) {
	var attempts int32
	dial := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, fmt.Errorf("connection refused")
		}
		return &fakeClient{}, nil
	}
	r := New(dial)
	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }
	r.RegisterLazy(config.MCPServerConfig{ID: "srv1", Transport: config.TransportStdio, Command: "x", ReconnectMaxRetries: 5})

	r.reconnect("srv1")

	status, _ := r.Status("srv1")
	if status != StatusConnected {
		t.Fatalf("expected eventual reconnect, got status %s after %d attempts", status, attempts)
	}
	if len(slept) != 2 || slept[0] != 1*time.Second || slept[1] != 2*time.Second {
		t.Fatalf("expected backoff 1s,2s, got %v", slept)
	}
}
