package agentloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/convo"
	"github.com/kadirpekel/agentrt/invoker"
	"github.com/kadirpekel/agentrt/modelapi"
	"github.com/kadirpekel/agentrt/toolapi"
)

type scriptedProvider struct {
	results []modelapi.GenerateResult
	i       int
}

func (p *scriptedProvider) GetModel(ctx context.Context, coords config.ModelCoordinates) (modelapi.ModelHandle, error) {
	return nil, nil
}
func (p *scriptedProvider) GenerateText(ctx context.Context, model modelapi.ModelHandle, req modelapi.GenerateRequest) (modelapi.GenerateResult, error) {
	r := p.results[p.i]
	if p.i < len(p.results)-1 {
		p.i++
	}
	return r, nil
}
func (p *scriptedProvider) StreamText(ctx context.Context, model modelapi.ModelHandle, req modelapi.GenerateRequest) (<-chan modelapi.ProviderEvent, error) {
	return nil, nil
}

func newAgent(id string) *config.AgentConfig {
	a := &config.AgentConfig{ID: id}
	a.SetDefaults()
	return a
}

func TestRunBasicTurnProducesFinalText(t *testing.T) {
	provider := &scriptedProvider{results: []modelapi.GenerateResult{{Text: "hi there"}}}
	loop := New(toolapi.NewRegistry(), invoker.New(nil, nil), provider, nil)

	res, err := loop.Run(context.Background(), RunInput{
		Agent:          newAgent("a1"),
		UserMessage:    "hello",
		AllowedToolIDs: map[string]bool{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "hi there" || len(res.ToolCalls) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunExecutesToolCallThenFinishes(t *testing.T) {
	tools := toolapi.NewRegistry()
	_ = tools.RegisterTool(toolapi.ToolDefinition{
		ID: "search", Name: "search",
		Invoker: func(ctx context.Context, in map[string]any) (toolapi.ToolResult, error) {
			return toolapi.ToolResult{Success: true, Output: "3 results"}, nil
		},
	})
	provider := &scriptedProvider{results: []modelapi.GenerateResult{
		{ToolCalls: []modelapi.ToolCall{{ID: "tc1", Name: "search", Params: map[string]any{"q": "go"}}}},
		{Text: "found 3 results"},
	}}
	loop := New(tools, invoker.New(nil, nil), provider, nil)

	res, err := loop.Run(context.Background(), RunInput{
		Agent:          newAgent("a1"),
		UserMessage:    "search for go",
		AllowedToolIDs: map[string]bool{"search": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "found 3 results" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Result != "3 results" {
		t.Fatalf("unexpected tool calls: %+v", res.ToolCalls)
	}
}

func TestRunDetectsHandoffSignal(t *testing.T) {
	tools := toolapi.NewRegistry()
	_ = tools.RegisterTool(toolapi.ToolDefinition{
		ID: "handoff_to_agent", Name: "handoff_to_agent",
		Invoker: func(ctx context.Context, in map[string]any) (toolapi.ToolResult, error) {
			return toolapi.ToolResult{Success: true}, nil
		},
	})
	provider := &scriptedProvider{results: []modelapi.GenerateResult{
		{ToolCalls: []modelapi.ToolCall{{ID: "tc1", Name: "handoff_to_agent", Params: map[string]any{"agentId": "a2"}}}},
	}}
	loop := New(tools, invoker.New(nil, nil), provider, nil)

	res, err := loop.Run(context.Background(), RunInput{
		Agent:          newAgent("a1"),
		UserMessage:    "transfer me",
		AllowedToolIDs: map[string]bool{"handoff_to_agent": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Handoff == nil || res.Handoff.AgentID != "a2" {
		t.Fatalf("expected handoff signal targeting a2, got %+v", res.Handoff)
	}
}

func TestRunExecutesMultipleToolCallsConcurrentlyInOrder(t *testing.T) {
	tools := toolapi.NewRegistry()
	var mu sync.Mutex
	var started []string
	release := make(chan struct{})
	slow := func(name string, out string) toolapi.InvokeFunc {
		return func(ctx context.Context, in map[string]any) (toolapi.ToolResult, error) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
			<-release
			return toolapi.ToolResult{Success: true, Output: out}, nil
		}
	}
	_ = tools.RegisterTool(toolapi.ToolDefinition{ID: "a", Name: "a", Invoker: slow("a", "A")})
	_ = tools.RegisterTool(toolapi.ToolDefinition{ID: "b", Name: "b", Invoker: slow("b", "B")})

	provider := &scriptedProvider{results: []modelapi.GenerateResult{
		{ToolCalls: []modelapi.ToolCall{
			{ID: "tc1", Name: "a"},
			{ID: "tc2", Name: "b"},
		}},
		{Text: "done"},
	}}
	loop := New(tools, invoker.New(nil, nil), provider, nil)

	done := make(chan struct{})
	go func() {
		res, err := loop.Run(context.Background(), RunInput{
			Agent:          newAgent("a1"),
			UserMessage:    "go",
			AllowedToolIDs: map[string]bool{"a": true, "b": true},
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(res.ToolCalls) != 2 || res.ToolCalls[0].ToolID != "a" || res.ToolCalls[1].ToolID != "b" {
			t.Errorf("expected results reported in call order a,b; got %+v", res.ToolCalls)
		}
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(func() []string { mu.Lock(); defer mu.Unlock(); return started }()) < 2 {
		select {
		case <-deadline:
			t.Fatal("both tool calls never started concurrently")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	<-done
}

func TestFilterHistoryDropsDisallowedToolParts(t *testing.T) {
	history := []convo.Message{
		convo.NewUserMessage("u1", "hi"),
		convo.NewAssistantMessage("a1", []convo.Part{
			convo.ToolCallPart("tc1", "other_tool", nil),
		}),
	}
	out := filterHistory(history, map[string]bool{"search": true})
	if len(out) != 1 {
		t.Fatalf("expected message with only disallowed tool call to be dropped entirely, got %+v", out)
	}
}
