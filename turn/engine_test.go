package turn

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/agentrt/agentloop"
	"github.com/kadirpekel/agentrt/config"
	"github.com/kadirpekel/agentrt/convo"
	"github.com/kadirpekel/agentrt/gate"
	"github.com/kadirpekel/agentrt/invoker"
	"github.com/kadirpekel/agentrt/modelapi"
	"github.com/kadirpekel/agentrt/router"
	"github.com/kadirpekel/agentrt/toolapi"
)

// memStore is a minimal in-memory ConversationStore, sufficient to exercise
// the Turn Coordinator's load/filter/persist flow without a real backend.
type memStore struct {
	convs map[string][]convo.Message
}

func newMemStore() *memStore { return &memStore{convs: map[string][]convo.Message{}} }

func (s *memStore) Get(ctx context.Context, id string) (*convo.Conversation, bool, error) {
	msgs, ok := s.convs[id]
	if !ok {
		return nil, false, nil
	}
	return &convo.Conversation{ID: id, Messages: msgs}, true, nil
}
func (s *memStore) Set(ctx context.Context, id string, conv *convo.Conversation) error {
	s.convs[id] = conv.Messages
	return nil
}
func (s *memStore) Delete(ctx context.Context, id string) error { delete(s.convs, id); return nil }
func (s *memStore) Clear(ctx context.Context) error             { s.convs = map[string][]convo.Message{}; return nil }
func (s *memStore) AddMessage(ctx context.Context, id string, msg convo.Message) error {
	s.convs[id] = append(s.convs[id], msg)
	return nil
}
func (s *memStore) AddMessages(ctx context.Context, id string, msgs []convo.Message) error {
	s.convs[id] = append(s.convs[id], msgs...)
	return nil
}
func (s *memStore) GetHistory(ctx context.Context, id string) ([]convo.Message, error) {
	return s.convs[id], nil
}

// scriptedProvider returns one GenerateResult per agent id, consumed once
// per call to that agent (cycling on the last entry once exhausted).
type scriptedProvider struct {
	byAgent map[string][]modelapi.GenerateResult
	idx     map[string]int
}

func newScriptedProvider(byAgent map[string][]modelapi.GenerateResult) *scriptedProvider {
	return &scriptedProvider{byAgent: byAgent, idx: map[string]int{}}
}

func (p *scriptedProvider) GetModel(ctx context.Context, coords config.ModelCoordinates) (modelapi.ModelHandle, error) {
	return coords.ProviderID, nil
}

func (p *scriptedProvider) GenerateText(ctx context.Context, model modelapi.ModelHandle, req modelapi.GenerateRequest) (modelapi.GenerateResult, error) {
	agentID, _ := model.(string)
	results := p.byAgent[agentID]
	i := p.idx[agentID]
	r := results[i]
	if i < len(results)-1 {
		p.idx[agentID] = i + 1
	}
	return r, nil
}

func (p *scriptedProvider) StreamText(ctx context.Context, model modelapi.ModelHandle, req modelapi.GenerateRequest) (<-chan modelapi.ProviderEvent, error) {
	return nil, nil
}

func newTestAgent(id string) *config.AgentConfig {
	a := &config.AgentConfig{ID: id, Model: config.ModelCoordinates{ProviderID: id}}
	a.SetDefaults()
	return a
}

func buildEngine(t *testing.T, agents []*config.AgentConfig, provider *scriptedProvider, tools *toolapi.Registry, g *gate.Gate) (*Engine, *memStore) {
	t.Helper()
	if tools == nil {
		tools = toolapi.NewRegistry()
	}
	store := newMemStore()
	loop := agentloop.New(tools, invoker.New(g, nil), provider, nil)
	rtr := router.New()
	for _, a := range agents {
		rtr.RegisterAgent(router.Utterances{ID: a.ID, Phrases: []string{a.ID}})
	}
	rtr.DefaultAgentID = agents[0].ID

	e := New(tools, nil, g, loop, rtr, store, nil)
	for _, a := range agents {
		e.RegisterAgent(a)
	}
	return e, store
}

func TestProcessMessageBasicTurn(t *testing.T) {
	agent := newTestAgent("a1")
	provider := newScriptedProvider(map[string][]modelapi.GenerateResult{
		"a1": {{Text: "hi there"}},
	})
	e, store := buildEngine(t, []*config.AgentConfig{agent}, provider, nil, nil)

	resp, err := e.ProcessMessage(context.Background(), "", "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi there" || len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ConversationID == "" {
		t.Fatal("expected a minted conversation id")
	}

	history, _ := store.GetHistory(context.Background(), resp.ConversationID)
	if len(history) != 2 {
		t.Fatalf("expected exactly 2 persisted messages (user, assistant), got %d", len(history))
	}
	if history[0].Role != convo.RoleUser || history[1].Role != convo.RoleAssistant {
		t.Fatalf("unexpected message roles: %+v", history)
	}
}

func TestProcessMessagePolicyDeniesTool(t *testing.T) {
	agent := newTestAgent("a1")
	tools := toolapi.NewRegistry()
	called := false
	_ = tools.RegisterTool(toolapi.ToolDefinition{
		ID: "admin_tool", Name: "admin_tool",
		Invoker: func(ctx context.Context, in map[string]any) (toolapi.ToolResult, error) {
			called = true
			return toolapi.ToolResult{Success: true}, nil
		},
	})
	agent.ToolIDs = []string{"admin_tool"}

	bundle := &gate.PolicyBundle{Default: gate.PolicyRule{Deny: []string{"admin_tool"}}}
	g := gate.New(bundle)

	provider := newScriptedProvider(map[string][]modelapi.GenerateResult{
		"a1": {
			{ToolCalls: []modelapi.ToolCall{{ID: "tc1", Name: "admin_tool", Params: map[string]any{}}}},
			{Text: "done"},
		},
	})
	e, _ := buildEngine(t, []*config.AgentConfig{agent}, provider, tools, g)

	resp, err := e.ProcessMessage(context.Background(), "", "run the admin tool", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("denied tool must never actually be invoked")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Error == nil || resp.ToolCalls[0].Error.Code != "POLICY_DENIED" {
		t.Fatalf("expected a POLICY_DENIED tool call error, got %+v", resp.ToolCalls)
	}
}

func TestProcessMessageHandoffChain(t *testing.T) {
	a1 := newTestAgent("a1")
	a2 := newTestAgent("a2")
	a3 := newTestAgent("a3")
	for _, a := range []*config.AgentConfig{a1, a2, a3} {
		a.ToolIDs = []string{"handoff_to_agent"}
	}

	provider := newScriptedProvider(map[string][]modelapi.GenerateResult{
		"a1": {{ToolCalls: []modelapi.ToolCall{{ID: "t1", Name: "handoff_to_agent", Params: map[string]any{"agentId": "a2"}}}}},
		"a2": {{ToolCalls: []modelapi.ToolCall{{ID: "t2", Name: "handoff_to_agent", Params: map[string]any{"agentId": "a3"}}}}},
		"a3": {{Text: "done"}},
	})

	// handoff_to_agent is the engine's own built-in tool (registered by New/
	// RegisterAgent); no test-side stub is needed or wanted here.
	e, _ := buildEngine(t, []*config.AgentConfig{a1, a2, a3}, provider, nil, nil)

	resp, err := e.ProcessMessage(context.Background(), "", "a1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("expected final content 'done' from a3, got %q", resp.Content)
	}
	if resp.Handoff == nil || resp.Handoff.ToAgentID != "a3" {
		t.Fatalf("expected handoff info pointing at a3, got %+v", resp.Handoff)
	}
}

func TestProcessMessageHandoffUnknownAgentFailsWithListing(t *testing.T) {
	a1 := newTestAgent("a1")
	a1.ToolIDs = []string{"handoff_to_agent"}
	a2 := newTestAgent("a2")

	provider := newScriptedProvider(map[string][]modelapi.GenerateResult{
		"a1": {
			{ToolCalls: []modelapi.ToolCall{{ID: "t1", Name: "handoff_to_agent", Params: map[string]any{"agentId": "ghost"}}}},
			{Text: "couldn't transfer"},
		},
	})

	e, _ := buildEngine(t, []*config.AgentConfig{a1, a2}, provider, nil, nil)

	resp, err := e.ProcessMessage(context.Background(), "", "a1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Handoff != nil {
		t.Fatalf("expected no handoff to occur for an unknown target, got %+v", resp.Handoff)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Error == nil {
		t.Fatalf("expected the handoff call to surface as a tool error, got %+v", resp.ToolCalls)
	}
	msg := resp.ToolCalls[0].Error.Message
	if !strings.Contains(msg, "ghost") || !strings.Contains(msg, "a1") || !strings.Contains(msg, "a2") {
		t.Fatalf("expected error to name the unknown agent and list known agents, got %q", msg)
	}
}
