// Package agentrt is an orchestration runtime for multi-agent LLM
// applications: a user message enters through turn.Engine and is routed to
// an agent, a pipeline, or an intent-bound action, each of which may invoke
// external tools under policy, timeout, and retry budgets and may hand off
// control to another agent mid-turn.
//
// The engine is assembled from nine leaf-first components:
//
//	toolapi    Tool Registry (C1)         holds ToolDefinitions, infers capabilities
//	mcp        MCP Client Registry (C2)   external tool server lifecycle, health, reconnect
//	gate       Tool Gate (C3)             layered allow/deny/approval policy decisions
//	invoker    Tool Invoker (C4)          validation, timeout, classified retry, spans
//	agentloop  Agent Step Loop (C5)       drives one agent's bounded LLM+tool loop
//	streamevt  Stream Event Pipeline (C6) one ordered event sequence per turn
//	handoff    Handoff Controller (C7)    chains agents on a handoff signal
//	router     Router (C8)                picks agent/pipeline/intent per message
//	turn       Turn Coordinator (C9)      top-level per-turn orchestration
//
// Configuration types (AgentConfig, RetryPolicy, MCPServerConfig) live in
// config; the PolicyBundle the Tool Gate evaluates lives in gate. convo
// holds the Conversation/Message data model and the
// ConversationStore interface; sqlitestore supplies a reference
// implementation of that interface. policyctx derives a PolicyContext from
// an inbound bearer token. telemetry wraps the OpenTelemetry trace API
// behind the engine's Tracer/Span interfaces.
//
// Model providers, conversation storage backends, semantic-similarity
// matching, OTLP export wiring, and CLI surfaces are consumed only through
// the interfaces declared in modelapi, convo, and router; this module
// ships reference implementations of some of them for testing but treats
// none as load-bearing production infrastructure.
package agentrt
