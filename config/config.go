// Package config holds the engine's own configuration types: agent
// definitions, retry policies, and MCP server descriptors. Every type here
// follows the SetDefaults/Validate idiom used across the runtime so callers
// can build a value field-by-field and normalize it in one call.
package config

import (
	"fmt"
	"regexp"
	"time"
)

var identifierPattern = regexp.MustCompile(`^\S+$`)

// RetryPolicy controls the Tool Invoker's classified-retry behavior.
type RetryPolicy struct {
	MaxRetries   int `yaml:"max_retries"`
	BackoffMs    int `yaml:"backoff_ms"`
	MaxBackoffMs int `yaml:"max_backoff_ms"`
	JitterMs     int `yaml:"jitter_ms"`
}

func (p *RetryPolicy) SetDefaults() {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.BackoffMs == 0 {
		p.BackoffMs = 1000
	}
	if p.MaxBackoffMs == 0 {
		p.MaxBackoffMs = 10000
	}
	if p.JitterMs == 0 {
		p.JitterMs = 200
	}
}

func (p *RetryPolicy) Validate() error {
	if p.MaxRetries < 0 || p.BackoffMs < 0 || p.MaxBackoffMs < 0 || p.JitterMs < 0 {
		return fmt.Errorf("retry policy: all fields must be non-negative")
	}
	if p.BackoffMs > p.MaxBackoffMs {
		return fmt.Errorf("retry policy: backoff_ms (%d) must not exceed max_backoff_ms (%d)", p.BackoffMs, p.MaxBackoffMs)
	}
	return nil
}

// ToolChoice mirrors the provider-facing tool-choice directive.
type ToolChoice struct {
	Mode string // "auto" | "required" | "none" | "tool"
	Tool string // set when Mode == "tool"
}

var AutoToolChoice = ToolChoice{Mode: "auto"}

// ModelCoordinates identifies a model a ModelProvider can resolve.
type ModelCoordinates struct {
	ProviderID  string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// AgentConfig describes one agent: its prompt, model, tools, and policies.
type AgentConfig struct {
	ID                   string
	SystemPromptTemplate string
	Model                ModelCoordinates
	ToolIDs              []string
	Utterances           []string
	MaxSteps             int
	NonStreamingStepCap  int
	ToolChoice           ToolChoice
	ToolTimeout          time.Duration
	RetryPolicy          RetryPolicy
	MCPServerIDs         []string

	// DisableHistory opts an agent out of turn-history persistence. The spec's
	// `persistHistory` flag defaults true ("persistHistory ≠ false"), which a
	// plain bool field cannot express as a Go zero value without this
	// inversion: zero value (false) keeps persistence on by default.
	DisableHistory bool
}

// PersistHistory reports whether this agent's turns should be written back
// to the ConversationStore, per §4.9 step 7's "persistHistory ≠ false".
func (a *AgentConfig) PersistHistory() bool {
	return !a.DisableHistory
}

func (a *AgentConfig) SetDefaults() {
	if a.MaxSteps == 0 {
		a.MaxSteps = 20
	}
	if a.NonStreamingStepCap == 0 {
		a.NonStreamingStepCap = 3
	}
	if a.ToolChoice.Mode == "" {
		a.ToolChoice = AutoToolChoice
	}
	if a.ToolTimeout == 0 {
		a.ToolTimeout = 300_000 * time.Millisecond
	}
	a.RetryPolicy.SetDefaults()
}

func (a *AgentConfig) Validate() error {
	if a.ID == "" || !identifierPattern.MatchString(a.ID) {
		return fmt.Errorf("agent config: id must be non-empty and contain no whitespace")
	}
	if a.MaxSteps < 1 {
		return fmt.Errorf("agent config '%s': max_steps must be >= 1", a.ID)
	}
	if err := a.RetryPolicy.Validate(); err != nil {
		return fmt.Errorf("agent config '%s': %w", a.ID, err)
	}
	return nil
}

// EffectiveNonStreamingMaxSteps implements the non-streaming step cap: the
// smaller of MaxSteps and NonStreamingStepCap (default 3).
func (a *AgentConfig) EffectiveNonStreamingMaxSteps() int {
	cap := a.NonStreamingStepCap
	if cap == 0 {
		cap = 3
	}
	if a.MaxSteps < cap {
		return a.MaxSteps
	}
	return cap
}

// MCPTransport enumerates the supported MCP connection kinds.
type MCPTransport string

const (
	TransportStdio MCPTransport = "stdio"
	TransportHTTP  MCPTransport = "http"
	TransportSSE   MCPTransport = "sse"
)

// MCPServerConfig describes one external tool server.
type MCPServerConfig struct {
	ID                  string
	Transport           MCPTransport
	Command             string
	Args                []string
	Env                 map[string]string
	URL                 string
	Lazy                bool
	HealthInterval      time.Duration
	ReconnectMaxRetries int
}

func (c *MCPServerConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if c.ReconnectMaxRetries == 0 {
		c.ReconnectMaxRetries = 3
	}
}

func (c *MCPServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("mcp server config: id cannot be empty")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server '%s': stdio transport requires a command", c.ID)
		}
	case TransportHTTP, TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("mcp server '%s': %s transport requires a url", c.ID, c.Transport)
		}
	default:
		return fmt.Errorf("mcp server '%s': unsupported transport %q", c.ID, c.Transport)
	}
	return nil
}
