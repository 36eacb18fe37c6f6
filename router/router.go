// Package router implements the Router (C8): deterministic target
// selection for a user message, trying a rule-based router, then agent and
// pipeline utterance matching, then intent matching, then a default agent.
package router

import (
	"regexp"
	"strings"
)

// TargetKind discriminates what the router chose.
type TargetKind string

const (
	TargetAgent    TargetKind = "agent"
	TargetPipeline TargetKind = "pipeline"
	TargetIntent   TargetKind = "intent"
	TargetNone     TargetKind = "none"
)

// Target is the router's decision for one message.
type Target struct {
	Kind               TargetKind
	AgentID            string
	PipelineID         string
	IntentID           string
	Confidence         float64
	PrecomputedResponse *string
}

// MessageRouter is an optional external, rule-based router consulted first.
type MessageRouter interface {
	Route(message string) (Target, bool)
}

// SemanticMatcher is the external collaborator of §6: an optional
// similarity matcher used after exact/regex utterance matching fails.
type SemanticMatcher interface {
	Match(message string, utterances []string) (matched bool, confidence float64, utterance string)
}

// Utterances carries an entity's match patterns; entries are tried exact
// first, then as regexes.
type Utterances struct {
	ID     string
	Phrases []string
}

// Intent is a named utterance-matched action.
type Intent struct {
	ID         string
	Utterances []string
	AgentID    string // set if the intent targets an agent
	Execute    func(message string) (Target, bool)
}

// Router holds the registered entities in registration order; within a
// class the first-registered match wins.
type Router struct {
	MessageRouter   MessageRouter
	Agents          []Utterances
	Pipelines       []Utterances
	Intents         []Intent
	DefaultAgentID  string
	Semantic        SemanticMatcher
}

func New() *Router { return &Router{} }

func (r *Router) RegisterAgent(u Utterances)    { r.Agents = append(r.Agents, u) }
func (r *Router) RegisterPipeline(u Utterances) { r.Pipelines = append(r.Pipelines, u) }
func (r *Router) RegisterIntent(i Intent)       { r.Intents = append(r.Intents, i) }

// Route implements the five-step deterministic procedure of §4.8.
func (r *Router) Route(message string) Target {
	if r.MessageRouter != nil {
		if t, ok := r.MessageRouter.Route(message); ok {
			return t
		}
	}

	if id, conf, ok := matchUtterances(message, r.Agents, r.Semantic); ok {
		return Target{Kind: TargetAgent, AgentID: id, Confidence: conf}
	}

	if id, conf, ok := matchUtterances(message, r.Pipelines, r.Semantic); ok {
		return Target{Kind: TargetPipeline, PipelineID: id, Confidence: conf}
	}

	for _, intent := range r.Intents {
		if matchesAny(message, intent.Utterances) {
			if intent.Execute != nil {
				if t, ok := intent.Execute(message); ok {
					return t
				}
			}
			return Target{Kind: TargetIntent, IntentID: intent.ID, AgentID: intent.AgentID}
		}
	}

	if r.DefaultAgentID != "" {
		return Target{Kind: TargetAgent, AgentID: r.DefaultAgentID}
	}
	return Target{Kind: TargetNone}
}

func matchesAny(message string, phrases []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	for _, p := range phrases {
		if strings.ToLower(strings.TrimSpace(p)) == normalized {
			return true
		}
	}
	for _, p := range phrases {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue // invalid regex patterns are skipped silently
		}
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// matchUtterances tries exact match (confidence 1.0), then regex partial
// match (confidence 0.8), then semantic match, across entities in
// registration order. The first entity to match at a given stage wins;
// exact match is checked for every entity before any entity's regex stage
// runs, per §4.8's "try exact first, then regex, then semantic".
func matchUtterances(message string, entities []Utterances, semantic SemanticMatcher) (string, float64, bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))

	for _, e := range entities {
		for _, p := range e.Phrases {
			if strings.ToLower(strings.TrimSpace(p)) == normalized {
				return e.ID, 1.0, true
			}
		}
	}

	for _, e := range entities {
		for _, p := range e.Phrases {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				continue
			}
			if re.MatchString(message) {
				return e.ID, 0.8, true
			}
		}
	}

	if semantic != nil {
		for _, e := range entities {
			if matched, confidence, _ := semantic.Match(message, e.Phrases); matched {
				return e.ID, confidence, true
			}
		}
	}

	return "", 0, false
}
