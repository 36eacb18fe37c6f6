package router

import "testing"

func TestRouteExactMatchBeatsRegex(t *testing.T) {
	r := New()
	r.RegisterAgent(Utterances{ID: "weather_agent", Phrases: []string{"what's the weather"}})
	r.RegisterAgent(Utterances{ID: "catch_all", Phrases: []string{"what.*"}})

	target := r.Route("What's the weather")
	if target.Kind != TargetAgent || target.AgentID != "weather_agent" || target.Confidence != 1.0 {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestRouteFirstRegistrationWinsWithinClass(t *testing.T) {
	r := New()
	r.RegisterAgent(Utterances{ID: "first", Phrases: []string{"help.*"}})
	r.RegisterAgent(Utterances{ID: "second", Phrases: []string{"help.*"}})

	target := r.Route("help me please")
	if target.AgentID != "first" {
		t.Fatalf("expected first-registered agent to win, got %s", target.AgentID)
	}
}

func TestRouteAgentsOutrankPipelines(t *testing.T) {
	r := New()
	r.RegisterPipeline(Utterances{ID: "pipeline1", Phrases: []string{"run report"}})
	r.RegisterAgent(Utterances{ID: "agent1", Phrases: []string{"run report"}})

	target := r.Route("run report")
	if target.Kind != TargetAgent || target.AgentID != "agent1" {
		t.Fatalf("expected agent match to outrank pipeline match: %+v", target)
	}
}

func TestRouteFallsBackToIntentThenDefault(t *testing.T) {
	r := New()
	r.RegisterIntent(Intent{ID: "greet", Utterances: []string{"hello"}})
	r.DefaultAgentID = "fallback"

	intentTarget := r.Route("hello")
	if intentTarget.Kind != TargetIntent || intentTarget.IntentID != "greet" {
		t.Fatalf("expected intent match: %+v", intentTarget)
	}

	defaultTarget := r.Route("something else entirely")
	if defaultTarget.Kind != TargetAgent || defaultTarget.AgentID != "fallback" {
		t.Fatalf("expected default agent fallback: %+v", defaultTarget)
	}
}

func TestRouteReturnsNoneWhenNothingMatches(t *testing.T) {
	r := New()
	target := r.Route("anything")
	if target.Kind != TargetNone {
		t.Fatalf("expected none, got %+v", target)
	}
}

func TestRouteSkipsInvalidRegexSilently(t *testing.T) {
	r := New()
	r.RegisterAgent(Utterances{ID: "broken", Phrases: []string{"(unterminated"}})
	r.RegisterAgent(Utterances{ID: "ok", Phrases: []string{"hello.*"}})

	target := r.Route("hello there")
	if target.AgentID != "ok" {
		t.Fatalf("expected invalid regex to be skipped, got %+v", target)
	}
}
