package streamevt

import "testing"

func TestPipelineSequenceIsMonotonic(t *testing.T) {
	clock := int64(1000)
	now := func() int64 { clock++; return clock }
	p := NewPipeline("run1", "", 16, now)
	cancelled := make(chan struct{})

	p.RunStart(RunStartInput{Message: "hi"}, cancelled)
	p.StepStart(0, cancelled)
	p.ToolCall(0, "tc1", "search", nil, cancelled)
	p.ToolResult(0, "tc1", "search", "ok", nil, cancelled)
	p.StepComplete(0, cancelled)
	p.RunEnd(2000, 1000, RunEndResult{Content: "done"}, cancelled)
	p.Close()

	var last uint64
	var sawCall bool
	for e := range p.Out() {
		if e.Sequence <= last {
			t.Fatalf("sequence did not increase: %d after %d", e.Sequence, last)
		}
		last = e.Sequence
		if e.Type == KindToolCall {
			sawCall = true
		}
		if e.Type == KindToolResult && !sawCall {
			t.Fatal("tool-result observed before its tool-call")
		}
	}
}

func TestPipelineEmitRespectsCancellation(t *testing.T) {
	p := NewPipeline("run1", "", 0, func() int64 { return 0 })
	cancelled := make(chan struct{})
	close(cancelled)

	ok := p.Emit(Event{Type: KindStepStart}, cancelled)
	if ok {
		t.Fatal("expected Emit to report cancellation when the buffer is full and cancelled is closed")
	}
}
