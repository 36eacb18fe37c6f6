package streamevt

import (
	"sync/atomic"

	"github.com/kadirpekel/agentrt/modelapi"
)

// Pipeline is the single writer for one turn's event stream: it assigns
// strictly increasing sequence numbers and forwards events to Out. Only the
// goroutine that owns a Pipeline may call Emit — concurrent tool
// invocations must hand their events back to that one goroutine rather than
// writing to the channel themselves, which is what keeps ordering invariant
// 6 (sequence numbers never repeat or decrease) trivially true.
type Pipeline struct {
	runID    string
	threadID string
	seq      uint64
	out      chan Event
	now      func() int64
}

// NewPipeline creates a pipeline with the given buffer size for Out. now
// supplies the emittedAt clock (unix ms); tests can substitute a fake clock
// to assert monotonicity deterministically.
func NewPipeline(runID, threadID string, bufSize int, now func() int64) *Pipeline {
	return &Pipeline{runID: runID, threadID: threadID, out: make(chan Event, bufSize), now: now}
}

func (p *Pipeline) Out() <-chan Event { return p.out }

func (p *Pipeline) Close() { close(p.out) }

// Emit stamps e with the next sequence number and emission time and sends it.
// It returns false if cancelled was closed before the send could complete,
// meaning no further events should be produced (ordering invariant 7).
func (p *Pipeline) Emit(e Event, cancelled <-chan struct{}) bool {
	e.Sequence = atomic.AddUint64(&p.seq, 1)
	e.EmittedAt = p.now()
	e.RunID = p.runID
	e.ThreadID = p.threadID

	select {
	case p.out <- e:
		return true
	case <-cancelled:
		return false
	}
}

func (p *Pipeline) RunStart(in RunStartInput, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindRunStart, RunStart: &in}, cancelled)
}

func (p *Pipeline) MessageStart(messageID string, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindMessageStart, MessageID: messageID}, cancelled)
}

func (p *Pipeline) StepStart(stepIndex int, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindStepStart, StepIndex: stepIndex}, cancelled)
}

func (p *Pipeline) Token(stepIndex int, delta, accumulated string, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindToken, StepIndex: stepIndex, Delta: delta, Accumulated: accumulated}, cancelled)
}

func (p *Pipeline) ToolCall(stepIndex int, id, name string, input map[string]any, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindToolCall, StepIndex: stepIndex, ToolCallID: id, ToolName: name, ToolInput: input}, cancelled)
}

func (p *Pipeline) ToolResult(stepIndex int, id, name string, output any, metadata map[string]string, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindToolResult, StepIndex: stepIndex, ToolCallID: id, ToolName: name, ToolOutput: output, ToolMetadata: metadata}, cancelled)
}

func (p *Pipeline) ToolError(stepIndex int, id, name string, errDetail ToolErrorDetail, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindToolError, StepIndex: stepIndex, ToolCallID: id, ToolName: name, ToolError: &errDetail}, cancelled)
}

func (p *Pipeline) StepComplete(stepIndex int, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindStepComplete, StepIndex: stepIndex}, cancelled)
}

func (p *Pipeline) Usage(u modelapi.Usage, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindUsage, Usage: &u}, cancelled)
}

func (p *Pipeline) HandoffStart(from, to, message, context string, depth int, cancelled <-chan struct{}) bool {
	return p.Emit(Event{
		Type: KindHandoffStart, HandoffFromAgentID: from, HandoffToAgentID: to,
		HandoffMessage: message, HandoffContext: context, HandoffDepth: depth,
	}, cancelled)
}

func (p *Pipeline) RunEnd(finishedAt, durationMs int64, result RunEndResult, cancelled <-chan struct{}) bool {
	return p.Emit(Event{Type: KindRunEnd, FinishedAt: finishedAt, DurationMs: durationMs, RunEndResult: &result}, cancelled)
}
