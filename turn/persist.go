package turn

import (
	"context"

	"github.com/kadirpekel/agentrt/agentloop"
	"github.com/kadirpekel/agentrt/convo"
)

// persistPrecomputed writes the canonical user message plus a single
// assistant message for a pipeline/intent route's precomputed response.
func (e *Engine) persistPrecomputed(ctx context.Context, convID, userMessage, content string) error {
	msgs := []convo.Message{
		convo.NewUserMessage(e.newID(), userMessage),
		convo.NewAssistantMessage(e.newID(), []convo.Part{convo.TextPart(content)}),
	}
	return e.Store.AddMessages(ctx, convID, msgs)
}

// persistResult writes the canonical user/assistant/tool messages for one
// agent turn, minting a turn-unique id per tool call shared between the
// assistant's tool_call part and the tool message's tool_result part.
func (e *Engine) persistResult(ctx context.Context, convID, userMessage string, result agentloop.Result) error {
	msgs := make([]convo.Message, 0, 3)
	msgs = append(msgs, convo.NewUserMessage(e.newID(), userMessage))

	var assistantParts []convo.Part
	var toolResultParts []convo.Part
	for _, tc := range result.ToolCalls {
		id := e.newID()
		assistantParts = append(assistantParts, convo.ToolCallPart(id, tc.ToolID, tc.Args))

		isFailure := tc.Error != nil
		var res any = tc.Result
		if isFailure {
			res = tc.Error.Message
		}
		toolResultParts = append(toolResultParts, convo.ToolResultPart(id, tc.ToolID, res, isFailure))
	}
	if result.Content != "" {
		assistantParts = append(assistantParts, convo.TextPart(result.Content))
	}
	if len(assistantParts) > 0 {
		msgs = append(msgs, convo.NewAssistantMessage(e.newID(), assistantParts))
	}
	if len(toolResultParts) > 0 {
		msgs = append(msgs, convo.NewToolMessage(e.newID(), toolResultParts))
	}

	return e.Store.AddMessages(ctx, convID, msgs)
}
