package agentloop

import (
	"errors"

	"github.com/kadirpekel/agentrt/convo"
	"github.com/kadirpekel/agentrt/invoker"
	"github.com/kadirpekel/agentrt/modelapi"
	"github.com/kadirpekel/agentrt/toolapi"
)

// filterHistory implements §4.5.2: drop ToolCall/ToolResult parts whose
// name is not in the allowed set, and drop any message emptied by that
// filtering.
func filterHistory(history []convo.Message, allowedToolIDs map[string]bool) []convo.Message {
	out := make([]convo.Message, 0, len(history))
	for _, m := range history {
		filtered, ok := m.FilterByToolNames(allowedToolIDs)
		if ok {
			out = append(out, filtered)
		}
	}
	return out
}

func toPromptMessage(m convo.Message) modelapi.PromptMessage {
	pm := modelapi.PromptMessage{Role: string(m.Role)}
	for _, p := range m.Parts {
		switch p.Kind {
		case convo.PartText:
			pm.Text += p.Text
		case convo.PartToolCall:
			pm.Calls = append(pm.Calls, modelapi.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Params: p.Params})
		case convo.PartToolResult:
			pm.ToolResults = append(pm.ToolResults, modelapi.ToolResultRef{
				ToolCallID: p.ToolCallID, ToolName: p.ToolName, Output: p.Result, IsFailure: p.IsFailure,
			})
		}
	}
	return pm
}

func buildPrompt(systemPrompt string, history []convo.Message, userMessage string, loopMessages []modelapi.PromptMessage) []modelapi.PromptMessage {
	prompt := make([]modelapi.PromptMessage, 0, len(history)+len(loopMessages)+2)
	if systemPrompt != "" {
		prompt = append(prompt, modelapi.PromptMessage{Role: "system", Text: systemPrompt})
	}
	for _, m := range history {
		prompt = append(prompt, toPromptMessage(m))
	}
	prompt = append(prompt, modelapi.PromptMessage{Role: "user", Text: userMessage})
	prompt = append(prompt, loopMessages...)
	return prompt
}

// resolveToolkit returns the ToolDefinitions the model may call this step,
// applying the strict-mode schema rewrite when the provider requires it.
func (l *Loop) resolveToolkit(allowedToolIDs map[string]bool, strict bool) []toolapi.ToolDefinition {
	ids := make([]string, 0, len(allowedToolIDs))
	for id, ok := range allowedToolIDs {
		if ok {
			ids = append(ids, id)
		}
	}
	defs := l.Tools.Normalize(ids)
	if !strict {
		return defs
	}
	out := make([]toolapi.ToolDefinition, len(defs))
	for i, d := range defs {
		d.InputSchema = modelapi.Strictify(d.InputSchema)
		out[i] = d
	}
	return out
}

func isPolicyDenied(err error) bool {
	var pd *invoker.PolicyDeniedError
	return errors.As(err, &pd)
}

func isValidation(err error) bool {
	var ve *invoker.ValidationError
	return errors.As(err, &ve)
}
