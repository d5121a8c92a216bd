package soul

import (
	"agentcore/pkg/llm"
	"agentcore/pkg/store"
)

// completionMessages converts the context transcript into the neutral
// completion shape. System text never lives in the context; it rides in
// CompletionRequest.System.
func completionMessages(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case store.RoleUser:
			out = append(out, llm.NewUserMessage(msg.TextContent()))
		case store.RoleAssistant:
			out = append(out, assistantMessage(msg))
		case store.RoleTool:
			for j := range msg.Parts {
				if tr := msg.Parts[j].ToolResult; tr != nil {
					out = append(out, llm.NewToolResultMessage(llm.ToolResult{
						ToolCallID: tr.ToolCallID,
						Name:       tr.Tool,
						Content:    tr.Output,
						IsError:    tr.IsError || tr.Denied,
					}))
				}
			}
		case store.RoleSystem:
			// Contexts do not carry system messages.
		}
	}
	return out
}

func assistantMessage(msg *store.Message) llm.Message {
	out := llm.Message{Role: llm.RoleAssistant}
	for i := range msg.Parts {
		part := &msg.Parts[i]
		switch {
		case part.Text != nil:
			out.Content += part.Text.Text
		case part.Thinking != nil:
			out.Thinking += part.Thinking.Text
		case part.ToolCall != nil:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        part.ToolCall.ID,
				Name:      part.ToolCall.Tool,
				Arguments: part.ToolCall.Arguments,
			})
		}
	}
	return out
}
