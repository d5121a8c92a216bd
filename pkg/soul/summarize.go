package soul

import (
	"context"
	"fmt"
	"strings"

	"agentcore/pkg/llm"
	"agentcore/pkg/store"
)

const summarySystemPrompt = `You compress an agent conversation into a handoff summary.
The summary replaces the compacted messages entirely, so it must carry
everything a fresh reader needs to continue the work: the user's goal, key
decisions and findings, file paths and commands that matter, and current
unfinished threads. Write plain prose, no preamble.`

// maxRenderedPart caps any single rendered message so giant tool outputs do
// not dominate the summarization request.
const maxRenderedPart = 4000

// ModelSummarizer asks a model to condense the compactable prefix. Wrap the
// client with retry before passing it in; summarization shares no budget
// with the step loop.
type ModelSummarizer struct {
	client llm.Client
}

// NewModelSummarizer creates a summarizer backed by the given client.
func NewModelSummarizer(client llm.Client) *ModelSummarizer {
	return &ModelSummarizer{client: client}
}

// Summarize implements Summarizer.
func (m *ModelSummarizer) Summarize(ctx context.Context, msgs []store.Message) (string, error) {
	req := llm.CompletionRequest{
		System: summarySystemPrompt,
		Messages: []llm.Message{
			llm.NewUserMessage("Summarize this conversation:\n\n" + renderTranscript(msgs)),
		},
		MaxTokens:   2048,
		Temperature: 0.3,
	}

	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarization returned no content")
	}
	return summary, nil
}

// renderTranscript flattens messages into labeled plain text for the
// summarization prompt.
func renderTranscript(msgs []store.Message) string {
	var sb strings.Builder
	for i := range msgs {
		msg := &msgs[i]
		for j := range msg.Parts {
			part := &msg.Parts[j]
			switch {
			case part.Text != nil:
				fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, clip(part.Text.Text))
			case part.Thinking != nil:
				// Reasoning is not worth summarizing.
			case part.ToolCall != nil:
				fmt.Fprintf(&sb, "[%s] called tool %s\n", msg.Role, part.ToolCall.Tool)
			case part.ToolResult != nil:
				fmt.Fprintf(&sb, "[tool %s] %s\n", part.ToolResult.Tool, clip(part.ToolResult.Output))
			}
		}
	}
	return sb.String()
}

func clip(text string) string {
	if len(text) <= maxRenderedPart {
		return text
	}
	return text[:maxRenderedPart] + " [truncated]"
}
