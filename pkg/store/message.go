// Package store holds the in-memory conversation context and its durable
// counterpart: every context mutation is committed to the session's wire log
// before it lands in memory, and a context can be rebuilt deterministically by
// replaying that log.
package store

import (
	"strings"
	"time"
)

// Role is the author of a context message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// TextPart is plain assistant or user text.
type TextPart struct {
	Text string `json:"text"`
}

// ThinkingPart is model reasoning content, kept in the context but flagged so
// renderers and providers can treat it separately.
type ThinkingPart struct {
	Text string `json:"text"`
}

// ToolCallPart records a tool invocation requested by the assistant.
type ToolCallPart struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultPart records the outcome fed back for one tool call. Denied and
// IsError are markers on ordinary content: the model sees the output text
// either way and can adapt.
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Tool       string `json:"tool"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
	Denied     bool   `json:"denied,omitempty"`
}

// Part is a content part union; exactly one field is set.
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Part struct {
	Text       *TextPart       `json:"text,omitempty"`
	Thinking   *ThinkingPart   `json:"thinking,omitempty"`
	ToolCall   *ToolCallPart   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPart `json:"tool_result,omitempty"`
}

// Message is one entry in a context. Messages are append-only; the only
// permitted rewrite is compaction replacing a contiguous prefix with a single
// synthetic summary message (Summary true).
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
	Summary   bool      `json:"summary,omitempty"`
}

// NewUserMessage builds a single-part user message.
func NewUserMessage(text string, at time.Time) Message {
	return Message{
		Role:      RoleUser,
		Parts:     []Part{{Text: &TextPart{Text: text}}},
		Timestamp: at,
	}
}

// NewSummaryMessage builds the synthetic message compaction writes in place of
// a replaced prefix.
func NewSummaryMessage(summary string, at time.Time) Message {
	return Message{
		Role:      RoleUser,
		Parts:     []Part{{Text: &TextPart{Text: summary}}},
		Timestamp: at,
		Summary:   true,
	}
}

// TextContent concatenates the message's text and thinking parts.
func (m *Message) TextContent() string {
	var sb strings.Builder
	for i := range m.Parts {
		part := &m.Parts[i]
		switch {
		case part.Text != nil:
			sb.WriteString(part.Text.Text)
		case part.Thinking != nil:
			sb.WriteString(part.Thinking.Text)
		case part.ToolResult != nil:
			sb.WriteString(part.ToolResult.Output)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call parts of an assistant message in order.
func (m *Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for i := range m.Parts {
		if m.Parts[i].ToolCall != nil {
			calls = append(calls, *m.Parts[i].ToolCall)
		}
	}
	return calls
}

// Clone deep-copies the message so callers can hold snapshots safely.
func (m *Message) Clone() Message {
	clone := Message{
		Role:      m.Role,
		Timestamp: m.Timestamp,
		Summary:   m.Summary,
		Parts:     make([]Part, len(m.Parts)),
	}
	for i := range m.Parts {
		part := &m.Parts[i]
		switch {
		case part.Text != nil:
			v := *part.Text
			clone.Parts[i].Text = &v
		case part.Thinking != nil:
			v := *part.Thinking
			clone.Parts[i].Thinking = &v
		case part.ToolCall != nil:
			v := *part.ToolCall
			if part.ToolCall.Arguments != nil {
				v.Arguments = make(map[string]any, len(part.ToolCall.Arguments))
				for k, val := range part.ToolCall.Arguments {
					v.Arguments[k] = val
				}
			}
			clone.Parts[i].ToolCall = &v
		case part.ToolResult != nil:
			v := *part.ToolResult
			clone.Parts[i].ToolResult = &v
		}
	}
	return clone
}
