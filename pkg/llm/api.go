// Package llm defines the provider-neutral completion interface the agent
// runtime drives. Provider adapters live under pkg/llm/provider.
package llm

import (
	"context"
	"strings"

	"agentcore/pkg/tools"
)

// Role identifies who produced a conversation message.
type Role string

const (
	// RoleSystem carries instructions. The runtime hoists system text into
	// CompletionRequest.System; providers never see it as a message.
	RoleSystem Role = "system"
	// RoleUser is the human (or a tool result folded in by a provider).
	RoleUser Role = "user"
	// RoleAssistant is the model.
	RoleAssistant Role = "assistant"
	// RoleTool carries a single tool execution result.
	RoleTool Role = "tool"
)

// Normalized stop reasons. Providers map their native finish reasons onto
// these; anything unrecognized passes through verbatim.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

const (
	// DefaultMaxTokens caps completion output when the caller does not say.
	DefaultMaxTokens = 16384

	// TemperatureDefault suits interactive coding work: enough variation to
	// escape loops without losing determinism on tool arguments.
	TemperatureDefault = 0.6
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Arguments map[string]any `json:"arguments"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
}

// ToolResult is the outcome of one tool call, sent back to the model.
//
//nolint:govet // fieldalignment: wire-shaped struct, field order mirrors the JSON
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one conversation entry. Assistant messages may carry ToolCalls;
// RoleTool messages carry exactly one ToolResult.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Message struct {
	Role       Role
	Content    string
	Thinking   string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally with tool calls.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultMessage creates a RoleTool message for one tool call outcome.
func NewToolResultMessage(result ToolResult) Message {
	r := result
	return Message{Role: RoleTool, ToolResult: &r}
}

// CompletionRequest asks a provider for the next assistant message.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	System      string
	Messages    []Message
	Tools       []tools.ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Usage is the provider-reported token consumption for one completion.
// The context store keeps its own estimator; usage feeds metrics only.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse is a provider's answer in normalized form.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	Thinking   string
	StopReason string
	Usage      Usage
}

// IsEmpty reports whether the model produced neither usable text nor tool
// calls. Such responses are retried rather than committed to the context.
func (r CompletionResponse) IsEmpty() bool {
	return strings.TrimSpace(r.Content) == "" && len(r.ToolCalls) == 0
}

// Client is the interface every provider adapter implements. Complete blocks
// for the full response; adapters do no retrying of their own, the caller
// owns the retry budget.
type Client interface {
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	ModelName() string
}
