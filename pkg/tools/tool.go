// Package tools provides the tool interface, the sealed registry, and the
// builtin tools offered to every agent.
package tools

import (
	"context"
	"fmt"
)

// ApprovalPolicy declares when a tool needs user approval before executing.
type ApprovalPolicy string

const (
	// ApprovalNever runs without asking.
	ApprovalNever ApprovalPolicy = "never"
	// ApprovalSession asks once; an always-allow decision skips future
	// requests for the same tool within the session.
	ApprovalSession ApprovalPolicy = "session"
	// ApprovalAlways asks on every call; always-allow decisions count as a
	// single approval and are not recorded.
	ApprovalAlways ApprovalPolicy = "always"
)

// Valid reports whether the policy is one of the defined values.
func (p ApprovalPolicy) Valid() bool {
	switch p {
	case ApprovalNever, ApprovalSession, ApprovalAlways:
		return true
	default:
		return false
	}
}

// Property describes one parameter in a tool's input schema.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	MinItems    *int                 `json:"minItems,omitempty"`
	MaxItems    *int                 `json:"maxItems,omitempty"`
}

// InputSchema is the JSON-Schema-shaped parameter declaration sent to models.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is everything the engine and the model need to know about a
// tool before calling it.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema InputSchema

	// Approval is consulted by the hub before Exec.
	Approval ApprovalPolicy
	// ParallelSafe calls may run concurrently with adjacent parallel-safe
	// calls from the same assistant message.
	ParallelSafe bool
	// MainOnly tools are withheld from subagent providers regardless of the
	// agent spec's tool list.
	MainOnly bool
}

// ExecResult is the content a tool feeds back into the conversation.
type ExecResult struct {
	Content string
}

// Tool executes one capability on behalf of the model. Implementations return
// an error for failures the model should see as a failed call; the engine
// treats such errors as content, not as fatal conditions.
type Tool interface {
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

type callIDKey struct{}

// WithCallID tags ctx with the id of the tool call being executed. The hub
// sets it before Exec; tools that spawn follow-on work (task) read it back to
// correlate that work with the call.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the id of the tool call this execution belongs to, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// StringArg extracts a required string argument.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// OptionalStringArg extracts an optional string argument.
func OptionalStringArg(args map[string]any, key, defaultVal string) string {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// IntArgOrDefault extracts an integer argument, tolerating the float64 values
// JSON decoding produces. Values below 1 fall back to the default.
func IntArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	default:
		return defaultVal
	}
	if n < 1 {
		return defaultVal
	}
	return n
}

// BoolArg extracts an optional boolean argument.
func BoolArg(args map[string]any, key string, defaultVal bool) bool {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}
