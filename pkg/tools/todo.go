package tools

import (
	"context"
	"fmt"
	"sync"
)

// TodoTool is a session-scoped scratchpad the model uses to track multi-step
// work. Each provider gets its own instance, so the list lives and dies with
// the session.
type TodoTool struct {
	mu      sync.Mutex
	content string
}

// NewTodoTool creates an empty scratchpad.
func NewTodoTool() *TodoTool {
	return &TodoTool{}
}

func todoDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolTodo,
		Description: "Maintain a todo list for multi-step work. Write replaces the whole list; read returns it. Keep items short and mark progress as you go.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"action": {
					Type:        "string",
					Description: "What to do with the list",
					Enum:        []string{"read", "write"},
				},
				"content": {
					Type:        "string",
					Description: "The full todo list as markdown. Required for write.",
				},
			},
			Required: []string{"action"},
		},
		Approval:     ApprovalNever,
		ParallelSafe: true,
	}
}

// Definition returns the tool definition for the model.
func (t *TodoTool) Definition() ToolDefinition { return todoDefinition() }

// Exec reads or replaces the scratchpad.
func (t *TodoTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	action, err := StringArg(args, "action")
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "read":
		if t.content == "" {
			return &ExecResult{Content: "todo list is empty"}, nil
		}
		return &ExecResult{Content: t.content}, nil
	case "write":
		content, err := StringArg(args, "content")
		if err != nil {
			return nil, err
		}
		t.content = content
		return &ExecResult{Content: "todo list updated"}, nil
	default:
		return nil, fmt.Errorf("unknown action %q (want read or write)", action)
	}
}
