package tools

import (
	"context"
	"fmt"
	"strings"
)

// TaskTool delegates a self-contained piece of work to a subagent. The
// subagent runs with its own context and a restricted tool set and reports
// back a single final answer.
type TaskTool struct {
	runner SubagentRunner
}

// NewTaskTool creates a task tool bound to a subagent runner.
func NewTaskTool(runner SubagentRunner) *TaskTool {
	return &TaskTool{runner: runner}
}

func taskDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolTask,
		Description: "Delegate a self-contained task to a subagent. The subagent works independently and returns a final report; it cannot ask follow-up questions, so the prompt must contain everything it needs.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"agent": {
					Type:        "string",
					Description: "Which subagent to use, by name from the agent definition",
				},
				"prompt": {
					Type:        "string",
					Description: "The full task description for the subagent",
				},
				"description": {
					Type:        "string",
					Description: "A short (3-5 word) label for progress reporting",
				},
			},
			Required: []string{"agent", "prompt"},
		},
		Approval: ApprovalNever,
		// Multiple task calls in one message run concurrently.
		ParallelSafe: true,
	}
}

// Definition returns the tool definition for the model.
func (t *TaskTool) Definition() ToolDefinition { return taskDefinition() }

// Exec runs the delegated task to completion and returns the subagent's
// report. Errors (unknown agent, depth exceeded, child failure) fail only
// this call.
func (t *TaskTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	agent, err := StringArg(args, "agent")
	if err != nil {
		return nil, err
	}
	prompt, err := StringArg(args, "prompt")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	report, err := t.runner.RunSubagent(ctx, agent, prompt)
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: report}, nil
}
