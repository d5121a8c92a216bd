package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 2 * time.Minute
	maxShellTimeout     = 10 * time.Minute
	maxShellOutputBytes = 64 * 1024
)

// ShellTool executes shell commands in the session work directory.
type ShellTool struct {
	workDir string
}

// NewShellTool creates a new shell tool rooted at workDir.
func NewShellTool(workDir string) *ShellTool {
	return &ShellTool{workDir: workDir}
}

func shellDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolShell,
		Description: "Execute a shell command in the work directory and return its combined output and exit code. Long output is truncated.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "The command to run with `sh -c`",
				},
				"timeout_seconds": {
					Type:        "integer",
					Description: "Kill the command after this many seconds (default 120, max 600)",
				},
			},
			Required: []string{"command"},
		},
		Approval: ApprovalSession,
	}
}

// Definition returns the tool definition for the model.
func (t *ShellTool) Definition() ToolDefinition { return shellDefinition() }

// Exec runs the command and reports output plus exit status as content. A
// failing command is a normal result, not an error: the model reads the exit
// code and reacts.
func (t *ShellTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	command, err := StringArg(args, "command")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	timeout := time.Duration(IntArgOrDefault(args, "timeout_seconds", int(defaultShellTimeout.Seconds()))) * time.Second
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.workDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()

	text := output.String()
	truncated := false
	if len(text) > maxShellOutputBytes {
		text = text[:maxShellOutputBytes]
		truncated = true
	}

	var sb strings.Builder
	sb.WriteString(text)
	if truncated {
		sb.WriteString("\n[output truncated]")
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		sb.WriteString(fmt.Sprintf("\n[command timed out after %s]", timeout))
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			sb.WriteString(fmt.Sprintf("\n[exit code %d]", exitErr.ExitCode()))
		} else {
			return nil, fmt.Errorf("failed to run command: %w", runErr)
		}
	}

	return &ExecResult{Content: sb.String()}, nil
}
