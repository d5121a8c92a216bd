package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileTool creates or overwrites files in the session work directory.
type WriteFileTool struct {
	workDir string
}

// NewWriteFileTool creates a new write_file tool.
func NewWriteFileTool(workDir string) *WriteFileTool {
	return &WriteFileTool{workDir: workDir}
}

func writeFileDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Write content to a file, creating it (and parent directories) if needed and replacing it if it exists.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "File path, absolute or relative to the work directory",
				},
				"content": {
					Type:        "string",
					Description: "Full content to write",
				},
			},
			Required: []string{"path", "content"},
		},
		Approval: ApprovalSession,
	}
}

// Definition returns the tool definition for the model.
func (t *WriteFileTool) Definition() ToolDefinition { return writeFileDefinition() }

// Exec writes the file and reports what happened.
func (t *WriteFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := StringArg(args, "content")
	if err != nil {
		return nil, err
	}

	full, err := resolvePath(t.workDir, path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create parent directory for %s: %w", path, err)
	}

	_, statErr := os.Stat(full)
	existed := statErr == nil

	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("cannot write %s: %w", path, err)
	}

	verb := "created"
	if existed {
		verb = "replaced"
	}
	return &ExecResult{Content: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content))}, nil
}
