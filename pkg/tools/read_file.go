package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultReadLines   = 2000    // Default number of lines to read
	maxLineLength      = 2000    // Truncate lines longer than this
	defaultStartOffset = 1       // 1-based line numbering
	defaultReadBytes   = 1 << 20 // Safety cap on total output bytes
)

// ReadFileTool reads file contents from the session work directory.
type ReadFileTool struct {
	workDir      string
	maxSizeBytes int64
}

// NewReadFileTool creates a new read_file tool.
func NewReadFileTool(workDir string, maxSizeBytes int64) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultReadBytes
	}
	return &ReadFileTool{workDir: workDir, maxSizeBytes: maxSizeBytes}
}

func readFileDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read contents of a file. Output uses numbered lines. For large files, use offset and limit to read specific sections.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "File path, absolute or relative to the work directory",
				},
				"offset": {
					Type:        "integer",
					Description: "Line number to start reading from (1-based). Defaults to 1.",
				},
				"limit": {
					Type:        "integer",
					Description: "Number of lines to read. Defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
		Approval:     ApprovalNever,
		ParallelSafe: true,
	}
}

// Definition returns the tool definition for the model.
func (t *ReadFileTool) Definition() ToolDefinition { return readFileDefinition() }

// resolvePath turns a tool path argument into an absolute path under the work
// directory. Relative paths must not escape it.
func resolvePath(workDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path cannot escape the work directory: %s", path)
	}
	return filepath.Join(workDir, clean), nil
}

// Exec reads the requested line range with original line numbers.
func (t *ReadFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return nil, err
	}
	offset := IntArgOrDefault(args, "offset", defaultStartOffset)
	limit := IntArgOrDefault(args, "limit", defaultReadLines)

	full, err := resolvePath(t.workDir, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer file.Close()

	var sb strings.Builder
	endLine := offset + limit - 1
	lineNo := 0
	capped := false

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		if lineNo < offset {
			continue
		}
		if lineNo > endLine {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", lineNo, line)
		if int64(sb.Len()) > t.maxSizeBytes {
			capped = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	if sb.Len() == 0 {
		return &ExecResult{Content: fmt.Sprintf("%s is empty or offset %d is past the end", path, offset)}, nil
	}
	if capped {
		sb.WriteString("[output truncated: size cap reached]\n")
	} else if lineNo > endLine {
		fmt.Fprintf(&sb, "[more lines after %d: re-read with offset=%d]\n", endLine, endLine+1)
	}
	return &ExecResult{Content: sb.String()}, nil
}
