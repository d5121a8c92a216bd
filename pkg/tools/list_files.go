package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

const defaultMaxListResults = 500

// ListFilesTool lists directory contents in the session work directory.
type ListFilesTool struct {
	workDir    string
	maxResults int
}

// NewListFilesTool creates a new list_files tool.
func NewListFilesTool(workDir string) *ListFilesTool {
	return &ListFilesTool{workDir: workDir, maxResults: defaultMaxListResults}
}

func listFilesDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListFiles,
		Description: "List files and directories. Use this to explore what files exist before reading them.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Directory to list, relative to the work directory. Defaults to '.'",
				},
				"recursive": {
					Type:        "boolean",
					Description: "Walk subdirectories too. Defaults to false.",
				},
			},
		},
		Approval:     ApprovalNever,
		ParallelSafe: true,
	}
}

// Definition returns the tool definition for the model.
func (t *ListFilesTool) Definition() ToolDefinition { return listFilesDefinition() }

// Exec lists entries under the requested directory. Directories get a
// trailing slash; hidden directories like .git are skipped on recursive
// walks.
func (t *ListFilesTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path := OptionalStringArg(args, "path", ".")
	recursive := BoolArg(args, "recursive", false)

	root, err := resolvePath(t.workDir, path)
	if err != nil {
		return nil, err
	}

	var entries []string
	capped := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if !recursive {
				entries = append(entries, rel+"/")
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			entries = append(entries, rel+"/")
			return nil
		}
		entries = append(entries, rel)
		if len(entries) >= t.maxResults {
			capped = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", path, err)
	}

	if len(entries) == 0 {
		return &ExecResult{Content: fmt.Sprintf("%s is empty", path)}, nil
	}

	sort.Strings(entries)
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	if capped {
		fmt.Fprintf(&sb, "[listing truncated at %d entries]\n", t.maxResults)
	}
	return &ExecResult{Content: sb.String()}, nil
}
