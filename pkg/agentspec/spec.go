// Package agentspec loads YAML agent definitions.
//
// An agent spec names the agent, carries its system prompt (inline or in a
// sibling file), allowlists tools, and declares the subagents the task tool
// may spawn. A spec may extend a single parent spec: the child overrides
// scalar fields and merges the tool list and subagent map. Extend chains are
// resolved relative to the declaring file and must be acyclic.
package agentspec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrCycle is returned when extend chains loop back on themselves.
var ErrCycle = errors.New("agent spec extend cycle")

// SubagentRef points at another spec file a parent may spawn via the task
// tool. Path is absolute after loading.
type SubagentRef struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description,omitempty"`
}

// Spec is a fully resolved agent definition.
type Spec struct {
	Name         string
	Description  string
	SystemPrompt string
	Tools        []string
	Subagents    map[string]SubagentRef
}

// specFile is the on-disk shape before extend resolution.
type specFile struct {
	Extend           string                 `yaml:"extend,omitempty"`
	Name             string                 `yaml:"name,omitempty"`
	Description      string                 `yaml:"description,omitempty"`
	SystemPrompt     string                 `yaml:"system_prompt,omitempty"`
	SystemPromptPath string                 `yaml:"system_prompt_path,omitempty"`
	Tools            []string               `yaml:"tools,omitempty"`
	Subagents        map[string]SubagentRef `yaml:"subagents,omitempty"`
}

// Load reads and fully resolves the agent spec at path.
func Load(path string) (*Spec, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve spec path: %w", err)
	}

	file, err := loadChain(abs, nil)
	if err != nil {
		return nil, err
	}

	spec := &Spec{
		Name:         file.Name,
		Description:  file.Description,
		SystemPrompt: file.SystemPrompt,
		Tools:        file.Tools,
		Subagents:    file.Subagents,
	}
	if err := spec.validate(abs); err != nil {
		return nil, err
	}
	return spec, nil
}

// LoadSubagent resolves a declared subagent of spec by name.
func (s *Spec) LoadSubagent(name string) (*Spec, error) {
	ref, ok := s.Subagents[name]
	if !ok {
		return nil, fmt.Errorf("unknown subagent '%s' in agent '%s'", name, s.Name)
	}
	return Load(ref.Path)
}

// SubagentNames returns the declared subagent names in sorted order.
func (s *Spec) SubagentNames() []string {
	names := make([]string, 0, len(s.Subagents))
	for name := range s.Subagents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadChain parses the spec at abs and merges its extend ancestry beneath it.
// seen carries the chain walked so far for cycle detection.
func loadChain(abs string, seen []string) (*specFile, error) {
	for _, prev := range seen {
		if prev == abs {
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(seen, abs), " -> "))
		}
	}

	file, err := parseFile(abs)
	if err != nil {
		return nil, err
	}

	if file.Extend == "" {
		return file, nil
	}

	parentPath := file.Extend
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(abs), parentPath)
	}
	parent, err := loadChain(parentPath, append(seen, abs))
	if err != nil {
		return nil, fmt.Errorf("failed to load parent spec of %s: %w", filepath.Base(abs), err)
	}

	return merge(parent, file), nil
}

// parseFile reads one YAML file, inlines system_prompt_path, and makes
// subagent paths absolute relative to the declaring file.
func parseFile(abs string) (*specFile, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent spec: %w", err)
	}

	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent spec %s: %w", filepath.Base(abs), err)
	}

	dir := filepath.Dir(abs)

	if file.SystemPromptPath != "" {
		if file.SystemPrompt != "" {
			return nil, fmt.Errorf("agent spec %s sets both system_prompt and system_prompt_path", filepath.Base(abs))
		}
		promptPath := file.SystemPromptPath
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(dir, promptPath)
		}
		prompt, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt file: %w", err)
		}
		file.SystemPrompt = string(prompt)
		file.SystemPromptPath = ""
	}

	for name, ref := range file.Subagents {
		if ref.Path == "" {
			return nil, fmt.Errorf("subagent '%s' in %s has no path", name, filepath.Base(abs))
		}
		if !filepath.IsAbs(ref.Path) {
			ref.Path = filepath.Join(dir, ref.Path)
			file.Subagents[name] = ref
		}
	}

	return &file, nil
}

// merge lays child over parent: scalars override when set, the tool list is
// the parent's order plus child additions, and the subagent map is the union
// with the child winning on name collisions.
func merge(parent, child *specFile) *specFile {
	out := &specFile{
		Name:         parent.Name,
		Description:  parent.Description,
		SystemPrompt: parent.SystemPrompt,
	}
	if child.Name != "" {
		out.Name = child.Name
	}
	if child.Description != "" {
		out.Description = child.Description
	}
	if child.SystemPrompt != "" {
		out.SystemPrompt = child.SystemPrompt
	}

	seen := make(map[string]struct{}, len(parent.Tools)+len(child.Tools))
	for _, tool := range parent.Tools {
		if _, dup := seen[tool]; dup {
			continue
		}
		seen[tool] = struct{}{}
		out.Tools = append(out.Tools, tool)
	}
	for _, tool := range child.Tools {
		if _, dup := seen[tool]; dup {
			continue
		}
		seen[tool] = struct{}{}
		out.Tools = append(out.Tools, tool)
	}

	if len(parent.Subagents) > 0 || len(child.Subagents) > 0 {
		out.Subagents = make(map[string]SubagentRef, len(parent.Subagents)+len(child.Subagents))
		for name, ref := range parent.Subagents {
			out.Subagents[name] = ref
		}
		for name, ref := range child.Subagents {
			out.Subagents[name] = ref
		}
	}

	return out
}

// validate enforces the post-resolution requirements: a name, a system
// prompt, and existing subagent spec files.
func (s *Spec) validate(origin string) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("agent spec %s has no name after resolution", filepath.Base(origin))
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		return fmt.Errorf("agent spec %s has no system prompt after resolution", filepath.Base(origin))
	}
	for name, ref := range s.Subagents {
		if _, err := os.Stat(ref.Path); err != nil {
			return fmt.Errorf("subagent '%s' spec file missing: %w", name, err)
		}
	}
	return nil
}
