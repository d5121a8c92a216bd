package agentspec

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSpecYAML []byte

// Default returns the embedded root agent spec, used when no --agent file is
// given. The embedded spec is self-contained: no extend, no prompt file, no
// subagents.
func Default() (*Spec, error) {
	var file specFile
	if err := yaml.Unmarshal(defaultSpecYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse embedded agent spec: %w", err)
	}

	spec := &Spec{
		Name:         file.Name,
		Description:  file.Description,
		SystemPrompt: file.SystemPrompt,
		Tools:        file.Tools,
		Subagents:    file.Subagents,
	}
	if err := spec.validate("default.yaml"); err != nil {
		return nil, err
	}
	return spec, nil
}
