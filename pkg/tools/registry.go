package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool name constants - use these instead of magic strings to prevent typos
// and enable compile-time checking.
const (
	ToolShell     = "shell"
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListFiles = "list_files"
	ToolTodo      = "todo"
	ToolTask      = "task"
)

// SubagentRunner launches a named child agent and returns its final report.
// Implemented by the subagent orchestrator; declared here so the task tool
// needs no dependency on it.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, agent, prompt string) (string, error)
}

// ToolContext carries the per-session configuration tools are created with.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type ToolContext struct {
	WorkDir   string
	Subagents SubagentRunner // nil outside the top-level agent
}

// Factory creates a tool instance configured for a specific session context.
type Factory func(ctx ToolContext) (Tool, error)

type toolDescriptor struct {
	def     ToolDefinition
	factory Factory
}

// immutableRegistry is the global, read-only tool registry.
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

//nolint:gochecknoglobals // Factory pattern requires global registry
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory to the global registry.
// Panics if called after the registry is sealed.
func Register(def ToolDefinition, factory Factory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", def.Name))
	}
	if !def.Approval.Valid() {
		panic(fmt.Sprintf("tool '%s' has invalid approval policy '%s'", def.Name, def.Approval))
	}

	globalRegistry.tools[def.Name] = toolDescriptor{def: def, factory: factory}
}

// Seal prevents further tool registrations.
// Called automatically when the first Provider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// ListDefinitions returns definitions for all registered tools, sorted by name.
func ListDefinitions() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(globalRegistry.tools))
	for _, desc := range globalRegistry.tools {
		result = append(result, desc.def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Provider creates and caches tool instances for one agent. The allowlist
// comes from the agent spec; subagent providers additionally drop MainOnly
// tools.
type Provider struct {
	ctx      ToolContext
	subagent bool
	tools    map[string]Tool
	allowSet map[string]struct{}
	mu       sync.Mutex
}

// NewProvider creates a Provider for the given context and allowed tools.
// Seals the global registry on first use.
func NewProvider(ctx ToolContext, allowedTools []string) *Provider {
	Seal()

	allowSet := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowSet[name] = struct{}{}
	}

	return &Provider{
		ctx:      ctx,
		tools:    make(map[string]Tool),
		allowSet: allowSet,
	}
}

// NewSubagentProvider is NewProvider with MainOnly tools filtered out.
func NewSubagentProvider(ctx ToolContext, allowedTools []string) *Provider {
	p := NewProvider(ctx, allowedTools)
	p.subagent = true
	return p
}

// allowed reports whether the named tool is offered. Callers hold p.mu or
// tolerate racing against a concurrent Get, which is harmless.
func (p *Provider) allowed(name string) bool {
	if _, ok := p.allowSet[name]; !ok {
		return false
	}
	if p.subagent {
		globalRegistry.mu.RLock()
		desc, exists := globalRegistry.tools[name]
		globalRegistry.mu.RUnlock()
		if exists && desc.def.MainOnly {
			return false
		}
	}
	return true
}

// Get retrieves a tool instance, creating it lazily.
func (p *Provider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allowed(name) {
		return nil, fmt.Errorf("tool '%s' not allowed in this context", name)
	}

	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("tool '%s' not registered", name)
	}

	tool, err := desc.factory(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}
	p.tools[name] = tool
	return tool, nil
}

// Has reports whether the provider offers the named tool.
func (p *Provider) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed(name)
}

// Definition returns the registered definition for an offered tool.
func (p *Provider) Definition(name string) (ToolDefinition, error) {
	p.mu.Lock()
	allowed := p.allowed(name)
	p.mu.Unlock()
	if !allowed {
		return ToolDefinition{}, fmt.Errorf("tool '%s' not allowed in this context", name)
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()
	if !exists {
		return ToolDefinition{}, fmt.Errorf("tool '%s' not registered", name)
	}
	return desc.def, nil
}

// Definitions returns the definitions of all offered tools sorted by name,
// ready to be sent with a completion request.
func (p *Provider) Definitions() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(p.allowSet))
	for name := range p.allowSet {
		desc, ok := globalRegistry.tools[name]
		if !ok {
			continue
		}
		if p.subagent && desc.def.MainOnly {
			continue
		}
		result = append(result, desc.def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// init registers the builtin tools. The task tool's factory requires a
// SubagentRunner in the context; sessions without one simply cannot offer it.
//
//nolint:gochecknoinits // Factory pattern requires init() for tool registration
func init() {
	Register(shellDefinition(), func(ctx ToolContext) (Tool, error) {
		return NewShellTool(ctx.WorkDir), nil
	})
	Register(readFileDefinition(), func(ctx ToolContext) (Tool, error) {
		return NewReadFileTool(ctx.WorkDir, 0), nil
	})
	Register(writeFileDefinition(), func(ctx ToolContext) (Tool, error) {
		return NewWriteFileTool(ctx.WorkDir), nil
	})
	Register(listFilesDefinition(), func(ctx ToolContext) (Tool, error) {
		return NewListFilesTool(ctx.WorkDir), nil
	})
	Register(todoDefinition(), func(_ ToolContext) (Tool, error) {
		return NewTodoTool(), nil
	})
	Register(taskDefinition(), func(ctx ToolContext) (Tool, error) {
		if ctx.Subagents == nil {
			return nil, fmt.Errorf("task tool requires a subagent runner")
		}
		return NewTaskTool(ctx.Subagents), nil
	})
}
