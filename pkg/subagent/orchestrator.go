// Package subagent spawns and supervises child souls for delegated tasks.
// The task tool calls into the Orchestrator; each spawn builds a full child
// engine (context, store, hub, soul) that shares the session's wire log,
// approval gate, and grant policy, and reports back one final answer.
package subagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"agentcore/pkg/agentspec"
	"agentcore/pkg/hub"
	"agentcore/pkg/llm"
	"agentcore/pkg/llm/retry"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/soul"
	"agentcore/pkg/store"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tools"
	"agentcore/pkg/wire"
)

// DefaultMaxDepth bounds subagent nesting when the config does not say.
const DefaultMaxDepth = 3

// ErrDepthExceeded rejects a spawn that would nest deeper than the configured
// maximum. It fails the offending task call only, never the parent turn.
var ErrDepthExceeded = errors.New("subagent depth exceeded")

// Config assembles an orchestrator for one agent. Gate, Policy, Metrics, and
// the emitter inside Store are session-wide and shared down the tree;
// Spec, Store, and Depth belong to the agent doing the spawning.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Config struct {
	Spec  *agentspec.Spec // spawning agent's spec; names the available subagents
	Store *store.Store    // spawning agent's store; children share its emitter
	Depth int             // spawning agent's depth, 0 for the root

	Client    llm.Client
	WorkDir   string
	Gate      hub.Gate
	Policy    *hub.SessionPolicy
	Estimator *store.Estimator
	Metrics   *metrics.Recorder

	// Loop and compaction settings inherited by every child soul.
	MaxSteps            int
	MaxDepth            int
	Retry               retry.Policy
	MaxContextTokens    int
	CompactionThreshold float64
	ProtectedTail       int
	Summarizer          soul.Summarizer
}

// Orchestrator implements tools.SubagentRunner for one agent. Spawned
// children receive their own orchestrator, so delegation nests up to the
// depth limit.
type Orchestrator struct {
	cfg    Config
	logger *logx.Logger
}

// New creates an orchestrator. Zero-value depth and estimator settings get
// working defaults; everything else is the caller's wiring.
func New(cfg Config) *Orchestrator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRecorder()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = store.NewEstimator(tokens.NewFallbackCounter())
	}
	return &Orchestrator{cfg: cfg, logger: logx.NewLogger("subagent")}
}

// RunSubagent spawns the named subagent, runs one full turn on the prompt,
// and returns the child's final report. The child emits through the parent's
// log tagged with the spawning tool call id, so its traffic is visible live
// but never replays into the parent context. Errors fail only the task call
// that asked.
func (o *Orchestrator) RunSubagent(ctx context.Context, agent, prompt string) (string, error) {
	childDepth := o.cfg.Depth + 1
	if childDepth > o.cfg.MaxDepth {
		return "", fmt.Errorf("%w: depth %d exceeds maximum %d", ErrDepthExceeded, childDepth, o.cfg.MaxDepth)
	}

	childSpec, err := o.cfg.Spec.LoadSubagent(agent)
	if err != nil {
		return "", err
	}

	// Direct calls outside a dispatch still get a correlation id, so subagent
	// traffic never replays into the parent context.
	callID := tools.CallID(ctx)
	if callID == "" {
		callID = uuid.New().String()
	}

	o.logger.Info("spawning subagent %s (depth %d) for call %s", childSpec.Name, childDepth, callID)
	if err := o.cfg.Store.EmitStatus(wire.StageSubagent,
		fmt.Sprintf("%s started (depth %d)", childSpec.Name, childDepth)); err != nil {
		return "", err
	}

	child := o.buildChild(childSpec, callID, childDepth)
	report, err := child.RunTurn(ctx, prompt)
	if err != nil {
		o.emitOutcome(childSpec.Name, fmt.Sprintf("%s failed: %v", childSpec.Name, err))
		return "", fmt.Errorf("subagent %s: %w", agent, err)
	}

	switch report.Outcome {
	case wire.OutcomeCompleted:
		o.emitOutcome(childSpec.Name, fmt.Sprintf("%s completed in %d steps", childSpec.Name, report.Steps))
		return report.FinalText, nil
	case wire.OutcomeInterrupted:
		o.emitOutcome(childSpec.Name, fmt.Sprintf("%s interrupted", childSpec.Name))
		return "", fmt.Errorf("subagent %s interrupted: %s", agent, report.Cause)
	default:
		o.emitOutcome(childSpec.Name, fmt.Sprintf("%s failed: %s", childSpec.Name, report.Cause))
		return "", fmt.Errorf("subagent %s failed: %s", agent, report.Cause)
	}
}

// buildChild assembles the full engine for one spawn. The child's context is
// fresh; its tool set is the child spec's list minus main-only tools; its
// grandchildren, if the child spec offers the task tool, go through a nested
// orchestrator.
func (o *Orchestrator) buildChild(childSpec *agentspec.Spec, callID string, childDepth int) *soul.Soul {
	childStore := store.NewSubagentStore(
		store.NewContext(o.cfg.Estimator),
		o.cfg.Store.Emitter(),
		callID,
	)

	childCfg := o.cfg
	childCfg.Spec = childSpec
	childCfg.Store = childStore
	childCfg.Depth = childDepth
	grandchildren := &Orchestrator{cfg: childCfg, logger: o.logger}

	provider := tools.NewSubagentProvider(tools.ToolContext{
		WorkDir:   o.cfg.WorkDir,
		Subagents: grandchildren,
	}, childSpec.Tools)

	childHub := hub.New(hub.Config{
		Provider: provider,
		Store:    childStore,
		Gate:     o.cfg.Gate,
		Policy:   o.cfg.Policy,
		ParentID: callID,
	})

	return soul.New(soul.Config{
		Name:                childSpec.Name,
		Store:               childStore,
		Hub:                 childHub,
		Client:              o.cfg.Client,
		SystemPrompt:        childSpec.SystemPrompt,
		MaxSteps:            o.cfg.MaxSteps,
		Retry:               o.cfg.Retry,
		MaxContextTokens:    o.cfg.MaxContextTokens,
		CompactionThreshold: o.cfg.CompactionThreshold,
		ProtectedTail:       o.cfg.ProtectedTail,
		Summarizer:          o.cfg.Summarizer,
		Metrics:             o.cfg.Metrics,
		Depth:               childDepth,
	})
}

// emitOutcome reports a child's terminal status on the parent's stream. The
// result itself travels in the task call's ToolCallResult; failing to emit
// the notice is not worth failing the call over.
func (o *Orchestrator) emitOutcome(name, detail string) {
	if err := o.cfg.Store.EmitStatus(wire.StageSubagent, detail); err != nil {
		o.logger.Warn("status update for %s lost: %v", name, err)
	}
}
