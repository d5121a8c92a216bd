package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"agentcore/pkg/agentspec"
	"agentcore/pkg/config"
	"agentcore/pkg/hub"
	"agentcore/pkg/llm"
	"agentcore/pkg/llm/provider"
	"agentcore/pkg/llm/retry"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/session"
	"agentcore/pkg/soul"
	"agentcore/pkg/store"
	"agentcore/pkg/subagent"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tools"
	"agentcore/pkg/wire"
)

// engineOptions parameterizes engine assembly beyond the command line.
type engineOptions struct {
	cliOptions
	ShareDir string

	// Gate decides approvals; the terminal gate in interactive mode, the
	// protocol gate in wire mode.
	Gate hub.Gate

	// KeyPrompt, when set, is asked for a missing provider API key. Nil means
	// a missing key is a startup error.
	KeyPrompt func(providerName string) (string, error)
}

// engine bundles one session's complete runtime: provider client, durable
// log, context store, tool hub, subagent orchestrator, and the soul driving
// them. Assembled once per process by buildEngine.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type engine struct {
	spec     *agentspec.Spec
	modelCfg config.ModelConfig
	client   llm.Client

	mgr     *session.Manager
	sess    *session.Session
	log     *wire.Log
	emitter *wire.Emitter
	store   *store.Store
	policy  *hub.SessionPolicy
	soul    *soul.Soul
	metrics *metrics.Recorder

	// resumed holds the replay result for resumed sessions, nil for fresh
	// ones. Consumed by reconcileResume during assembly.
	resumed *store.ReplayResult

	turnBusy atomic.Bool
	logger   *logx.Logger
}

// buildEngine assembles the runtime for one session. On error nothing is
// left open: the session lock, log, and manager are released.
//
//nolint:cyclop // Linear assembly sequence; splitting it would hide the wiring order
func buildEngine(opts engineOptions) (*engine, error) {
	logger := logx.NewLogger("engine")

	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	modelName, err := config.EffectiveModelName(opts.Model)
	if err != nil {
		return nil, err
	}
	modelCfg, err := config.ResolveModel(modelName)
	if err != nil {
		return nil, err
	}
	providerCfg, err := config.ResolveProvider(modelCfg.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := config.ResolveAPIKey(modelCfg.Provider)
	if err != nil {
		return nil, err
	}
	if apiKey == "" && providerCfg.Type != config.ProviderOllama {
		if opts.KeyPrompt == nil {
			return nil, fmt.Errorf("provider '%s' has no API key: set %s or add one to config.json",
				modelCfg.Provider, config.EnvAPIKey)
		}
		apiKey, err = opts.KeyPrompt(modelCfg.Provider)
		if err != nil {
			return nil, err
		}
	}

	client, err := provider.New(provider.Config{
		Provider: providerCfg.Type,
		Model:    modelCfg.Model,
		APIKey:   apiKey,
		BaseURL:  providerCfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	spec, err := loadSpec(opts.AgentFile)
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewManager(opts.ShareDir, opts.WorkDir)
	if err != nil {
		return nil, err
	}

	var sess *session.Session
	switch {
	case opts.SessionID != "":
		sess, err = mgr.Resume(opts.SessionID)
	case opts.ContinueLast:
		sess, err = mgr.Continue()
	default:
		sess, err = mgr.Create()
	}
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}

	fail := func(cause error) (*engine, error) {
		_ = sess.Close()
		_ = mgr.Close()
		return nil, cause
	}

	counter, err := tokens.NewCounter(modelCfg.Model)
	if err != nil {
		logger.Warn("no tokenizer for model %s, estimating by length: %v", modelCfg.Model, err)
		counter = tokens.NewFallbackCounter()
	}
	estimator := store.NewEstimator(counter)

	// Resumed sessions rebuild their context from the log before the emitter
	// opens, so the sequence continues exactly where the log stops.
	var (
		sessCtx  *store.Context
		startSeq uint64
		resumed  *store.ReplayResult
	)
	if sess.Resumed {
		resumed, err = store.Replay(sess.LogPath(), estimator)
		if err != nil {
			return fail(err)
		}
		sessCtx = resumed.Context
		startSeq = resumed.LastSeq
	} else {
		sessCtx = store.NewContext(estimator)
	}

	log, err := wire.OpenLog(sess.Dir)
	if err != nil {
		return fail(err)
	}
	emitter := wire.NewEmitter(sess.ID, log, startSeq)
	st := store.NewStore(sessCtx, emitter)

	policy := hub.NewSessionPolicy(opts.Yolo || cfg.Approval.YOLO)
	rec := metrics.NewRecorder()

	retryPolicy := retry.DefaultPolicy
	retryPolicy.MaxRetries = cfg.Loop.MaxRetriesPerStep
	summarizer := soul.NewModelSummarizer(retry.Wrap(client, retryPolicy))

	orch := subagent.New(subagent.Config{
		Spec:                spec,
		Store:               st,
		Depth:               0,
		Client:              client,
		WorkDir:             mgr.WorkDir(),
		Gate:                opts.Gate,
		Policy:              policy,
		Estimator:           estimator,
		Metrics:             rec,
		MaxSteps:            cfg.Loop.MaxStepsPerRun,
		MaxDepth:            cfg.Loop.MaxSubagentDepth,
		Retry:               retryPolicy,
		MaxContextTokens:    modelCfg.MaxContextWindow,
		CompactionThreshold: cfg.Compaction.ThresholdRatio,
		ProtectedTail:       cfg.Compaction.ProtectedTail,
		Summarizer:          summarizer,
	})

	toolProvider := tools.NewProvider(tools.ToolContext{
		WorkDir:   mgr.WorkDir(),
		Subagents: orch,
	}, spec.Tools)

	engineHub := hub.New(hub.Config{
		Provider: toolProvider,
		Store:    st,
		Gate:     opts.Gate,
		Policy:   policy,
	})

	s := soul.New(soul.Config{
		Name:                spec.Name,
		Store:               st,
		Hub:                 engineHub,
		Client:              client,
		SystemPrompt:        spec.SystemPrompt,
		MaxSteps:            cfg.Loop.MaxStepsPerRun,
		Retry:               retryPolicy,
		MaxContextTokens:    modelCfg.MaxContextWindow,
		CompactionThreshold: cfg.Compaction.ThresholdRatio,
		ProtectedTail:       cfg.Compaction.ProtectedTail,
		Summarizer:          summarizer,
		Metrics:             rec,
	})

	eng := &engine{
		spec:     spec,
		modelCfg: modelCfg,
		client:   client,
		mgr:      mgr,
		sess:     sess,
		log:      log,
		emitter:  emitter,
		store:    st,
		policy:   policy,
		soul:     s,
		metrics:  rec,
		resumed:  resumed,
		logger:   logger,
	}

	if resumed != nil {
		if err := eng.reconcileResume(); err != nil {
			eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

func loadSpec(agentFile string) (*agentspec.Spec, error) {
	if agentFile == "" {
		return agentspec.Default()
	}
	return agentspec.Load(agentFile)
}

// reconcileResume finishes what the log shows was in flight when the last
// owner stopped. Unresolved tool calls get interrupted results, an
// unfinished turn is closed as interrupted, and earlier always-allow grants
// carry into this run's policy. Nothing is re-executed.
func (e *engine) reconcileResume() error {
	res := e.resumed
	e.store.Restore(res.LastTurnID, res.OpenAssistant)

	for _, tool := range res.AlwaysAllowed {
		e.policy.Allow(tool)
	}

	for i := range res.Interrupted {
		call := &res.Interrupted[i]
		output := "Interrupted before completion."
		if call.AwaitingApproval {
			output = "Interrupted while awaiting approval."
		}
		if err := e.store.AppendToolResult(store.ToolResultPart{
			ToolCallID: call.ToolCallID,
			Tool:       call.Tool,
			Output:     output,
		}, wire.ResultInterrupted); err != nil {
			return fmt.Errorf("resume: record interrupted call %s: %w", call.ToolCallID, err)
		}
	}

	if res.LastTurnID != "" {
		if err := e.store.EndTurn(wire.OutcomeInterrupted, "interrupted by shutdown"); err != nil {
			return fmt.Errorf("resume: close interrupted turn: %w", err)
		}
	}

	detail := fmt.Sprintf("resumed at seq %d with %d context messages", res.LastSeq, e.store.Context().Len())
	if err := e.store.EmitStatus(wire.StageResume, detail); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	e.logger.Info("resume reconciled: %d interrupted calls, %d always-allow grants",
		len(res.Interrupted), len(res.AlwaysAllowed))
	return nil
}

// RunTurn drives one full turn and records its bookkeeping: the metrics
// snapshot lands beside the wire log and the session index counts the turn.
func (e *engine) RunTurn(ctx context.Context, userInput string) (*soul.TurnReport, error) {
	e.turnBusy.Store(true)
	defer e.turnBusy.Store(false)

	report, err := e.soul.RunTurn(ctx, userInput)

	snapshot := filepath.Join(e.sess.Dir, metrics.SnapshotFileName)
	if werr := e.metrics.WriteSnapshot(snapshot); werr != nil {
		e.logger.Warn("failed to write metrics snapshot: %v", werr)
	}
	if report != nil {
		if terr := e.sess.RecordTurn(); terr != nil {
			e.logger.Warn("failed to record turn in session index: %v", terr)
		}
	}
	return report, err
}

// Interrupt stops the turn in flight, reporting whether there was one.
func (e *engine) Interrupt() bool {
	if !e.turnBusy.Load() {
		return false
	}
	e.soul.Interrupt()
	return true
}

// Close releases the session: lock, log, and metadata index.
func (e *engine) Close() {
	if err := e.log.Close(); err != nil {
		e.logger.Warn("failed to close session log: %v", err)
	}
	if err := e.sess.Close(); err != nil {
		e.logger.Warn("failed to close session: %v", err)
	}
	if err := e.mgr.Close(); err != nil {
		e.logger.Warn("failed to close session manager: %v", err)
	}
}
