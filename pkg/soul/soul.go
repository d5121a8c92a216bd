// Package soul implements the turn engine. One soul drives one context
// through the step loop - model call, tool dispatch, repeat - until the turn
// completes, fails, or is interrupted. Subagents are souls too, differing
// only in their context, tool set, and depth.
package soul

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/hub"
	"agentcore/pkg/llm"
	"agentcore/pkg/llm/retry"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/store"
	"agentcore/pkg/wire"
)

const interruptCause = "interrupted by user"

// DefaultMaxSteps bounds a turn when the config does not say.
const DefaultMaxSteps = 100

// Summarizer condenses a context prefix into the summary text compaction
// writes in its place. Model-backed in production, deterministic in tests.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []store.Message) (string, error)
}

// Config assembles a soul.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Config struct {
	Name   string // agent name, for logging
	Store  *store.Store
	Hub    *hub.Hub
	Client llm.Client

	SystemPrompt string

	// Loop control.
	MaxSteps int          // step budget per turn
	Retry    retry.Policy // per-step provider retry budget

	// Compaction. Zero MaxContextTokens or a nil Summarizer disables it.
	MaxContextTokens    int
	CompactionThreshold float64 // ratio of MaxContextTokens that triggers compaction
	ProtectedTail       int     // newest messages never compacted
	Summarizer          Summarizer

	Metrics *metrics.Recorder // optional; a private recorder is used when nil
	Depth   int               // 0 for the root soul
}

// TurnReport summarizes a finished turn.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type TurnReport struct {
	Outcome   wire.TurnOutcome
	Cause     string // set for failed and interrupted turns
	Steps     int
	FinalText string // assistant text of the closing step; a subagent's report
}

// Soul is the engine instance bound to one context.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Soul struct {
	name         string
	store        *store.Store
	hub          *hub.Hub
	client       llm.Client
	systemPrompt string

	maxSteps    int
	retryPolicy retry.Policy

	maxContextTokens int
	threshold        float64
	protectedTail    int
	summarizer       Summarizer

	rec    *metrics.Recorder
	depth  int
	logger *logx.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc // cancels the in-flight turn

	interrupted atomic.Bool
}

// New creates a soul in the Idle state.
func New(cfg Config) *Soul {
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	name := cfg.Name
	if name == "" {
		name = "soul"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Soul{
		name:             name,
		store:            cfg.Store,
		hub:              cfg.Hub,
		client:           cfg.Client,
		systemPrompt:     cfg.SystemPrompt,
		maxSteps:         cfg.MaxSteps,
		retryPolicy:      cfg.Retry,
		maxContextTokens: cfg.MaxContextTokens,
		threshold:        cfg.CompactionThreshold,
		protectedTail:    cfg.ProtectedTail,
		summarizer:       cfg.Summarizer,
		rec:              rec,
		depth:            cfg.Depth,
		logger:           logx.NewLogger(name),
		state:            StateIdle,
	}
}

// State returns the current engine state.
func (s *Soul) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Depth returns the soul's nesting depth; 0 is the root.
func (s *Soul) Depth() int { return s.depth }

// Store exposes the soul's context store.
func (s *Soul) Store() *store.Store { return s.store }

// Interrupt requests the current turn stop at its next suspension point.
// In-flight provider calls, tool executions, and subagents are canceled; the
// turn ends Interrupted and the next turn starts cleanly.
func (s *Soul) Interrupt() {
	s.interrupted.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// interruptedNow reports whether the turn should stop: an explicit interrupt
// or a dead turn context (parent cancellation propagating top-down).
func (s *Soul) interruptedNow(ctx context.Context) bool {
	return s.interrupted.Load() || ctx.Err() != nil
}

// RunTurn executes one full turn for the given user input. The returned
// report carries the semantic outcome; the error is non-nil only for
// engine-fatal conditions (log write failure, unknown tool, state bugs) -
// provider failures and denials are outcomes, not errors.
func (s *Soul) RunTurn(ctx context.Context, userInput string) (*TurnReport, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("turn already in progress (state %s)", s.state)
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.interrupted.Store(false)
	if err := s.transitionTo(StateAwaitingModelResponse); err != nil {
		s.mu.Unlock()
		cancel()
		return nil, err
	}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	turnID := uuid.New().String()
	s.logger.Info("turn %s begin (depth %d)", turnID, s.depth)
	if err := s.store.BeginTurn(turnID, userInput); err != nil {
		return nil, s.abandon(err)
	}

	return s.runSteps(turnCtx)
}

// runSteps is the step loop. Entered in AwaitingModelResponse with the turn
// already begun.
func (s *Soul) runSteps(turnCtx context.Context) (*TurnReport, error) {
	report := &TurnReport{}

	for step := 1; step <= s.maxSteps; step++ {
		report.Steps = step
		s.rec.IncStep()

		if s.interruptedNow(turnCtx) {
			return s.finish(report, wire.OutcomeInterrupted, interruptCause)
		}

		if err := s.maybeCompact(turnCtx); err != nil {
			return s.failFatal(report, err)
		}

		resp, err := s.complete(turnCtx)
		if err != nil {
			if s.interruptedNow(turnCtx) {
				return s.finish(report, wire.OutcomeInterrupted, interruptCause)
			}
			return s.finish(report, wire.OutcomeFailed, fmt.Sprintf("provider: %v", err))
		}

		if resp.Thinking != "" {
			if err := s.store.AppendAssistantText(resp.Thinking, true); err != nil {
				return nil, s.abandon(err)
			}
		}
		if resp.Content != "" {
			if err := s.store.AppendAssistantText(resp.Content, false); err != nil {
				return nil, s.abandon(err)
			}
			report.FinalText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			return s.finish(report, wire.OutcomeCompleted, "")
		}

		if err := s.dispatchState(resp.ToolCalls); err != nil {
			return nil, s.abandon(err)
		}

		results, err := s.hub.Dispatch(turnCtx, liftCalls(resp.ToolCalls))
		s.observeResults(results)
		if err != nil {
			if s.interruptedNow(turnCtx) {
				return s.finish(report, wire.OutcomeInterrupted, interruptCause)
			}
			// Unknown tool or a failed log write: the turn is failed AND the
			// condition surfaces to the caller as engine-fatal.
			return s.failFatal(report, err)
		}

		if s.interruptedNow(turnCtx) {
			return s.finish(report, wire.OutcomeInterrupted, interruptCause)
		}

		s.mu.Lock()
		err = s.transitionTo(StateAwaitingModelResponse)
		s.mu.Unlock()
		if err != nil {
			return nil, s.abandon(err)
		}
	}

	return s.finish(report, wire.OutcomeFailed,
		fmt.Sprintf("step budget exceeded after %d steps", s.maxSteps))
}

// complete performs the provider call under the per-step retry budget.
func (s *Soul) complete(turnCtx context.Context) (llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		System:      s.systemPrompt,
		Messages:    completionMessages(s.store.Context().Messages()),
		Tools:       s.hub.Definitions(),
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDefault,
	}

	policy := s.retryPolicy
	policy.OnRetry = func(_ int, _ error) { s.rec.IncProviderRetry() }

	start := time.Now()
	resp, err := retry.Complete(turnCtx, s.client, req, policy)
	s.rec.ObserveProviderLatency(time.Since(start))
	return resp, err
}

// maybeCompact replaces the compactable prefix with a summary when the
// context estimate crosses the threshold. A summarizer failure skips
// compaction for this step; the provider call may still fit, and if not, the
// overflow surfaces as a provider failure.
func (s *Soul) maybeCompact(turnCtx context.Context) error {
	if s.summarizer == nil || s.maxContextTokens <= 0 {
		return nil
	}
	threshold := int(float64(s.maxContextTokens) * s.threshold)
	if s.store.Context().Estimate() <= threshold {
		return nil
	}

	prefix, replaced := s.store.CompactablePrefix(s.protectedTail)
	if replaced == 0 {
		return nil
	}

	summary, err := s.summarizer.Summarize(turnCtx, prefix)
	if err != nil {
		s.logger.Warn("summarization failed, skipping compaction: %v", err)
		return nil
	}

	if err := s.store.Compact(replaced, summary); err != nil {
		return err
	}
	s.rec.IncCompaction()
	return nil
}

// dispatchState moves to AwaitingApproval when any call in the batch will
// prompt, ExecutingTools otherwise.
func (s *Soul) dispatchState(calls []llm.ToolCall) error {
	next := StateExecutingTools
	for i := range calls {
		if s.hub.RequiresApproval(calls[i].Name) {
			next = StateAwaitingApproval
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionTo(next)
}

// finish closes the turn with its outcome and returns the soul to Idle.
func (s *Soul) finish(report *TurnReport, outcome wire.TurnOutcome, cause string) (*TurnReport, error) {
	if err := s.store.EndTurn(outcome, cause); err != nil {
		return nil, s.abandon(err)
	}
	s.rec.ObserveTurn(string(outcome))

	report.Outcome = outcome
	report.Cause = cause
	if cause != "" {
		s.logger.Info("turn ended %s: %s", outcome, cause)
	} else {
		s.logger.Info("turn ended %s after %d steps", outcome, report.Steps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionTo(terminalState(outcome)); err != nil {
		return nil, err
	}
	if err := s.transitionTo(StateIdle); err != nil {
		return nil, err
	}
	return report, nil
}

// failFatal records a Failed turn end for an engine-fatal error, then
// surfaces the error. The wire always carries a terminal message even when
// the engine gives up.
func (s *Soul) failFatal(report *TurnReport, cause error) (*TurnReport, error) {
	if _, err := s.finish(report, wire.OutcomeFailed, cause.Error()); err != nil {
		return nil, errors.Join(cause, err)
	}
	return nil, cause
}

// abandon resets the soul to Idle after an error that prevented even a turn
// end from being recorded (the wire log itself is broken).
func (s *Soul) abandon(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	return cause
}

func terminalState(outcome wire.TurnOutcome) State {
	switch outcome {
	case wire.OutcomeCompleted:
		return StateCompleted
	case wire.OutcomeInterrupted:
		return StateInterrupted
	default:
		return StateFailed
	}
}

// liftCalls converts model tool calls into hub calls.
func liftCalls(calls []llm.ToolCall) []hub.Call {
	out := make([]hub.Call, len(calls))
	for i := range calls {
		out[i] = hub.Call{
			ID:        calls[i].ID,
			Tool:      calls[i].Name,
			Arguments: calls[i].Arguments,
		}
	}
	return out
}

// observeResults feeds dispatch outcomes into the metrics recorder.
func (s *Soul) observeResults(results []hub.Result) {
	for i := range results {
		s.rec.ObserveToolExecution(results[i].Tool, string(results[i].Status))
	}
}
