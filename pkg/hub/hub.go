// Package hub routes model-requested tool calls to their implementations:
// approval gating, ordered execution with parallel-safe runs, and result
// routing back into the context, with every stage on the wire.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentcore/pkg/logx"
	"agentcore/pkg/store"
	"agentcore/pkg/tools"
	"agentcore/pkg/wire"
)

const (
	deniedOutput      = "The user denied this tool call."
	interruptedOutput = "Interrupted before completion."
)

// Config assembles a hub for one soul.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Config struct {
	Provider *tools.Provider
	Store    *store.Store
	Gate     Gate
	Policy   *SessionPolicy

	// ParentID is set on subagent hubs: the spawning tool call id, tagged
	// onto the approval traffic this hub emits.
	ParentID string
}

// Hub dispatches one soul's tool calls. Root and subagent souls each get
// their own hub, all sharing the session's approval policy and gate.
type Hub struct {
	provider *tools.Provider
	store    *store.Store
	gate     Gate
	policy   *SessionPolicy
	parentID string
	logger   *logx.Logger
}

// New creates a hub.
func New(cfg Config) *Hub {
	return &Hub{
		provider: cfg.Provider,
		store:    cfg.Store,
		gate:     cfg.Gate,
		policy:   cfg.Policy,
		parentID: cfg.ParentID,
		logger:   logx.NewLogger("hub"),
	}
}

// Dispatch runs one assistant message's tool calls. Calls execute in model
// order, except contiguous runs of parallel-safe calls which run
// concurrently; results come back in request order regardless. Denials and
// handler failures are ordinary results; a returned error is fatal to the
// step, and every announced call still receives a terminal record first so
// the transcript stays balanced.
func (h *Hub) Dispatch(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	h.logger.Debug("dispatching %d tool calls", len(calls))

	// A call naming an unregistered tool fails the step. Checked before
	// anything is announced so a bad batch leaves no dangling records.
	parallel := make([]bool, len(calls))
	for i := range calls {
		def, err := h.provider.Definition(calls[i].Tool)
		if err != nil {
			return nil, fmt.Errorf("no handler for tool %q: %w", calls[i].Tool, err)
		}
		parallel[i] = def.ParallelSafe
	}

	// Announce every call in model order before gating or executing, so the
	// context carries the full batch and each call pairs with a later result.
	for i := range calls {
		calls[i].Status = StatusPending
		if err := h.store.AppendToolCall(store.ToolCallPart{
			ID:        calls[i].ID,
			Tool:      calls[i].Tool,
			Arguments: calls[i].Arguments,
		}); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(calls))
	done := make([]bool, len(calls))

	commit := func(i int) error {
		done[i] = true
		return h.store.AppendToolResult(store.ToolResultPart{
			ToolCallID: results[i].ToolCallID,
			Tool:       results[i].Tool,
			Output:     results[i].Output,
			IsError:    results[i].Status == wire.ResultFailed,
			Denied:     results[i].Status == wire.ResultDenied,
		}, results[i].Status)
	}

	// abort records a terminal result for every call that has none yet, then
	// surfaces the cause. Calls already resolved (a denial awaiting commit)
	// keep their outcome; the rest are marked interrupted.
	abort := func(cause error) ([]Result, error) {
		for i := range calls {
			if done[i] {
				continue
			}
			if results[i].Status == "" {
				results[i] = Result{
					ToolCallID: calls[i].ID,
					Tool:       calls[i].Tool,
					Status:     wire.ResultInterrupted,
					Output:     interruptedOutput,
				}
			}
			if err := commit(i); err != nil {
				return results, err
			}
		}
		return results, cause
	}

	for start := 0; start < len(calls); {
		end := start + 1
		for parallel[start] && end < len(calls) && parallel[end] {
			end++
		}

		// Approval prompts stay serial even for a parallel run.
		for i := start; i < end; i++ {
			if err := h.gateCall(ctx, &calls[i]); err != nil {
				return abort(err)
			}
			if calls[i].Status == StatusDenied {
				h.logger.Info("tool call %s (%s) denied by user", calls[i].ID, calls[i].Tool)
				results[i] = Result{
					ToolCallID: calls[i].ID,
					Tool:       calls[i].Tool,
					Status:     wire.ResultDenied,
					Output:     deniedOutput,
				}
			}
		}

		if end-start == 1 {
			if calls[start].Status != StatusDenied {
				results[start] = h.execCall(ctx, &calls[start])
			}
		} else {
			var wg sync.WaitGroup
			for i := start; i < end; i++ {
				if calls[i].Status == StatusDenied {
					continue
				}
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = h.execCall(ctx, &calls[i])
				}(i)
			}
			wg.Wait()
		}

		// Results land in request order.
		for i := start; i < end; i++ {
			if err := commit(i); err != nil {
				return results, err
			}
		}

		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		start = end
	}
	return results, nil
}

// gateCall resolves the approval requirement for one call, leaving it
// Approved or Denied. YOLO mode and prior always-allow grants skip the
// prompt; a fresh always-allow answer is recorded only for session-policy
// tools, an always-policy tool asks again next time.
func (h *Hub) gateCall(ctx context.Context, call *Call) error {
	def, err := h.provider.Definition(call.Tool)
	if err != nil {
		return err
	}

	ask := false
	switch def.Approval {
	case tools.ApprovalNever:
	case tools.ApprovalSession:
		ask = !h.policy.YOLO() && !h.policy.Allowed(call.Tool)
	case tools.ApprovalAlways:
		ask = !h.policy.YOLO()
	}
	if !ask {
		call.Status = StatusApproved
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := &wire.ApprovalRequest{
		ID:        uuid.NewString(),
		Tool:      call.Tool,
		Arguments: call.Arguments,
	}
	reqMsg := wire.NewApprovalRequestMsg("", req).WithTurn(h.store.TurnID()).WithToolCall(call.ID)
	if h.parentID != "" {
		reqMsg.WithParent(h.parentID)
	}
	if err := h.store.Emitter().Emit(reqMsg); err != nil {
		return fmt.Errorf("emit approval request: %w", err)
	}
	call.Status = StatusAwaitingApproval

	decision, err := h.gate.Decide(ctx, req)
	if err != nil {
		return fmt.Errorf("approval for %s unresolved: %w", call.Tool, err)
	}

	// The decision is re-emitted under the session's own sequence so the log
	// carries the complete request/response exchange.
	respMsg := wire.NewApprovalResponseMsg("", &wire.ApprovalResponse{
		RequestID: req.ID,
		Decision:  decision,
	}).WithTurn(h.store.TurnID()).WithToolCall(call.ID)
	if h.parentID != "" {
		respMsg.WithParent(h.parentID)
	}
	if err := h.store.Emitter().Emit(respMsg); err != nil {
		return fmt.Errorf("emit approval response: %w", err)
	}

	switch decision {
	case wire.DecisionApprove:
		call.Status = StatusApproved
	case wire.DecisionAlwaysAllow:
		call.Status = StatusApproved
		if def.Approval == tools.ApprovalSession {
			h.policy.Allow(call.Tool)
		}
	case wire.DecisionDeny:
		call.Status = StatusDenied
	default:
		return fmt.Errorf("unknown approval decision %q", decision)
	}
	return nil
}

// Definitions returns the tool definitions this hub can dispatch, in the
// shape a completion request carries them.
func (h *Hub) Definitions() []tools.ToolDefinition {
	return h.provider.Definitions()
}

// RequiresApproval reports whether dispatching the named tool right now
// would prompt the user. The soul uses it to pick the observable state for a
// batch before handing it to Dispatch.
func (h *Hub) RequiresApproval(tool string) bool {
	def, err := h.provider.Definition(tool)
	if err != nil {
		return false
	}
	switch def.Approval {
	case tools.ApprovalSession:
		return !h.policy.YOLO() && !h.policy.Allowed(tool)
	case tools.ApprovalAlways:
		return !h.policy.YOLO()
	default:
		return false
	}
}

// execCall runs one approved call. Handler failures become error-tagged
// results; a failure while the context is canceled counts as interrupted.
func (h *Hub) execCall(ctx context.Context, call *Call) Result {
	call.Status = StatusExecuting
	res := Result{ToolCallID: call.ID, Tool: call.Tool}

	tool, err := h.provider.Get(call.Tool)
	if err != nil {
		call.Status = StatusFailed
		res.Status = wire.ResultFailed
		res.Output = fmt.Sprintf("tool unavailable: %v", err)
		return res
	}

	out, err := tool.Exec(tools.WithCallID(ctx, call.ID), call.Arguments)
	switch {
	case err != nil && ctx.Err() != nil:
		res.Status = wire.ResultInterrupted
		res.Output = interruptedOutput
	case err != nil:
		h.logger.Debug("tool %s failed: %v", call.Tool, err)
		call.Status = StatusFailed
		res.Status = wire.ResultFailed
		res.Output = err.Error()
	default:
		call.Status = StatusCompleted
		res.Status = wire.ResultCompleted
		if out != nil {
			res.Output = out.Content
		}
	}
	return res
}
