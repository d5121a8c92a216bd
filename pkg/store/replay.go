package store

import (
	"fmt"

	"agentcore/pkg/logx"
	"agentcore/pkg/wire"
)

// InterruptedCall is a tool call the log shows as started but never resolved:
// the engine stopped while it was executing or awaiting approval. Resume
// surfaces these and records interrupted results for them; it never re-runs
// them.
type InterruptedCall struct {
	ToolCallID       string
	Tool             string
	TurnID           string
	AwaitingApproval bool // true when the approval request was never answered
}

// ReplayResult is everything a resumed session needs from its log.
type ReplayResult struct {
	Context       *Context
	LastSeq       uint64
	LastTurnID    string // non-empty when the log ends inside an unfinished turn
	OpenAssistant bool
	Interrupted   []InterruptedCall
	AlwaysAllowed []string // tools granted always-allow earlier in the session
}

type replayApproval struct {
	tool       string
	toolCallID string
	answered   bool
}

// Replay rebuilds a session context by applying the wire log from the start.
// The same events that drove the live context drive the rebuild, so the
// result matches the live context message for message. Subagent traffic
// (parent-tagged messages) advances the sequence but never touches the parent
// context. A sequence gap mid-log means an event was lost and the rebuild
// would silently diverge, so that is an error; only the final line may be
// missing (torn write).
func Replay(logPath string, estimator *Estimator) (*ReplayResult, error) {
	logger := logx.NewLogger("replay")

	msgs, err := wire.ReadMessages(logPath)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	res := &ReplayResult{Context: NewContext(estimator)}

	var (
		open         bool
		pendingOrder []string
		pending      = map[string]*InterruptedCall{}
		approvals    = map[string]*replayApproval{}
		allowSeen    = map[string]bool{}
	)

	appendAssistantPart := func(part Part, msg *wire.Message) {
		if open {
			if err := res.Context.AppendPartToLast(part); err == nil {
				return
			}
		}
		res.Context.Append(Message{
			Role:      RoleAssistant,
			Parts:     []Part{part},
			Timestamp: msg.Timestamp,
		})
		open = true
	}

	for _, msg := range msgs {
		if msg.Seq != res.LastSeq+1 {
			return nil, fmt.Errorf("replay: sequence gap: %d follows %d in %s", msg.Seq, res.LastSeq, logPath)
		}
		res.LastSeq = msg.Seq

		// Subagent messages share the log but belong to child contexts,
		// which do not survive a restart.
		if msg.ParentID != "" {
			continue
		}

		switch msg.Type {
		case wire.TypeEvent:
			switch msg.EventKind() {
			case wire.EventTurnBegin:
				tb := msg.Event.TurnBegin
				if tb == nil {
					return nil, fmt.Errorf("replay: seq %d: turn_begin event without payload", msg.Seq)
				}
				res.Context.Append(NewUserMessage(tb.UserInput, msg.Timestamp))
				open = false
				res.LastTurnID = msg.TurnID

			case wire.EventAssistantDelta:
				d := msg.Event.AssistantDelta
				if d == nil {
					return nil, fmt.Errorf("replay: seq %d: assistant_delta event without payload", msg.Seq)
				}
				var part Part
				if d.Thinking {
					part = Part{Thinking: &ThinkingPart{Text: d.Text}}
				} else {
					part = Part{Text: &TextPart{Text: d.Text}}
				}
				appendAssistantPart(part, msg)

			case wire.EventToolCallStarted:
				started := msg.Event.ToolCallStarted
				if started == nil {
					return nil, fmt.Errorf("replay: seq %d: tool_call_started event without payload", msg.Seq)
				}
				appendAssistantPart(Part{ToolCall: &ToolCallPart{
					ID:        msg.ToolCallID,
					Tool:      started.Tool,
					Arguments: started.Arguments,
				}}, msg)
				pending[msg.ToolCallID] = &InterruptedCall{
					ToolCallID: msg.ToolCallID,
					Tool:       started.Tool,
					TurnID:     msg.TurnID,
				}
				pendingOrder = append(pendingOrder, msg.ToolCallID)

			case wire.EventToolCallResult:
				r := msg.Event.ToolCallResult
				if r == nil {
					return nil, fmt.Errorf("replay: seq %d: tool_call_result event without payload", msg.Seq)
				}
				open = false
				res.Context.Append(Message{
					Role: RoleTool,
					Parts: []Part{{ToolResult: &ToolResultPart{
						ToolCallID: msg.ToolCallID,
						Tool:       r.Tool,
						Output:     r.Output,
						IsError:    r.Status == wire.ResultFailed,
						Denied:     r.Status == wire.ResultDenied,
					}}},
					Timestamp: msg.Timestamp,
				})
				delete(pending, msg.ToolCallID)

			case wire.EventStatusUpdate:
				u := msg.Event.StatusUpdate
				if u != nil && u.Stage == wire.StageCompaction && u.Replaced > 0 {
					if err := res.Context.CompactPrefix(u.Replaced, NewSummaryMessage(u.Summary, msg.Timestamp)); err != nil {
						return nil, fmt.Errorf("replay: seq %d: %w", msg.Seq, err)
					}
				}

			case wire.EventTurnEnd:
				open = false
				res.LastTurnID = ""

			case wire.EventError:
				// Informational; the turn outcome travels in TurnEnd.

			default:
				logger.Debug("replay: ignoring unknown event kind %q at seq %d", msg.EventKind(), msg.Seq)
			}

		case wire.TypeRequest:
			if msg.Request.Kind == wire.RequestApproval && msg.Request.Approval != nil {
				req := msg.Request.Approval
				approvals[req.ID] = &replayApproval{tool: req.Tool, toolCallID: msg.ToolCallID}
			}

		case wire.TypeResponse:
			if msg.Response.Kind == wire.ResponseApproval && msg.Response.Approval != nil {
				resp := msg.Response.Approval
				req, ok := approvals[resp.RequestID]
				if !ok {
					logger.Warn("replay: response for unknown approval request %q at seq %d", resp.RequestID, msg.Seq)
					continue
				}
				req.answered = true
				if resp.Decision == wire.DecisionAlwaysAllow && !allowSeen[req.tool] {
					allowSeen[req.tool] = true
					res.AlwaysAllowed = append(res.AlwaysAllowed, req.tool)
				}
			}

		default:
			logger.Debug("replay: ignoring unknown message type %q at seq %d", msg.Type, msg.Seq)
		}
	}

	for _, a := range approvals {
		if a.answered {
			continue
		}
		if call, ok := pending[a.toolCallID]; ok {
			call.AwaitingApproval = true
		}
	}
	for _, id := range pendingOrder {
		if call, ok := pending[id]; ok {
			res.Interrupted = append(res.Interrupted, *call)
		}
	}
	res.OpenAssistant = open
	return res, nil
}
