package store

import (
	"fmt"
	"sync"

	"agentcore/pkg/logx"
	"agentcore/pkg/wire"
)

// Store couples a Context to the session's wire emitter. Every mutation is
// emitted (and therefore logged) first; the in-memory context only changes
// after the emit succeeded, and it changes using the emitted timestamp so a
// later replay of the log rebuilds the context message for message.
type Store struct {
	ctx     *Context
	emitter *wire.Emitter
	logger  *logx.Logger

	mu       sync.Mutex
	turnID   string
	parentID string
	open     bool // last message is an assistant message still accumulating parts
}

// NewStore creates a store for a top-level session context.
func NewStore(ctx *Context, emitter *wire.Emitter) *Store {
	return &Store{
		ctx:     ctx,
		emitter: emitter,
		logger:  logx.NewLogger("store"),
	}
}

// NewSubagentStore creates a store whose emitted messages are all tagged with
// the spawning tool call id. Tagged messages share the parent's log and
// sequence but are excluded from the parent context on replay.
func NewSubagentStore(ctx *Context, emitter *wire.Emitter, parentToolCallID string) *Store {
	s := NewStore(ctx, emitter)
	s.parentID = parentToolCallID
	return s
}

// Context returns the underlying context.
func (s *Store) Context() *Context { return s.ctx }

// Emitter returns the session emitter, shared with the hub for approval
// traffic.
func (s *Store) Emitter() *wire.Emitter { return s.emitter }

// TurnID returns the id of the turn currently in progress, or "".
func (s *Store) TurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnID
}

// Restore primes turn and open-message state from a replayed log so appends
// after a resume continue the transcript exactly where it stopped.
func (s *Store) Restore(turnID string, openAssistant bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnID = turnID
	s.open = openAssistant
}

func (s *Store) emit(msg *wire.Message) error {
	if s.parentID != "" {
		msg.WithParent(s.parentID)
	}
	return s.emitter.Emit(msg)
}

// BeginTurn opens a turn: emits TurnBegin and appends the user message.
func (s *Store) BeginTurn(turnID, userInput string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:      wire.EventTurnBegin,
		TurnBegin: &wire.TurnBegin{UserInput: userInput},
	}).WithTurn(turnID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}

	s.turnID = turnID
	s.open = false
	s.ctx.Append(NewUserMessage(userInput, msg.Timestamp))
	return nil
}

// AppendAssistantText records one assistant content part. Consecutive parts
// accumulate into a single assistant message until a tool result or turn
// boundary closes it.
func (s *Store) AppendAssistantText(text string, thinking bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:           wire.EventAssistantDelta,
		AssistantDelta: &wire.AssistantDelta{Text: text, Thinking: thinking},
	}).WithTurn(s.turnID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("append assistant text: %w", err)
	}

	var part Part
	if thinking {
		part = Part{Thinking: &ThinkingPart{Text: text}}
	} else {
		part = Part{Text: &TextPart{Text: text}}
	}
	s.appendAssistantPart(part, msg)
	return nil
}

// AppendToolCall records a tool invocation requested by the model. The hub
// emits one of these for every call in a batch before any gating, so denied
// calls still appear in the transcript and pair with their result.
func (s *Store) AppendToolCall(call ToolCallPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:            wire.EventToolCallStarted,
		ToolCallStarted: &wire.ToolCallStarted{Tool: call.Tool, Arguments: call.Arguments},
	}).WithTurn(s.turnID).WithToolCall(call.ID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("append tool call: %w", err)
	}

	s.appendAssistantPart(Part{ToolCall: &call}, msg)
	return nil
}

// appendAssistantPart extends the open assistant message or starts a new one.
// Callers hold s.mu.
func (s *Store) appendAssistantPart(part Part, msg *wire.Message) {
	if s.open {
		if err := s.ctx.AppendPartToLast(part); err == nil {
			return
		}
		// Context was emptied underneath us (should not happen); fall through
		// and start a fresh message rather than drop the part.
		s.logger.Warn("open assistant message missing, starting a new one")
	}
	s.ctx.Append(Message{
		Role:      RoleAssistant,
		Parts:     []Part{part},
		Timestamp: msg.Timestamp,
	})
	s.open = true
}

// AppendToolResult records a tool call's terminal status and feeds its output
// back into the conversation as a tool message. This closes the open
// assistant message.
func (s *Store) AppendToolResult(result ToolResultPart, status wire.ResultStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:           wire.EventToolCallResult,
		ToolCallResult: &wire.ToolCallResult{Tool: result.Tool, Status: status, Output: result.Output},
	}).WithTurn(s.turnID).WithToolCall(result.ToolCallID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("append tool result: %w", err)
	}

	s.open = false
	s.ctx.Append(Message{
		Role:      RoleTool,
		Parts:     []Part{{ToolResult: &result}},
		Timestamp: msg.Timestamp,
	})
	return nil
}

// EndTurn closes the turn with its outcome.
func (s *Store) EndTurn(outcome wire.TurnOutcome, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:    wire.EventTurnEnd,
		TurnEnd: &wire.TurnEnd{Outcome: outcome, Cause: cause},
	}).WithTurn(s.turnID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("end turn: %w", err)
	}

	s.open = false
	s.turnID = ""
	return nil
}

// EmitStatus publishes an out-of-band notice (resume, subagent progress).
func (s *Store) EmitStatus(stage, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind:         wire.EventStatusUpdate,
		StatusUpdate: &wire.StatusUpdate{Stage: stage, Detail: detail},
	}).WithTurn(s.turnID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("emit status: %w", err)
	}
	return nil
}

// CompactablePrefix returns the prefix that compaction may replace, keeping
// the protected tail intact, along with its length. It returns (nil, 0) when
// there is nothing useful to compact: too few messages, or the prefix is
// already just a previous compaction's summary. That second case is what
// makes repeated compaction converge instead of oscillating.
func (s *Store) CompactablePrefix(protectedTail int) ([]Message, int) {
	msgs := s.ctx.Messages()
	replaced := len(msgs) - protectedTail
	if replaced < 1 {
		return nil, 0
	}
	if replaced == 1 && msgs[0].Summary {
		return nil, 0
	}
	return msgs[:replaced], replaced
}

// Compact replaces the oldest replaced messages with a single summary
// message. The replacement parameters ride on the StatusUpdate event so a
// replay applies the identical rewrite at the identical point.
func (s *Store) Compact(replaced int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := wire.NewEvent("", &wire.Event{
		Kind: wire.EventStatusUpdate,
		StatusUpdate: &wire.StatusUpdate{
			Stage:    wire.StageCompaction,
			Detail:   fmt.Sprintf("replaced %d messages with a summary", replaced),
			Replaced: replaced,
			Summary:  summary,
		},
	}).WithTurn(s.turnID)
	if err := s.emit(msg); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	if err := s.ctx.CompactPrefix(replaced, NewSummaryMessage(summary, msg.Timestamp)); err != nil {
		// The event is already durable; a mismatch here means the caller's
		// prefix math was wrong. Surface it loudly.
		s.logger.Error("compact: logged replacement could not be applied: %v", err)
		return fmt.Errorf("compact: %w", err)
	}
	s.logger.Info("compacted context: replaced=%d estimate=%d", replaced, s.ctx.Estimate())
	return nil
}
