// Package wire defines the runtime's external protocol: a tagged-union message
// schema with per-session sequencing, a line-delimited duplex transport, and the
// append-only session log that doubles as the durable audit trail.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the top-level class of a wire message.
type Type string

const (
	TypeEvent    Type = "event"    // Engine progress notifications
	TypeRequest  Type = "request"  // Engine asks the consumer for a decision
	TypeResponse Type = "response" // Consumer answers a request
)

// EventKind identifies the payload of an Event message.
type EventKind string

const (
	EventTurnBegin       EventKind = "turn_begin"
	EventAssistantDelta  EventKind = "assistant_delta"
	EventToolCallStarted EventKind = "tool_call_started"
	EventToolCallResult  EventKind = "tool_call_result"
	EventStatusUpdate    EventKind = "status_update"
	EventTurnEnd         EventKind = "turn_end"
	EventError           EventKind = "error"
)

// RequestKind identifies the payload of a Request message.
type RequestKind string

const (
	RequestApproval  RequestKind = "approval"
	RequestUserInput RequestKind = "user_input" // Inbound only: consumer submits a turn
)

// ResponseKind identifies the payload of a Response message.
type ResponseKind string

const (
	ResponseApproval ResponseKind = "approval"
)

// Decision is the consumer's answer to an approval request.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionDeny        Decision = "deny"
	DecisionAlwaysAllow Decision = "always-allow" // Approve and skip future requests for this tool
)

// TurnOutcome is the terminal state of a turn as reported in TurnEnd.
type TurnOutcome string

const (
	OutcomeCompleted   TurnOutcome = "completed"
	OutcomeFailed      TurnOutcome = "failed"
	OutcomeInterrupted TurnOutcome = "interrupted"
)

// ResultStatus is the terminal status of a tool call as reported in ToolCallResult.
type ResultStatus string

const (
	ResultCompleted   ResultStatus = "completed"
	ResultFailed      ResultStatus = "failed"
	ResultDenied      ResultStatus = "denied"
	ResultInterrupted ResultStatus = "interrupted"
)

// TurnBegin opens a turn; UserInput is the text that started it.
type TurnBegin struct {
	UserInput string `json:"user_input"`
}

// AssistantDelta carries one assistant content part. Thinking parts are
// delivered through the same event with the flag set.
type AssistantDelta struct {
	Text     string `json:"text"`
	Thinking bool   `json:"thinking,omitempty"`
}

// ToolCallStarted announces that a tool call left the pending queue.
type ToolCallStarted struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult reports the terminal status of a tool call. Output is the
// content fed back into the conversation, including denial and error text.
type ToolCallResult struct {
	Tool   string       `json:"tool"`
	Status ResultStatus `json:"status"`
	Output string       `json:"output,omitempty"`
}

// Stages reported by StatusUpdate events.
const (
	StageCompaction = "compaction"
	StageResume     = "resume"
	StageSubagent   = "subagent"
)

// StatusUpdate carries out-of-band engine notices (compaction, resume, subagent
// progress). It is never part of the ordinary turn event sequence. Compaction
// updates carry the replaced prefix length and the summary text so a replay can
// apply the identical replacement.
type StatusUpdate struct {
	Stage    string `json:"stage"`
	Detail   string `json:"detail,omitempty"`
	Replaced int    `json:"replaced,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// TurnEnd closes a turn with its outcome. Cause is set for failed and
// interrupted turns.
type TurnEnd struct {
	Outcome TurnOutcome `json:"outcome"`
	Cause   string      `json:"cause,omitempty"`
}

// ErrorEvent reports an engine-level error that is not a turn outcome.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Event is the union of engine progress payloads; exactly the field matching
// Kind is set. Consumers must ignore kinds they do not recognize.
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Event struct {
	Kind            EventKind        `json:"kind"`
	TurnBegin       *TurnBegin       `json:"turn_begin,omitempty"`
	AssistantDelta  *AssistantDelta  `json:"assistant_delta,omitempty"`
	ToolCallStarted *ToolCallStarted `json:"tool_call_started,omitempty"`
	ToolCallResult  *ToolCallResult  `json:"tool_call_result,omitempty"`
	StatusUpdate    *StatusUpdate    `json:"status_update,omitempty"`
	TurnEnd         *TurnEnd         `json:"turn_end,omitempty"`
	Error           *ErrorEvent      `json:"error,omitempty"`
}

// ApprovalRequest asks the consumer to decide one tool call (or one subagent
// spawn). ID correlates the eventual ApprovalResponse.
type ApprovalRequest struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// UserInput is an inbound turn submission in wire server mode.
type UserInput struct {
	Text string `json:"text"`
}

// Request is the union of decision-seeking payloads.
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Request struct {
	Kind      RequestKind      `json:"kind"`
	Approval  *ApprovalRequest `json:"approval,omitempty"`
	UserInput *UserInput       `json:"user_input,omitempty"`
}

// ApprovalResponse resolves exactly one ApprovalRequest.
type ApprovalResponse struct {
	RequestID string   `json:"request_id"`
	Decision  Decision `json:"decision"`
}

// Response is the union of consumer answers.
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Response struct {
	Kind     ResponseKind      `json:"kind"`
	Approval *ApprovalResponse `json:"approval,omitempty"`
}

// Message is the wire envelope. Seq is assigned by the session's emitter and
// increases by exactly one per message; the session log is the total order of
// every Message ever emitted. Unknown envelope fields must be ignored by
// receivers so the protocol can evolve additively.
//
//nolint:govet // fieldalignment: JSON layout preferred over memory optimization
type Message struct {
	Seq        uint64    `json:"seq"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ParentID   string    `json:"parent_id,omitempty"` // Set on subagent messages: the spawning tool call id
	Timestamp  time.Time `json:"timestamp"`
	Type       Type      `json:"type"`
	Event      *Event    `json:"event,omitempty"`
	Request    *Request  `json:"request,omitempty"`
	Response   *Response `json:"response,omitempty"`
}

// NewEvent builds an event envelope. Seq and Timestamp are assigned at emit time.
func NewEvent(sessionID string, event *Event) *Message {
	return &Message{
		SessionID: sessionID,
		Type:      TypeEvent,
		Event:     event,
	}
}

// NewApprovalRequestMsg builds a request envelope for one approval.
func NewApprovalRequestMsg(sessionID string, req *ApprovalRequest) *Message {
	return &Message{
		SessionID: sessionID,
		Type:      TypeRequest,
		Request:   &Request{Kind: RequestApproval, Approval: req},
	}
}

// NewApprovalResponseMsg builds a response envelope for one approval decision.
func NewApprovalResponseMsg(sessionID string, resp *ApprovalResponse) *Message {
	return &Message{
		SessionID: sessionID,
		Type:      TypeResponse,
		Response:  &Response{Kind: ResponseApproval, Approval: resp},
	}
}

// WithTurn tags the message with a turn id.
func (m *Message) WithTurn(turnID string) *Message {
	m.TurnID = turnID
	return m
}

// WithToolCall tags the message with a tool call id.
func (m *Message) WithToolCall(toolCallID string) *Message {
	m.ToolCallID = toolCallID
	return m
}

// WithParent tags the message with the parent correlation id used by subagents.
func (m *Message) WithParent(parentID string) *Message {
	m.ParentID = parentID
	return m
}

// EventKind returns the event kind, or "" when the message is not an event.
func (m *Message) EventKind() EventKind {
	if m.Type != TypeEvent || m.Event == nil {
		return ""
	}
	return m.Event.Kind
}

// ToJSON serializes the message for one log or transport line.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses one log or transport line. Unknown fields are dropped by the
// decoder; unknown kinds survive parsing and are skipped by consumers.
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wire message: %w", err)
	}
	return &msg, nil
}

// Validate checks envelope integrity before emit.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	switch m.Type {
	case TypeEvent:
		if m.Event == nil {
			return fmt.Errorf("event message missing event payload")
		}
		if !validEventKind(m.Event.Kind) {
			return fmt.Errorf("invalid event kind: %s", m.Event.Kind)
		}
	case TypeRequest:
		if m.Request == nil {
			return fmt.Errorf("request message missing request payload")
		}
	case TypeResponse:
		if m.Response == nil {
			return fmt.Errorf("response message missing response payload")
		}
	default:
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	return nil
}

func validEventKind(kind EventKind) bool {
	switch kind {
	case EventTurnBegin, EventAssistantDelta, EventToolCallStarted,
		EventToolCallResult, EventStatusUpdate, EventTurnEnd, EventError:
		return true
	default:
		return false
	}
}
