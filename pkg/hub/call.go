package hub

import "agentcore/pkg/wire"

// Status tracks a tool call through the dispatch pipeline. Every call a model
// requests ends in Denied, Completed or Failed before its turn finishes; a
// call cut off by an interrupt keeps its last non-terminal status and gets an
// interrupted result instead.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusDenied           Status = "denied"
	StatusExecuting        Status = "executing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingApproval, StatusApproved,
		StatusDenied, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Call is one tool invocation lifted from a model response. ID is unique
// within the turn. Dispatch advances Status in place as the call progresses.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Call struct {
	ID        string
	Tool      string
	Arguments map[string]any
	Status    Status
}

// Result is the terminal outcome of one dispatched call. Dispatch returns
// results in request order regardless of execution order.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory optimization
type Result struct {
	ToolCallID string
	Tool       string
	Status     wire.ResultStatus
	Output     string
}
