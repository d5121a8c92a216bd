package hub

import (
	"context"
	"sort"
	"sync"

	"agentcore/pkg/wire"
)

// Gate obtains the user's decision for one approval request. The request has
// already been emitted on the wire when Decide is called; the wire-mode gate
// waits for the matching inbound ApprovalResponse, the interactive gate
// prompts the terminal. Decide returns the context error when the caller is
// interrupted while waiting.
type Gate interface {
	Decide(ctx context.Context, req *wire.ApprovalRequest) (wire.Decision, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, req *wire.ApprovalRequest) (wire.Decision, error)

// Decide implements Gate.
func (f GateFunc) Decide(ctx context.Context, req *wire.ApprovalRequest) (wire.Decision, error) {
	return f(ctx, req)
}

// SessionPolicy is the session-scoped approval state: YOLO mode and the
// always-allow grants. One instance is shared by the root soul and every
// subagent, so a grant anywhere applies session wide.
type SessionPolicy struct {
	mu    sync.Mutex
	yolo  bool
	allow map[string]bool
}

// NewSessionPolicy creates the policy for one session.
func NewSessionPolicy(yolo bool) *SessionPolicy {
	return &SessionPolicy{
		yolo:  yolo,
		allow: make(map[string]bool),
	}
}

// YOLO reports whether every approval is bypassed.
func (p *SessionPolicy) YOLO() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.yolo
}

// Allowed reports whether the tool holds an always-allow grant.
func (p *SessionPolicy) Allowed(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allow[tool]
}

// Allow records an always-allow grant for the tool.
func (p *SessionPolicy) Allow(tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allow[tool] = true
}

// Grants returns the granted tool names sorted, for status displays.
func (p *SessionPolicy) Grants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	grants := make([]string, 0, len(p.allow))
	for tool := range p.allow {
		grants = append(grants, tool)
	}
	sort.Strings(grants)
	return grants
}
