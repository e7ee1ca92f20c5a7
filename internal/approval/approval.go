// Package approval implements the ECLIA Approval Hub (spec §4.3): a
// per-session queue of pending tool-call approval tickets and their
// terminal-outcome waiters.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/eclia/gateway/pkg/types"
)

// DefaultTimeout is the hard upper bound on how long a ticket may remain
// unresolved, independent of any other timeout in the system.
const DefaultTimeout = 5 * time.Minute

type ticket struct {
	info     types.ApprovalTicket
	resultCh chan types.Decision
	timer    *time.Timer

	mu       sync.Mutex
	resolved bool
}

// resolve sets the terminal decision exactly once; subsequent calls are
// no-ops, satisfying "each approvalId resolves exactly once."
func (t *ticket) resolve(d types.Decision) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return false
	}
	t.resolved = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.resultCh <- d
	return true
}

// Hub is the process-scoped approval ticket table.
type Hub struct {
	mu        sync.Mutex
	tickets   map[string]*ticket
	bySession map[string]map[string]struct{}
	idGen     func() string
	onEnqueue func(types.ApprovalTicket)
	timeout   time.Duration
}

// New constructs a Hub. idGen generates approval ticket ids (the caller
// wires this to the shared ULID generator). onEnqueue, if non-nil, is
// called synchronously on every Enqueue so the orchestrator's SSE writer
// can emit the "tool_approval_pending" side effect in generation order.
func New(idGen func() string, onEnqueue func(types.ApprovalTicket)) *Hub {
	return &Hub{
		tickets:   make(map[string]*ticket),
		bySession: make(map[string]map[string]struct{}),
		idGen:     idGen,
		onEnqueue: onEnqueue,
		timeout:   DefaultTimeout,
	}
}

// Enqueue adds a ticket and starts its hard timeout timer.
func (h *Hub) Enqueue(sessionID, reason, tool string, args map[string]any, now int64) string {
	id := h.idGen()
	info := types.ApprovalTicket{
		ApprovalID: id,
		SessionID:  sessionID,
		Reason:     reason,
		Tool:       tool,
		Args:       args,
		CreatedAt:  now,
	}
	t := &ticket{info: info, resultCh: make(chan types.Decision, 1)}

	h.mu.Lock()
	h.tickets[id] = t
	if h.bySession[sessionID] == nil {
		h.bySession[sessionID] = make(map[string]struct{})
	}
	h.bySession[sessionID][id] = struct{}{}
	h.mu.Unlock()

	t.timer = time.AfterFunc(h.timeout, func() { h.Decide(id, types.DecisionTimeout) })

	if h.onEnqueue != nil {
		h.onEnqueue(info)
	}
	return id
}

// Decide sets approvalID's terminal outcome and wakes its waiter. Returns
// false if the ticket is unknown or already resolved.
func (h *Hub) Decide(approvalID string, decision types.Decision) bool {
	h.mu.Lock()
	t, ok := h.tickets[approvalID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	resolved := t.resolve(decision)
	if resolved {
		h.mu.Lock()
		if set, ok := h.bySession[t.info.SessionID]; ok {
			delete(set, approvalID)
			if len(set) == 0 {
				delete(h.bySession, t.info.SessionID)
			}
		}
		h.mu.Unlock()
	}
	return resolved
}

// Wait blocks until approvalID resolves or ctx is done, returning its
// terminal decision. The hard 5-minute timeout is enforced internally by
// Enqueue's timer, so Wait itself never times out on its own account.
// A watcher goroutine resolves the ticket as cancelled the moment ctx is
// done, so a client disconnect unblocks Wait immediately instead of
// waiting out the 5-minute hard timer.
func (h *Hub) Wait(ctx context.Context, approvalID string) types.Decision {
	h.mu.Lock()
	t, ok := h.tickets[approvalID]
	h.mu.Unlock()
	if !ok {
		return types.DecisionCancelled
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			h.Decide(approvalID, types.DecisionCancelled)
		case <-done:
		}
	}()

	select {
	case d := <-t.resultCh:
		return d
	case <-ctx.Done():
		return types.DecisionCancelled
	}
}

// CancelSession marks every pending ticket for sessionID as cancelled.
// Idempotent: sessions with no pending tickets are a no-op.
func (h *Hub) CancelSession(sessionID string) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.bySession[sessionID]))
	for id := range h.bySession[sessionID] {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Decide(id, types.DecisionCancelled)
	}
}
