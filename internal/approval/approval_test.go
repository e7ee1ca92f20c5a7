package approval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/pkg/types"
)

func idGen() func() string {
	var n int64
	return func() string {
		return "apr_" + time.Duration(atomic.AddInt64(&n, 1)).String()
	}
}

func TestEnqueueThenApprove(t *testing.T) {
	h := New(idGen(), nil)
	id := h.Enqueue("s1", "writes outside sandbox", "exec", map[string]any{"cmd": "rm"}, 1)
	require.NotEmpty(t, id)

	go func() {
		time.Sleep(5 * time.Millisecond)
		ok := h.Decide(id, types.DecisionApprove)
		require.True(t, ok)
	}()

	got := h.Wait(context.Background(), id)
	require.Equal(t, types.DecisionApprove, got)
}

func TestDecideResolvesExactlyOnce(t *testing.T) {
	h := New(idGen(), nil)
	id := h.Enqueue("s1", "r", "exec", nil, 1)

	require.True(t, h.Decide(id, types.DecisionDeny))
	require.False(t, h.Decide(id, types.DecisionApprove), "second decide must be a no-op")

	got := h.Wait(context.Background(), id)
	require.Equal(t, types.DecisionDeny, got)
}

func TestOnEnqueueHookFires(t *testing.T) {
	var seen types.ApprovalTicket
	h := New(idGen(), func(tk types.ApprovalTicket) { seen = tk })
	id := h.Enqueue("s1", "r", "web", nil, 42)

	require.Equal(t, id, seen.ApprovalID)
	require.Equal(t, "s1", seen.SessionID)
	require.EqualValues(t, 42, seen.CreatedAt)
}

func TestCancelSessionResolvesAllPending(t *testing.T) {
	h := New(idGen(), nil)
	id1 := h.Enqueue("s1", "r1", "exec", nil, 1)
	id2 := h.Enqueue("s1", "r2", "exec", nil, 1)
	id3 := h.Enqueue("s2", "r3", "exec", nil, 1)

	h.CancelSession("s1")

	require.Equal(t, types.DecisionCancelled, h.Wait(context.Background(), id1))
	require.Equal(t, types.DecisionCancelled, h.Wait(context.Background(), id2))

	// s2's ticket is untouched by s1's cancellation.
	require.True(t, h.Decide(id3, types.DecisionApprove))
	require.Equal(t, types.DecisionApprove, h.Wait(context.Background(), id3))
}

func TestCancelSessionIdempotentWithNoPending(t *testing.T) {
	h := New(idGen(), nil)
	require.NotPanics(t, func() { h.CancelSession("never-seen") })
}

func TestHardTimeoutResolvesWaiter(t *testing.T) {
	h := New(idGen(), nil)
	h.timeout = 10 * time.Millisecond
	id := h.Enqueue("s1", "r", "exec", nil, 1)

	got := h.Wait(context.Background(), id)
	require.Equal(t, types.DecisionTimeout, got)
}

func TestDecideUnknownApprovalIDIsNoop(t *testing.T) {
	h := New(idGen(), nil)
	require.False(t, h.Decide("does-not-exist", types.DecisionApprove))
}

func TestWaitUnblocksOnContextCancelBeforeHardTimeout(t *testing.T) {
	h := New(idGen(), nil)
	h.timeout = time.Hour
	id := h.Enqueue("s1", "r", "exec", nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got := h.Wait(ctx, id)
	require.Equal(t, types.DecisionCancelled, got)
	require.Less(t, time.Since(start), time.Second)
}
