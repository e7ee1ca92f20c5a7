package sessionlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithLockSerializesSameSession(t *testing.T) {
	table := NewTable()
	var counter int32
	var wg sync.WaitGroup
	var maxObserved int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.WithLock(context.Background(), "s1", func() error {
				n := atomic.AddInt32(&counter, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&counter, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxObserved, "at most one holder at a time for the same session")
}

func TestWithLockCrossSessionConcurrent(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan string, 2)

	for _, id := range []string{"a", "b"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = table.WithLock(context.Background(), id, func() error {
				time.Sleep(20 * time.Millisecond)
				results <- id
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var got []string
	for id := range results {
		got = append(got, id)
	}
	require.Len(t, got, 2)
}

func TestAcquireSkipsWorkOnCancelledContext(t *testing.T) {
	table := NewTable()

	blocker := make(chan struct{})
	go func() {
		_ = table.WithLock(context.Background(), "s1", func() error {
			<-blocker
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // ensure the blocker holds the lock first

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := table.WithLock(ctx, "s1", func() error {
		ran = true
		return nil
	})
	close(blocker)

	require.Error(t, err)
	require.False(t, ran, "fn must not run for an already-cancelled waiter")
}

func TestFIFOOrdering(t *testing.T) {
	table := NewTable()
	var order []int
	var mu sync.Mutex

	release0 := make(chan struct{})
	go func() {
		_ = table.WithLock(context.Background(), "s1", func() error {
			<-release0
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.WithLock(context.Background(), "s1", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond) // stagger enqueue order
	}
	close(release0)
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3}, order)
}
