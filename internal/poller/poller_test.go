package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestPoller_FetchAndDispatch(t *testing.T) {
	var handled int32
	var mu sync.Mutex
	var seen []int

	fetch := func(ctx context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	}
	handle := func(ctx context.Context, item int) {
		atomic.AddInt32(&handled, 1)
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
	}

	p := New("test-poller", 10*time.Millisecond, 2, fetch, handle, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&handled), int32(3))
}

func TestPoller_FetchErrorDoesNotPanic(t *testing.T) {
	fetch := func(ctx context.Context) ([]int, error) {
		return nil, assertError{}
	}
	called := false
	handle := func(ctx context.Context, item int) { called = true }

	p := New("erroring-poller", 5*time.Millisecond, 1, fetch, handle, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()

	assert.False(t, called)
}

func TestPoller_EmptyBatchIsNoop(t *testing.T) {
	fetch := func(ctx context.Context) ([]int, error) { return nil, nil }
	var handled int32
	handle := func(ctx context.Context, item int) { atomic.AddInt32(&handled, 1) }

	p := New("empty-poller", 5*time.Millisecond, 1, fetch, handle, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()

	assert.Equal(t, int32(0), atomic.LoadInt32(&handled))
}

type assertError struct{}

func (assertError) Error() string { return "fetch failed" }
