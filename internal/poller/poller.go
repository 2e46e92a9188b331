// Package poller implements the shared tick-fetch-dispatch shape behind all
// four gateway pollers (disasterPublishWorker, reportTransmitWorker,
// disasterTransmitWorker, reportPublishWorker): a time.Ticker drives
// non-overlapping ticks, each tick fetches a bounded batch and fans it out
// to a bounded number of concurrent handlers, waiting for the batch to
// settle before the next tick's work can be scheduled.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller periodically fetches a batch of T and dispatches each item to
// handle, with at most concurrency handlers in flight at once.
type Poller[T any] struct {
	period      time.Duration
	concurrency int
	fetch       func(ctx context.Context) ([]T, error)
	handle      func(ctx context.Context, item T)
	logger      *zap.Logger
	name        string
}

// New constructs a Poller. name is used only for logging.
func New[T any](name string, period time.Duration, concurrency int, fetch func(ctx context.Context) ([]T, error), handle func(ctx context.Context, item T), logger *zap.Logger) *Poller[T] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Poller[T]{
		period:      period,
		concurrency: concurrency,
		fetch:       fetch,
		handle:      handle,
		logger:      logger,
		name:        name,
	}
}

// Run blocks until ctx is cancelled, ticking every period. Intended to run
// in its own goroutine.
func (p *Poller[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.String("poller", p.name), zap.Duration("period", p.period))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", zap.String("poller", p.name))
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context) {
	items, err := p.fetch(ctx)
	if err != nil {
		p.logger.Error("poller fetch failed", zap.String("poller", p.name), zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			p.handle(ctx, item)
		}(item)
	}
	wg.Wait()
}
