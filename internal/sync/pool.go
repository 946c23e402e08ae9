package sync

import (
	"context"
	gosync "sync"

	"golang.org/x/sync/semaphore"
)

// boundedPool runs tasks on goroutines with at most capacity running at
// once. Submissions beyond capacity block until a slot frees up.
type boundedPool struct {
	sem *semaphore.Weighted
	wg  gosync.WaitGroup
}

func newBoundedPool(capacity int) *boundedPool {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedPool{sem: semaphore.NewWeighted(int64(capacity))}
}

// Go waits for a free slot and runs task on it. It returns ctx.Err() without
// running task when ctx is done first.
func (p *boundedPool) Go(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		task()
	}()
	return nil
}

// Wait blocks until every started task has returned
func (p *boundedPool) Wait() {
	p.wg.Wait()
}
