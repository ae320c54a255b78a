// Package workpool runs a set of tasks with bounded concurrency and
// first-error cancellation, the shape used by every tree-parallel phase
// of cln (ingestion and materialisation).
//
// It is a thin wrapper around golang.org/x/sync/errgroup plus a
// semaphore channel: the errgroup cancels remaining work as soon as one
// task returns an error, and the semaphore bounds how many tasks run at
// once. Every submitted task still gets its own goroutine, which waits
// for a free slot before running.
package workpool

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/yhakbar/cln/internal/clnerr"
)

// Pool runs tasks submitted via Go, bounding concurrency to size.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
	sem   chan struct{}
}

// New creates a Pool bound to ctx with the given concurrency limit.
// A non-positive size is treated as 1.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Pool{group: g, ctx: gctx, sem: make(chan struct{}, size)}
}

// Go schedules fn on a new goroutine and returns without blocking; fn
// runs once that goroutine acquires a concurrency slot. If the pool's
// context has already been cancelled (e.g. a prior task failed), fn is
// not started.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.group.Go(func() error {
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return clnerr.New(clnerr.Cancelled, "workpool", p.ctx.Err())
		}
		defer func() { <-p.sem }()

		select {
		case <-p.ctx.Done():
			return clnerr.New(clnerr.Cancelled, "workpool", p.ctx.Err())
		default:
		}
		return fn(p.ctx)
	})
}

// Wait blocks until every scheduled task has returned, and returns the
// first error encountered, if any. A failure caused by context
// cancellation (rather than by a task itself) is tagged
// clnerr.Cancelled so callers do not need their own checkpoint to
// observe it.
func (p *Pool) Wait() error {
	err := p.group.Wait()
	if err == nil {
		return nil
	}
	if clnerr.As(err) == clnerr.Generic && errors.Is(err, context.Canceled) {
		return clnerr.New(clnerr.Cancelled, "workpool", err)
	}
	return err
}

// Context returns the pool's context, cancelled once any task fails.
func (p *Pool) Context() context.Context {
	return p.ctx
}
