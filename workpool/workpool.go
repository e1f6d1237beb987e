// Package workpool runs tasks on a bounded pool and hands back their results
// asynchronously.
package workpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the concurrency used when a non-positive size is given.
const DefaultSize = 64

// Pool limits the number of tasks running at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
	log  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a pool that runs at most size tasks concurrently.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "workpool")
	return p
}

// Size returns the pool's concurrency limit.
func (p *Pool) Size() int { return int(p.size) }

// Result is the outcome of a submitted task.
type Result[T any] struct {
	Value T
	Err   error
}

// Submit schedules fn on p and returns a channel that receives exactly one
// Result. If ctx ends before a slot is free, the Result carries ctx's error
// and fn is never run. A panic in fn is recovered and reported as an error.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- Result[T]{Err: err}
			return
		}
		defer p.sem.Release(1)
		out <- run(ctx, p, fn)
	}()
	return out
}

// Do submits fn and waits for its result.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	select {
	case r := <-Submit(ctx, p, fn):
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			p.log.Error("task panic", "panic", r, "stack", string(buf))
			res = Result[T]{Err: fmt.Errorf("workpool: task panic: %v", r)}
		}
	}()
	v, err := fn(ctx)
	return Result[T]{Value: v, Err: err}
}
