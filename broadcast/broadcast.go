// Package broadcast implements an in-memory multicast channel.
//
// A Broadcaster fans every published value out to all live subscriptions.
// Each subscription owns a bounded queue; publishing never blocks, and a value
// that does not fit into a subscriber's queue is dropped for that subscriber
// only. A subscription may additionally receive a heartbeat value at a fixed
// interval, written into the same queue as published values so that the two
// interleave in arrival order.
//
// Delivery is best-effort: there is no replay, no persistence, and no
// acknowledgement.
package broadcast

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the default per-subscriber queue capacity.
const DefaultBufferSize = 256

// DefaultHeartbeatInterval is the default period between heartbeats.
const DefaultHeartbeatInterval = 15 * time.Second

// Broadcaster is a multicast channel of T values.
//
// It is safe for concurrent use. Publish serialises fan-out, so every
// subscriber observes published values in the same relative order.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool

	bufferSize int
	interval   time.Duration
	heartbeat  func() T
	log        *slog.Logger

	dropped atomic.Uint64
}

// Option configures a Broadcaster.
type Option[T any] func(*Broadcaster[T])

// WithBufferSize sets the per-subscriber queue capacity.
func WithBufferSize[T any](n int) Option[T] {
	return func(b *Broadcaster[T]) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithHeartbeat enables heartbeats: every subscription receives next() once
// per interval for as long as it is open. A non-positive interval selects
// DefaultHeartbeatInterval.
func WithHeartbeat[T any](interval time.Duration, next func() T) Option[T] {
	return func(b *Broadcaster[T]) {
		if interval <= 0 {
			interval = DefaultHeartbeatInterval
		}
		b.interval = interval
		b.heartbeat = next
	}
}

// WithLogger sets the logger used for drop and lifecycle diagnostics.
func WithLogger[T any](log *slog.Logger) Option[T] {
	return func(b *Broadcaster[T]) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates a Broadcaster.
func New[T any](opts ...Option[T]) *Broadcaster[T] {
	b := &Broadcaster[T]{
		subs:       make(map[*Subscription[T]]struct{}),
		bufferSize: DefaultBufferSize,
		interval:   DefaultHeartbeatInterval,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "broadcast")
	return b
}

// Publish offers v to every live subscription without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.offer(v) {
			b.drop()
		}
	}
}

// Subscribe opens a subscription that receives values published from now on.
// The subscription is closed when ctx is done or Close is called.
//
// Subscribing to a closed Broadcaster returns an already closed subscription.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) *Subscription[T] {
	s := &Subscription[T]{
		b:    b,
		ch:   make(chan T, b.bufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.release()
		return s
	}
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("subscriber added", "subscribers", n)
	go s.run(ctx)
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the total number of values discarded because a
// subscriber's queue was full.
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription. Subsequent publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.release()
	}
}

func (b *Broadcaster[T]) drop() {
	n := b.dropped.Add(1)
	b.log.Debug("subscriber queue full, event dropped", "dropped_total", n)
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		b.log.Debug("subscriber removed", "subscribers", n)
	}
}

// Subscription is one consumer's view of a Broadcaster.
type Subscription[T any] struct {
	b  *Broadcaster[T]
	ch chan T

	mu     sync.Mutex
	closed bool

	done chan struct{}
	once sync.Once
}

// Events returns the channel of delivered values. It is closed when the
// subscription ends.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// All returns an iterator over delivered values that ends when the
// subscription is closed. Stopping the iteration early closes the
// subscription.
func (s *Subscription[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range s.ch {
			if !yield(v) {
				s.Close()
				return
			}
		}
	}
}

// Close ends the subscription and releases its queue. It is idempotent.
func (s *Subscription[T]) Close() {
	s.b.remove(s)
	s.release()
}

// Done is closed once the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) release() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.done)
	})
}

// offer enqueues v without blocking. It reports false if v was dropped
// because the queue is full; values offered after close are ignored.
func (s *Subscription[T]) offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// run closes the subscription when ctx ends and, if enabled, injects
// heartbeats until then.
func (s *Subscription[T]) run(ctx context.Context) {
	var tick <-chan time.Time
	if s.b.heartbeat != nil {
		t := time.NewTicker(s.b.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case <-tick:
			if !s.offer(s.b.heartbeat()) {
				s.b.drop()
			}
		}
	}
}
