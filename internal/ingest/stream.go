// Package ingest feeds parsed record streams into the cluster engine
// with bounded concurrency and backpressure.
package ingest

import (
	"context"
	"errors"
	"sync"
)

// DefaultHighWatermark is the default bound on in-flight operations.
const DefaultHighWatermark = 40

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("write on closed sink")

// Sink runs one handler per written item on its own goroutine, with at
// most highWatermark operations in flight. A full sink blocks Write
// until the backlog drains to half the watermark.
//
// The first handler failure latches: later writes are skipped (not
// errors) and Close reports the latched failure once every in-flight
// operation has finished. A partial batch is never silently half
// applied without the caller learning about it.
//
// Thread-safety model:
//   - Write and Close are intended for one producer goroutine
//   - Err is safe from any goroutine
type Sink[T any] struct {
	handler func(context.Context, T) error
	high    int
	low     int

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	err      error
	closed   bool
}

// SinkOption configures a Sink.
type SinkOption[T any] func(*Sink[T])

// WithHighWatermark bounds the number of in-flight operations. Writes
// resume when the backlog falls to half of n.
func WithHighWatermark[T any](n int) SinkOption[T] {
	return func(s *Sink[T]) {
		s.high = n
	}
}

// NewSink creates a sink running handler for each written item.
func NewSink[T any](handler func(context.Context, T) error, opts ...SinkOption[T]) *Sink[T] {
	s := &Sink[T]{
		handler: handler,
		high:    DefaultHighWatermark,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.low = s.high / 2
	if s.low < 1 {
		s.low = 1
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write submits one item. Blocks while the sink is full. Once a
// handler has failed the item is skipped and Write reports true in its
// second result so the caller can account for it.
func (s *Sink[T]) Write(ctx context.Context, item T) (skipped bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	for {
		if s.err != nil {
			s.mu.Unlock()
			return true, nil
		}
		if s.inFlight < s.high {
			break
		}
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return false, err
		}
		s.cond.Wait()
	}
	s.inFlight++
	s.mu.Unlock()

	go func() {
		err := s.handler(ctx, item)

		s.mu.Lock()
		s.inFlight--
		if err != nil && s.err == nil {
			s.err = err
		}
		// Wake the producer when the backlog has drained or when
		// everything is done.
		if s.inFlight <= s.low || s.inFlight == 0 {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}()
	return false, nil
}

// Close waits for every in-flight operation and returns the first
// handler failure, if any. The sink accepts no writes afterwards.
func (s *Sink[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for s.inFlight > 0 {
		s.cond.Wait()
	}
	s.closed = true
	return s.err
}

// Err returns the latched handler failure, if any.
func (s *Sink[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// InFlight reports the number of operations currently running.
func (s *Sink[T]) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
