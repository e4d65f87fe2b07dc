// Package pipeline connects the device session to the relay servers: one
// bounded channel per media kind, plus the connection flag that lets the
// session skip audio work while nobody listens.
package pipeline

import (
	"context"
	"sync"

	"github.com/babelcloud/screenrelay/internal/media"
	"github.com/pkg/errors"
)

// DefaultCapacity is the number of results a channel buffers before the
// producer blocks.
const DefaultCapacity = 256

// ErrClosed is returned by Push once the channel has been closed.
var ErrClosed = errors.New("pipeline channel closed")

// Result is either a decoded sample or an upstream error.
type Result struct {
	Sample *media.SampleBuffer
	Err    error
}

// Status describes the outcome of a non-blocking receive.
type Status int

const (
	StatusItem Status = iota
	StatusEmpty
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusItem:
		return "item"
	case StatusEmpty:
		return "empty"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Channel is a FIFO of Results with a fixed capacity. There is one producer
// (the device session) and one consumer at a time (the relay connection
// currently being served).
type Channel struct {
	kind media.MediaKind
	ch   chan Result

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a channel for the given media kind. A non-positive
// capacity selects DefaultCapacity.
func NewChannel(kind media.MediaKind, capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		kind: kind,
		ch:   make(chan Result, capacity),
		done: make(chan struct{}),
	}
}

func (c *Channel) Kind() media.MediaKind { return c.kind }

// Len returns the number of buffered results.
func (c *Channel) Len() int { return len(c.ch) }

func (c *Channel) Cap() int { return cap(c.ch) }

// Push enqueues r, blocking while the channel is full. It never drops.
// It fails with ErrClosed after Close, or with ctx.Err() if ctx ends first.
func (c *Channel) Push(ctx context.Context, r Result) error {
	// The read lock keeps Close from closing c.ch under a pending send;
	// Close signals done first so a blocked Push releases the lock.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- r:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushSample enqueues a sample.
func (c *Channel) PushSample(ctx context.Context, s *media.SampleBuffer) error {
	return c.Push(ctx, Result{Sample: s})
}

// PushError enqueues an upstream error for the consumer.
func (c *Channel) PushError(ctx context.Context, err error) error {
	return c.Push(ctx, Result{Err: err})
}

// TryRecv pops the oldest result without blocking. Buffered results are
// still delivered after Close; StatusClosed is reported only once the
// buffer is drained.
func (c *Channel) TryRecv() (Result, Status) {
	select {
	case r, ok := <-c.ch:
		if !ok {
			return Result{}, StatusClosed
		}
		return r, StatusItem
	default:
		return Result{}, StatusEmpty
	}
}

// Close marks the producer side as gone. It is safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Done is closed when Close is called.
func (c *Channel) Done() <-chan struct{} { return c.done }
