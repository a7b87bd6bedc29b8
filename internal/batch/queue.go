// Package batch collects individual items and hands them to a processing
// function in batches, either after a debounce interval or as soon as a size
// threshold is reached.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCleared rejects items discarded by Clear.
	ErrCleared = errors.New("batch: queue cleared")
	// ErrClosed rejects items added after Close.
	ErrClosed = errors.New("batch: queue closed")
	// ErrResultCount is returned to every item of a batch whose processor
	// returned a result slice of the wrong length.
	ErrResultCount = errors.New("batch: result count does not match batch size")
)

const (
	DefaultBatchSize = 50
	DefaultDebounce  = 100 * time.Millisecond
)

// ProcessFunc handles one batch. It must return exactly one result per item,
// in input order.
type ProcessFunc[T, R any] func(ctx context.Context, items []T) ([]R, error)

// Options configures a Queue.
type Options struct {
	BatchSize int
	Debounce  time.Duration
	// OnFlush, if set, is called after each batch completes.
	OnFlush func(size int, took time.Duration, err error)
}

type outcome[R any] struct {
	val R
	err error
}

type pending[T, R any] struct {
	item T
	done chan outcome[R]
}

// Queue is a debounced batch processor. It is safe for concurrent use.
type Queue[T, R any] struct {
	process ProcessFunc[T, R]
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	items      []*pending[T, R]
	timer      *time.Timer
	processing bool
	closed     bool
}

// New creates a queue. Batches run under a context that is cancelled by Close.
func New[T, R any](process ProcessFunc[T, R], opts Options) *Queue[T, R] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T, R]{
		process: process,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add enqueues item and waits for its result. If ctx ends first Add returns
// ctx.Err(); the item stays in its batch and its result is dropped.
func (q *Queue[T, R]) Add(ctx context.Context, item T) (R, error) {
	p := &pending[T, R]{item: item, done: make(chan outcome[R], 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero R
		return zero, ErrClosed
	}
	q.items = append(q.items, p)
	if len(q.items) >= q.opts.BatchSize {
		q.stopTimerLocked()
		go q.flush()
	} else {
		q.armTimerLocked()
	}
	q.mu.Unlock()

	select {
	case out := <-p.done:
		return out.val, out.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Len returns the number of queued items not yet handed to the processor.
func (q *Queue[T, R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush processes queued items now instead of waiting for the timer.
func (q *Queue[T, R]) Flush() {
	q.mu.Lock()
	q.stopTimerLocked()
	q.mu.Unlock()
	q.flush()
}

// Clear cancels the pending timer and rejects every queued item with
// ErrCleared. A batch already handed to the processor is unaffected.
func (q *Queue[T, R]) Clear() {
	q.mu.Lock()
	q.stopTimerLocked()
	dropped := q.items
	q.items = nil
	q.mu.Unlock()

	for _, p := range dropped {
		p.done <- outcome[R]{err: ErrCleared}
	}
}

// Close clears the queue, rejects future adds and cancels the context of any
// running batch.
func (q *Queue[T, R]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
	q.cancel()
}

func (q *Queue[T, R]) armTimerLocked() {
	q.stopTimerLocked()
	q.timer = time.AfterFunc(q.opts.Debounce, q.flush)
}

func (q *Queue[T, R]) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// flush runs at most one batch at a time. Items that arrive while a batch is
// running are rescheduled when it finishes.
func (q *Queue[T, R]) flush() {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	n := len(q.items)
	if n > q.opts.BatchSize {
		n = q.opts.BatchSize
	}
	batch := make([]*pending[T, R], n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	q.processing = true
	q.mu.Unlock()

	start := time.Now()
	err := q.run(batch)
	if q.opts.OnFlush != nil {
		q.opts.OnFlush(len(batch), time.Since(start), err)
	}

	q.mu.Lock()
	q.processing = false
	switch {
	case len(q.items) >= q.opts.BatchSize:
		q.stopTimerLocked()
		go q.flush()
	case len(q.items) > 0:
		q.armTimerLocked()
	}
	q.mu.Unlock()
}

func (q *Queue[T, R]) run(batch []*pending[T, R]) (err error) {
	payload := make([]T, len(batch))
	for i, p := range batch {
		payload[i] = p.item
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: processor panic: %v", r)
			for _, p := range batch {
				p.done <- outcome[R]{err: err}
			}
		}
	}()

	results, err := q.process(q.ctx, payload)
	if err == nil && len(results) != len(batch) {
		err = fmt.Errorf("%w: got %d, want %d", ErrResultCount, len(results), len(batch))
	}
	if err != nil {
		for _, p := range batch {
			p.done <- outcome[R]{err: err}
		}
		return err
	}
	for i, p := range batch {
		p.done <- outcome[R]{val: results[i]}
	}
	return nil
}
