package reconcile

import (
	"context"
	"fmt"
	"sync"
)

// FlushFunc writes one batch and returns how many items were stored.
type FlushFunc[T any] func(ctx context.Context, batch []T) (int, error)

// BatchWriter buffers items and hands them to its flush function in chunks of
// a fixed size. A single committer goroutine issues the chunks one after
// another, in submission order.
type BatchWriter[T any] struct {
	mu     sync.Mutex
	buf    []T
	cap    int
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context

	commitCh chan []T
	flush    FlushFunc[T]
	OnError  func(error)

	// stats are written by the committer and read after Close. Protected by errMu.
	errMu   sync.Mutex
	lastErr error
	written int
	batches int
}

// NewBatchWriter starts a writer that flushes every bufferSize items.
func NewBatchWriter[T any](ctx context.Context, bufferSize int, flush FlushFunc[T]) *BatchWriter[T] {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	bw := &BatchWriter[T]{
		buf:      make([]T, 0, bufferSize),
		cap:      bufferSize,
		ctx:      ctx,
		commitCh: make(chan []T, 2),
		flush:    flush,
	}
	bw.wg.Add(1)
	go bw.committer()
	return bw
}

// Submit enqueues one item.
func (bw *BatchWriter[T]) Submit(item T) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.buf = append(bw.buf, item)
	if len(bw.buf) >= bw.cap {
		bw.flushLocked()
	}
	return nil
}

// flushLocked assumes bw.mu is held. It blocks while the committer is busy,
// which propagates backpressure to Submit.
func (bw *BatchWriter[T]) flushLocked() {
	if len(bw.buf) == 0 {
		return
	}
	batch := bw.buf
	bw.buf = make([]T, 0, bw.cap)

	select {
	case bw.commitCh <- batch:
	case <-bw.ctx.Done():
		bw.recordErr(fmt.Errorf("batch writer: dropping batch of %d items: %w", len(batch), bw.ctx.Err()))
	}
}

func (bw *BatchWriter[T]) recordErr(err error) {
	bw.errMu.Lock()
	if bw.lastErr == nil {
		bw.lastErr = err
	}
	bw.errMu.Unlock()
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

func (bw *BatchWriter[T]) committer() {
	defer bw.wg.Done()
	for batch := range bw.commitCh {
		n, err := bw.flush(bw.ctx, batch)
		bw.errMu.Lock()
		bw.written += n
		bw.batches++
		bw.errMu.Unlock()
		if err != nil {
			bw.recordErr(fmt.Errorf("flush batch (%d items): %w", len(batch), err))
		}
	}
}

// Close flushes what is buffered, waits for the committer and returns the
// first error seen.
func (bw *BatchWriter[T]) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	bw.flushLocked()
	bw.mu.Unlock()

	close(bw.commitCh)
	bw.wg.Wait()

	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.lastErr
}

// Written returns how many items the flush function reported as stored.
func (bw *BatchWriter[T]) Written() int {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.written
}

// Batches returns how many flushes were issued.
func (bw *BatchWriter[T]) Batches() int {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.batches
}

var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
