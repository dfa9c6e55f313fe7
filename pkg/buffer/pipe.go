// Package buffer provides a bounded blocking FIFO used to hand items from a
// producer goroutine to a consumer with flow control. The producer blocks when
// the pipe is full, the consumer blocks when it is empty. Either side may
// close the pipe; a close with error unblocks both sides immediately.
package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrDrained is returned by Next once the write side is closed and all
// buffered items have been consumed.
var ErrDrained = errors.New("buffer: drained")

// Pipe is a bounded FIFO safe for one producer and one consumer goroutine.
type Pipe[T any] struct {
	cond *sync.Cond

	mu         sync.Mutex
	items      []T
	head, tail int64
	writeDone  bool
	closeErr   error
}

// NewPipe creates a pipe holding at most size items.
func NewPipe[T any](size int) *Pipe[T] {
	p := &Pipe[T]{items: make([]T, size)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Put appends one item, blocking while the pipe is full. It fails once the
// write side is closed or the pipe is closed with an error.
func (p *Pipe[T]) Put(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closeErr != nil {
			return fmt.Errorf("buffer: put on closed pipe: %w", p.closeErr)
		}
		if p.writeDone {
			return fmt.Errorf("buffer: put on closed pipe: %w", io.ErrClosedPipe)
		}
		if p.tail-p.head < int64(len(p.items)) {
			break
		}
		p.cond.Wait()
	}
	p.items[p.tail%int64(len(p.items))] = v
	p.tail++
	p.cond.Signal()
	return nil
}

// Next removes and returns the oldest item, blocking while the pipe is empty.
// Returns ErrDrained after CloseWrite once everything has been consumed, or
// the close error if the pipe was torn down.
func (p *Pipe[T]) Next() (v T, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closeErr != nil {
			err = fmt.Errorf("buffer: next on closed pipe: %w", p.closeErr)
			return
		}
		if p.head < p.tail {
			break
		}
		if p.writeDone {
			err = ErrDrained
			return
		}
		p.cond.Wait()
	}
	v = p.items[p.head%int64(len(p.items))]
	p.head++
	p.cond.Signal()
	return v, nil
}

// CloseWrite marks the producer side finished. Buffered items remain readable;
// Next returns ErrDrained once they are gone.
func (p *Pipe[T]) CloseWrite() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeDone {
		return nil
	}
	p.writeDone = true
	p.cond.Broadcast()
	return nil
}

// CloseWithError tears the pipe down in both directions. Pending and future
// Put and Next calls fail with the given error. A nil err is replaced with
// io.ErrClosedPipe. Only the first close takes effect.
func (p *Pipe[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeErr != nil {
		return nil
	}
	p.closeErr = err
	p.writeDone = true
	p.cond.Broadcast()
	return nil
}

// Close tears the pipe down with io.ErrClosedPipe.
func (p *Pipe[T]) Close() error {
	return p.CloseWithError(io.ErrClosedPipe)
}

// Err returns the error the pipe was closed with, if any.
func (p *Pipe[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// Len reports the number of buffered items.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.tail - p.head)
}
