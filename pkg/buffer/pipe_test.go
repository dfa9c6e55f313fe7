package buffer

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestPipe_PutNext(t *testing.T) {
	p := NewPipe[int](4)
	for i := 0; i < 4; i++ {
		if err := p.Put(i); err != nil {
			t.Fatalf("Put(%d) error: %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		v, err := p.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if v != i {
			t.Errorf("Next = %d, want %d", v, i)
		}
	}
}

func TestPipe_Drained(t *testing.T) {
	p := NewPipe[string](2)
	p.Put("a")
	p.CloseWrite()

	v, err := p.Next()
	if err != nil || v != "a" {
		t.Fatalf("Next = %q, %v, want \"a\", nil", v, err)
	}
	if _, err := p.Next(); !errors.Is(err, ErrDrained) {
		t.Errorf("Next after drain = %v, want ErrDrained", err)
	}
}

func TestPipe_PutAfterCloseWrite(t *testing.T) {
	p := NewPipe[int](2)
	p.CloseWrite()
	if err := p.Put(1); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Put after CloseWrite = %v, want ErrClosedPipe", err)
	}
}

func TestPipe_CloseWithError(t *testing.T) {
	p := NewPipe[int](2)
	p.Put(1)

	boom := errors.New("boom")
	p.CloseWithError(boom)

	if _, err := p.Next(); !errors.Is(err, boom) {
		t.Errorf("Next after close = %v, want boom", err)
	}
	if err := p.Put(2); !errors.Is(err, boom) {
		t.Errorf("Put after close = %v, want boom", err)
	}
	if p.Err() != boom {
		t.Errorf("Err = %v, want boom", p.Err())
	}
}

func TestPipe_CloseUnblocksWaiters(t *testing.T) {
	p := NewPipe[int](1)

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make([]error, 2)

	go func() {
		defer wg.Done()
		_, errs[0] = p.Next() // empty, blocks
	}()
	p.Put(0)
	go func() {
		defer wg.Done()
		errs[1] = p.Put(1) // full, blocks
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("waiter %d unexpected error: %v", i, err)
		}
	}
}

func TestPipe_ProducerConsumer(t *testing.T) {
	p := NewPipe[int](3)
	const n = 100

	go func() {
		for i := 0; i < n; i++ {
			if err := p.Put(i); err != nil {
				return
			}
		}
		p.CloseWrite()
	}()

	for i := 0; i < n; i++ {
		v, err := p.Next()
		if err != nil {
			t.Fatalf("Next #%d error: %v", i, err)
		}
		if v != i {
			t.Fatalf("Next #%d = %d, out of order", i, v)
		}
	}
	if _, err := p.Next(); !errors.Is(err, ErrDrained) {
		t.Errorf("final Next = %v, want ErrDrained", err)
	}
}
