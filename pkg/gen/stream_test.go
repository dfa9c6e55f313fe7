package gen

import (
	"errors"
	"testing"
)

func TestStreamBuilder_Done(t *testing.T) {
	sb := NewStreamBuilder(8)
	if err := sb.Add(&Chunk{Text: "hi"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sb.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	s := sb.Stream()
	c, err := s.Next()
	if err != nil || c.Text != "hi" {
		t.Fatalf("Next = %v, %v", c, err)
	}
	if _, err := s.Next(); !errors.Is(err, ErrDone) {
		t.Errorf("terminal Next = %v, want ErrDone", err)
	}
}

func TestStreamBuilder_OrderPreserved(t *testing.T) {
	sb := NewStreamBuilder(8)
	sb.Add(&Chunk{Text: "a"}, &Chunk{Text: "b"}, &Chunk{Tool: &ToolFragment{Index: 0, Name: "t"}}, &Chunk{Text: "c"})
	sb.Done()

	s := sb.Stream()
	var got []string
	for {
		c, err := s.Next()
		if err != nil {
			if !errors.Is(err, ErrDone) {
				t.Fatalf("Next: %v", err)
			}
			break
		}
		if c.Tool != nil {
			got = append(got, "tool:"+c.Tool.Name)
		} else {
			got = append(got, c.Text)
		}
	}
	want := []string{"a", "b", "tool:t", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamBuilder_Truncated(t *testing.T) {
	sb := NewStreamBuilder(4)
	sb.Truncated()

	_, err := sb.Stream().Next()
	var state *State
	if !errors.As(err, &state) || state.Status() != StatusTruncated {
		t.Errorf("Next = %v, want truncated state", err)
	}
}

func TestStreamBuilder_Blocked(t *testing.T) {
	sb := NewStreamBuilder(4)
	sb.Blocked("policy")

	_, err := sb.Stream().Next()
	var state *State
	if !errors.As(err, &state) || state.Status() != StatusBlocked {
		t.Errorf("Next = %v, want blocked state", err)
	}
}

func TestStreamBuilder_Abort(t *testing.T) {
	sb := NewStreamBuilder(4)
	boom := errors.New("upstream gone")
	sb.Abort(boom)

	if _, err := sb.Stream().Next(); !errors.Is(err, boom) {
		t.Errorf("Next = %v, want abort error", err)
	}
}

func TestStream_CloseUnblocksProducer(t *testing.T) {
	sb := NewStreamBuilder(1)
	s := sb.Stream()

	if err := sb.Add(&Chunk{Text: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		// Blocks on the full pipe until the consumer closes.
		done <- sb.Add(&Chunk{Text: "2"})
	}()

	s.Close()
	if err := <-done; err == nil {
		t.Error("producer Add should fail after consumer Close")
	}
}
