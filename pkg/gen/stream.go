package gen

import (
	"errors"
	"fmt"

	"github.com/parleyhq/parley/pkg/buffer"
)

// Status classifies how a stream ended.
type Status int

const (
	StatusOK Status = iota
	StatusDone
	StatusTruncated
	StatusBlocked
	StatusError
)

// ErrDone marks normal stream completion. errors.Is(err, ErrDone) holds for
// the *State returned by Next at the end of a successful stream.
var ErrDone = errors.New("gen: done")

// State is the terminal error value of a stream, carrying the completion
// status.
type State struct {
	status Status
	err    error
}

func (s *State) Status() Status { return s.status }
func (s *State) Unwrap() error  { return s.err }
func (s *State) Error() string  { return s.err.Error() }

// Done builds the terminal state for a completed stream.
func Done() *State {
	return &State{status: StatusDone, err: ErrDone}
}

// Truncated builds the terminal state for a stream cut off by the token
// limit.
func Truncated() *State {
	return &State{status: StatusTruncated, err: errors.New("gen: generate truncated")}
}

// Blocked builds the terminal state for a stream refused by the provider.
func Blocked(refusal string) *State {
	return &State{status: StatusBlocked, err: fmt.Errorf("gen: generate blocked: %s", refusal)}
}

// Failed builds the terminal state for a stream that ended with a provider
// error.
func Failed(err error) *State {
	return &State{status: StatusError, err: fmt.Errorf("gen: generate error: %w", err)}
}

type streamEvent struct {
	chunk *Chunk
	state *State
}

// StreamBuilder is the producer half of a Stream. A puller goroutine feeds
// chunks with Add and terminates the stream with exactly one of Done,
// Truncated, Blocked, or Abort.
type StreamBuilder struct {
	pipe *buffer.Pipe[*streamEvent]
}

// NewStreamBuilder creates a builder buffering up to size chunks.
func NewStreamBuilder(size int) *StreamBuilder {
	return &StreamBuilder{pipe: buffer.NewPipe[*streamEvent](size)}
}

// Add appends chunks to the stream, blocking on the consumer's pace.
func (sb *StreamBuilder) Add(chunks ...*Chunk) error {
	for _, c := range chunks {
		if err := sb.pipe.Put(&streamEvent{chunk: c}); err != nil {
			return err
		}
	}
	return nil
}

// Done ends the stream normally.
func (sb *StreamBuilder) Done() error { return sb.finish(Done()) }

// Truncated ends the stream with a token-limit cutoff.
func (sb *StreamBuilder) Truncated() error { return sb.finish(Truncated()) }

// Blocked ends the stream with a provider refusal.
func (sb *StreamBuilder) Blocked(refusal string) error { return sb.finish(Blocked(refusal)) }

// Abort tears the stream down; pending consumers observe err.
func (sb *StreamBuilder) Abort(err error) error {
	return sb.pipe.CloseWithError(err)
}

func (sb *StreamBuilder) finish(state *State) error {
	if err := sb.pipe.Put(&streamEvent{state: state}); err != nil {
		return err
	}
	return sb.pipe.CloseWrite()
}

// Stream returns the consumer half.
func (sb *StreamBuilder) Stream() Stream {
	return (*builtStream)(sb)
}

type builtStream StreamBuilder

func (s *builtStream) Next() (*Chunk, error) {
	evt, err := s.pipe.Next()
	if err != nil {
		if errors.Is(err, buffer.ErrDrained) {
			// Producer closed without a terminal event.
			err = Failed(errors.New("stream ended without finish reason"))
		}
		return nil, err
	}
	if evt.state != nil {
		s.pipe.CloseWithError(evt.state)
		return nil, evt.state
	}
	return evt.chunk, nil
}

func (s *builtStream) Close() error {
	return s.pipe.Close()
}

func (s *builtStream) CloseWithError(err error) error {
	return s.pipe.CloseWithError(err)
}
