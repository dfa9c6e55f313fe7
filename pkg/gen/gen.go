// Package gen is the model-generation layer: provider-neutral message and
// tool types, a streaming Generator interface with OpenAI and Gemini
// implementations, and the fragment accumulator that reassembles chunked
// tool calls delivered over a stream.
//
// A Generator turns a Context (system directive, conversation messages,
// advertised tools) into either a Stream of chunks or a single structured
// invocation result. Streams surface raw tool-call fragments; callers feed
// them to an Accumulator and act on the finalized calls after the stream
// ends.
package gen

import (
	"context"
)

// Stream yields chunks from an in-flight generation. Next blocks for the
// next chunk; the stream ends with a *State error (ErrDone on normal
// completion). Close releases the underlying connection and is safe to call
// on every exit path, including cancellation.
type Stream interface {
	Next() (*Chunk, error)
	Close() error
	CloseWithError(error) error
}

// Chunk is one streamed delta. Exactly one of Text and Tool is set.
type Chunk struct {
	// Text is an incremental piece of the reply, in delivery order.
	Text string

	// Tool is a fragment of a tool-call description. Fragments for one
	// call share an Index; argument text arrives split across fragments.
	Tool *ToolFragment
}

// ToolFragment is a partial tool-call description keyed by a stream-assigned
// slot index. ID and Name may be empty on continuation fragments.
type ToolFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ModelParams are sampling parameters passed through to the provider.
// Zero fields are omitted.
type ModelParams struct {
	MaxTokens        int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitempty"`
	Temperature      float32 `json:"temperature,omitzero" yaml:"temperature,omitempty"`
	TopP             float32 `json:"top_p,omitzero" yaml:"top_p,omitempty"`
	TopK             float32 `json:"top_k,omitzero" yaml:"top_k,omitempty"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitzero" yaml:"frequency_penalty,omitempty"`
	PresencePenalty  float32 `json:"presence_penalty,omitzero" yaml:"presence_penalty,omitempty"`
}

// Context is the ordered instruction set for one generation call.
type Context struct {
	// System is the system directive, always first.
	System string

	// Messages are the conversation messages in order, the new user turn
	// last.
	Messages []*Message

	// Tools is the advertised tool registry.
	Tools []*FuncTool

	// Params overrides the generator's default sampling parameters.
	Params *ModelParams
}

// Generator produces model output for a Context.
type Generator interface {
	// GenerateStream opens a streaming call. The returned Stream must be
	// closed by the caller on every exit path.
	GenerateStream(ctx context.Context, mctx *Context) (Stream, error)

	// Invoke requests one structured output conforming to the tool's
	// argument schema and returns the raw argument JSON.
	Invoke(ctx context.Context, mctx *Context, fn *FuncTool) (string, error)
}

// ImageGenerator produces an image for a text prompt and returns a reference
// to it (a URL or data URL).
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
