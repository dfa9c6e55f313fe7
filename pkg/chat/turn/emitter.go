package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/pkg/chat"
)

// Event types carried in outbound frames.
const (
	EventUserMessage     = "userMessage"
	EventToken           = "token"
	EventSpeaker         = "speaker"
	EventUpgradeRequired = "upgrade_required"
	EventImage           = "image"
	EventSuggestions     = "suggestions"
	EventComplete        = "complete"
	EventError           = "error"
)

// ErrTerminated is returned by Emit after a terminal event (complete or
// error) has been emitted. Emitting past the terminal frame is a programming
// error and is surfaced, never swallowed.
var ErrTerminated = errors.New("turn: emit after terminal event")

// Frame is one outbound event.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UpgradeRequiredEvent is the payload of an upgrade_required frame.
type UpgradeRequiredEvent struct {
	Feature string `json:"feature"`
	Message string `json:"message"`
}

// ImageEvent is the payload of an image frame.
type ImageEvent struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

// ErrorEvent is the payload of an error frame.
type ErrorEvent struct {
	Error string `json:"error"`
}

// DebateCompleteEvent is the payload of a debate's complete frame.
type DebateCompleteEvent struct {
	Success bool `json:"success"`
	Rounds  int  `json:"rounds"`
}

// PollResponse is the single JSON body returned in poll mode.
type PollResponse struct {
	UserMessage *chat.Message `json:"userMessage"`
	AIMessage   *chat.Message `json:"aiMessage"`
	Content     string        `json:"content"`
}

// Emitter serializes typed events onto an outbound stream. Emit never blocks
// beyond transport flow control; Close is idempotent. After complete or
// error the emitter is terminal and further emits fail with ErrTerminated.
type Emitter interface {
	Emit(eventType string, data any) error
	Close() error
}

// terminalGuard implements the shared terminal-state bookkeeping.
type terminalGuard struct {
	mu       sync.Mutex
	terminal bool
	closed   bool
}

// begin returns an error when the emitter is already terminal, and marks it
// terminal when this event is.
func (g *terminalGuard) begin(eventType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal {
		return ErrTerminated
	}
	if g.closed {
		return errors.New("turn: emit on closed emitter")
	}
	if eventType == EventComplete || eventType == EventError {
		g.terminal = true
	}
	return nil
}

func (g *terminalGuard) markClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}

// --- SSE ---

// SSEEmitter writes frames as server-sent events: `data: <json>\n\n`,
// flushed per frame. Construct it only after request validation has passed,
// since construction commits the response headers.
type SSEEmitter struct {
	guard terminalGuard
	w     http.ResponseWriter
	fl    http.Flusher
}

// NewSSEEmitter writes the event-stream headers and returns the emitter.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	return &SSEEmitter{w: w, fl: fl}
}

func (e *SSEEmitter) Emit(eventType string, data any) error {
	if err := e.guard.begin(eventType); err != nil {
		return err
	}
	b, err := json.Marshal(Frame{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", b); err != nil {
		return err
	}
	if e.fl != nil {
		e.fl.Flush()
	}
	return nil
}

func (e *SSEEmitter) Close() error {
	e.guard.markClosed()
	return nil
}

// --- buffering (poll mode and tests) ---

// BufferEmitter records frames in memory. Poll mode runs the identical state
// machine against it and renders one JSON response at the end.
type BufferEmitter struct {
	guard  terminalGuard
	mu     sync.Mutex
	frames []Frame
}

func NewBufferEmitter() *BufferEmitter {
	return &BufferEmitter{}
}

func (e *BufferEmitter) Emit(eventType string, data any) error {
	if err := e.guard.begin(eventType); err != nil {
		return err
	}
	e.mu.Lock()
	e.frames = append(e.frames, Frame{Type: eventType, Data: data})
	e.mu.Unlock()
	return nil
}

func (e *BufferEmitter) Close() error {
	e.guard.markClosed()
	return nil
}

// Frames returns the recorded frames in emission order.
func (e *BufferEmitter) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Frame, len(e.frames))
	copy(out, e.frames)
	return out
}

// Content concatenates all token frames.
func (e *BufferEmitter) Content() string {
	var s string
	for _, f := range e.Frames() {
		if f.Type == EventToken {
			if t, ok := f.Data.(string); ok {
				s += t
			}
		}
	}
	return s
}

// --- websocket ---

// WSEmitter writes frames as JSON messages on a websocket connection.
type WSEmitter struct {
	guard terminalGuard
	mu    sync.Mutex
	conn  *websocket.Conn
}

func NewWSEmitter(conn *websocket.Conn) *WSEmitter {
	return &WSEmitter{conn: conn}
}

func (e *WSEmitter) Emit(eventType string, data any) error {
	if err := e.guard.begin(eventType); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(Frame{Type: eventType, Data: data})
}

func (e *WSEmitter) Close() error {
	if !e.guard.markClosed() {
		return nil
	}
	e.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return e.conn.Close()
}
