// Package turn converts one validated user utterance into an incrementally
// delivered assistant reply. The Orchestrator drives a single turn through
// validation, authorization, persistence, a primary model stream, an
// optional tool round trip with a secondary stream, and best-effort
// follow-up suggestions, emitting typed events along the way. The Debate
// scheduler reuses the streaming primitive across two personas.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/gen"
)

// ToolGenerateImage is the registered name of the image generation tool.
const ToolGenerateImage = "generate_image"

// emptyReplyFallback is persisted when a turn produced no text at all.
const emptyReplyFallback = "Sorry, I could not generate a response."

// DefaultAnonTurnLimit caps turns per anonymous session.
const DefaultAnonTurnLimit = 15

// errAborted marks a turn abandoned because the client went away. No
// further frames may be emitted once it is observed.
var errAborted = errors.New("turn: client gone")

// Caller identifies the requester. UserID is empty for anonymous sessions.
type Caller struct {
	UserID    string
	SessionID string
}

// Anonymous reports whether the caller has no authenticated user.
func (c Caller) Anonymous() bool { return c.UserID == "" }

// Request is one inbound turn.
type Request struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

// Orchestrator runs the turn state machine. All collaborators are injected
// once at construction and shared across turns; the orchestrator itself
// holds no per-turn state.
type Orchestrator struct {
	Store        *chat.Store
	Catalog      *chat.Catalog
	Entitlements chat.Entitlements
	Generator    gen.Generator
	Images       gen.ImageGenerator

	// AnonTurnLimit defaults to DefaultAnonTurnLimit when zero.
	AnonTurnLimit int

	// SuggestTimeout bounds follow-up suggestion generation. Defaults to
	// 10 seconds.
	SuggestTimeout time.Duration
}

// Prepared is a turn that has passed validation and authorization and may
// start streaming.
type Prepared struct {
	caller Caller
	req    *Request
	conv   *chat.Conversation
}

// Prepare runs the pre-stream states: validation, then authorization. The
// returned error is one of the taxonomy types and must be rendered as an
// ordinary structured response; no stream framing has begun.
func (o *Orchestrator) Prepare(ctx context.Context, caller Caller, req *Request) (*Prepared, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	conv, err := o.Store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, &NotFoundError{Message: "conversation not found"}
	}
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	if conv.OwnerID != "" && conv.OwnerID != caller.UserID {
		return nil, &AuthorizationError{Message: "you do not have access to this conversation"}
	}

	if caller.Anonymous() {
		limit := o.AnonTurnLimit
		if limit <= 0 {
			limit = DefaultAnonTurnLimit
		}
		n, err := o.Store.SessionCount(ctx, caller.SessionID)
		if err != nil {
			return nil, &PersistenceError{Err: err}
		}
		if n >= limit {
			return nil, &CapacityError{Message: "free message limit reached, sign in to continue"}
		}
		if _, err := o.Store.IncrSessionCount(ctx, caller.SessionID); err != nil {
			return nil, &PersistenceError{Err: err}
		}
	}

	return &Prepared{caller: caller, req: req, conv: conv}, nil
}

func validateRequest(req *Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return validationf("content must not be empty")
	}
	if req.ImageURL == "" {
		return nil
	}
	if strings.HasPrefix(req.ImageURL, "data:") {
		if !strings.HasPrefix(req.ImageURL, "data:image/") || len(req.ImageURL) < 100 {
			return validationf("imageUrl data reference is not a plausible image")
		}
		return nil
	}
	u, err := url.Parse(req.ImageURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return validationf("imageUrl must be an absolute http(s) URL or an image data URL")
	}
	return nil
}

// Run drives a prepared turn to completion, emitting events on em. Stream
// framing is assumed to have begun; every failure from here on becomes a
// single terminal error event. The emitter is closed on every path.
func (o *Orchestrator) Run(ctx context.Context, p *Prepared, em Emitter) {
	hadImage := p.req.ImageURL != ""

	// History is read before the new user turn is written so the window
	// never includes it.
	history, err := o.Store.RecentMessages(ctx, p.conv.ID, HistoryWindow)
	if err != nil {
		o.fail(em, &PersistenceError{Err: err}, hadImage)
		return
	}

	userMsg := &chat.Message{
		ConversationID: p.conv.ID,
		Role:           chat.RoleUser,
		Content:        p.req.Content,
		ImageURL:       p.req.ImageURL,
	}
	if err := o.Store.AppendMessage(ctx, userMsg); err != nil {
		o.fail(em, &PersistenceError{Err: err}, hadImage)
		return
	}
	if err := em.Emit(EventUserMessage, userMsg); err != nil {
		o.abandon(ctx, p, "")
		return
	}

	persona, exact := o.Catalog.Resolve(ctx, p.conv.PersonaID)
	if !exact {
		slog.Warn("persona degraded to default", "requested", p.conv.PersonaID, "conversation", p.conv.ID)
	}
	facts, err := o.Store.MemoryFacts(ctx, p.caller.UserID)
	if err != nil {
		// Memory is an enrichment; a read failure must not kill the turn.
		slog.Warn("memory facts unavailable", "user", p.caller.UserID, "error", err)
		facts = nil
	}
	mctx := buildContext(persona, history, facts, p.req)
	mctx.Tools = o.toolRegistry()

	var pending strings.Builder
	acc := gen.NewAccumulator()

	if err := o.relay(ctx, mctx, em, &pending, acc); err != nil {
		if errors.Is(err, errAborted) {
			o.abandon(ctx, p, pending.String())
			return
		}
		o.fail(em, err, hadImage)
		return
	}

	invocations := acc.Finalize()
	if len(invocations) > 0 {
		results, imageURL, err := o.executeTools(ctx, p, em, invocations)
		if err != nil {
			if errors.Is(err, errAborted) {
				o.abandon(ctx, p, pending.String())
				return
			}
			o.fail(em, err, hadImage)
			return
		}
		// Secondary stream: the model sees its own partial reply, the tool
		// invocations, and their results, then keeps talking.
		secondary := o.secondaryContext(mctx, pending.String(), invocations, results)
		if err := o.relay(ctx, secondary, em, &pending, nil); err != nil {
			if errors.Is(err, errAborted) {
				o.abandon(ctx, p, pending.String())
				return
			}
			// The tool round trip already produced value; persist what we
			// have before surfacing the failure.
			if text := pending.String(); text != "" {
				aiMsg := &chat.Message{
					ConversationID: p.conv.ID,
					Role:           chat.RoleAssistant,
					Content:        text,
					ImageURL:       imageURL,
				}
				if perr := o.Store.AppendMessage(ctx, aiMsg); perr != nil {
					slog.Warn("persist after secondary failure", "conversation", p.conv.ID, "error", perr)
				}
			}
			o.fail(em, err, hadImage)
			return
		}

		o.complete(ctx, p, em, pending.String(), imageURL)
		return
	}

	o.complete(ctx, p, em, pending.String(), "")
}

// relay pumps one stream into the emitter. Text chunks append to pending and
// go out as token events; tool fragments feed the accumulator (dropped when
// acc is nil, as in the secondary stream). Returns nil on normal or
// truncated completion.
func (o *Orchestrator) relay(ctx context.Context, mctx *gen.Context, em Emitter, pending *strings.Builder, acc *gen.Accumulator) error {
	stream, err := o.Generator.GenerateStream(ctx, mctx)
	if err != nil {
		return &UpstreamError{Err: err}
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			stream.CloseWithError(ctx.Err())
			return errAborted
		}
		chunk, err := stream.Next()
		if err != nil {
			var state *gen.State
			if errors.As(err, &state) {
				switch state.Status() {
				case gen.StatusDone, gen.StatusTruncated:
					return nil
				}
			}
			if ctx.Err() != nil {
				return errAborted
			}
			return &UpstreamError{Err: err}
		}
		switch {
		case chunk.Tool != nil:
			if acc != nil {
				acc.Ingest(chunk.Tool)
			}
		case chunk.Text != "":
			pending.WriteString(chunk.Text)
			if err := em.Emit(EventToken, chunk.Text); err != nil {
				stream.CloseWithError(err)
				return errAborted
			}
		}
	}
}

func (o *Orchestrator) toolRegistry() []*gen.FuncTool {
	if o.Images == nil {
		return nil
	}
	return []*gen.FuncTool{imageTool(o.Images)}
}

type imageToolArgs struct {
	// Prompt describes the image to generate.
	Prompt string `json:"prompt"`
}

func imageTool(images gen.ImageGenerator) *gen.FuncTool {
	return gen.MustNewFuncTool(ToolGenerateImage,
		"Generate an image from a text prompt. Use when the user asks you to draw, create, or show a picture.",
		func(ctx context.Context, arg imageToolArgs) (any, error) {
			return images.GenerateImage(ctx, arg.Prompt)
		})
}

// executeTools runs EXECUTE_TOOLS: entitlement-gated image generation with
// non-fatal failures. Returns the recorded results and the generated image
// URL, if any.
func (o *Orchestrator) executeTools(ctx context.Context, p *Prepared, em Emitter, invocations []*gen.Invocation) (results []*gen.ToolResult, imageURL string, err error) {
	plan := chat.PlanFree
	if !p.caller.Anonymous() && o.Entitlements != nil {
		var perr error
		plan, perr = o.Entitlements.PlanOf(ctx, p.caller.UserID)
		if perr != nil {
			slog.Warn("entitlement lookup failed, treating as free", "user", p.caller.UserID, "error", perr)
			plan = chat.PlanFree
		}
	}

	for _, inv := range invocations {
		result := &gen.ToolResult{ID: inv.ID}
		switch {
		case inv.Err != nil:
			result.Result = fmt.Sprintf("error: tool call arguments could not be parsed: %v", inv.Err)
		case inv.Name != ToolGenerateImage:
			result.Result = fmt.Sprintf("error: unknown tool %q", inv.Name)
		case plan == chat.PlanFree:
			if err := em.Emit(EventUpgradeRequired, UpgradeRequiredEvent{
				Feature: "image_generation",
				Message: "Image generation requires a Plus or Pro plan.",
			}); err != nil {
				return nil, "", errAborted
			}
			result.Result = "error: the user's plan does not include image generation; suggest upgrading"
		default:
			prompt := inv.StringArg("prompt")
			generated, gerr := o.Images.GenerateImage(ctx, prompt)
			if gerr != nil {
				if ctx.Err() != nil {
					return nil, "", errAborted
				}
				slog.Error("image generation failed", "conversation", p.conv.ID, "error", gerr)
				result.Result = "error: image generation failed, apologize to the user"
			} else {
				imageURL = generated
				result.Result = fmt.Sprintf(`{"imageUrl": %q}`, generated)
				if err := em.Emit(EventImage, ImageEvent{ImageURL: generated, Prompt: prompt}); err != nil {
					return nil, "", errAborted
				}
			}
		}
		results = append(results, result)
	}
	return results, imageURL, nil
}

// secondaryContext extends the primary instruction set with the assistant's
// partial reply, the tool invocation records, and their results. Tools are
// not advertised again.
func (o *Orchestrator) secondaryContext(primary *gen.Context, partial string, invocations []*gen.Invocation, results []*gen.ToolResult) *gen.Context {
	msgs := make([]*gen.Message, 0, len(primary.Messages)+1+len(invocations)+len(results))
	msgs = append(msgs, primary.Messages...)
	if partial != "" {
		msgs = append(msgs, gen.ModelText("", partial))
	}
	for _, inv := range invocations {
		msgs = append(msgs, &gen.Message{
			Role:    gen.RoleModel,
			Payload: &gen.ToolCall{ID: inv.ID, Name: inv.Name, Arguments: inv.Arguments},
		})
	}
	for _, r := range results {
		msgs = append(msgs, &gen.Message{
			Role:    gen.RoleTool,
			Payload: r,
		})
	}
	return &gen.Context{System: primary.System, Messages: msgs}
}

// complete runs PERSIST_ASSISTANT, SUGGESTIONS, and COMPLETE.
func (o *Orchestrator) complete(ctx context.Context, p *Prepared, em Emitter, text, imageURL string) {
	if text == "" {
		text = emptyReplyFallback
	}
	aiMsg := &chat.Message{
		ConversationID: p.conv.ID,
		Role:           chat.RoleAssistant,
		Content:        text,
		ImageURL:       imageURL,
	}
	if err := o.Store.AppendMessage(ctx, aiMsg); err != nil {
		o.fail(em, &PersistenceError{Err: err}, p.req.ImageURL != "")
		return
	}

	o.suggest(ctx, p, em, text)

	if err := em.Emit(EventComplete, aiMsg); err != nil {
		slog.Warn("complete event not delivered", "conversation", p.conv.ID, "error", err)
	}
	em.Close()
}

// abandon handles a client disconnect observed mid-stream: persist what we
// have best-effort and go silent. No complete or error event follows.
func (o *Orchestrator) abandon(ctx context.Context, p *Prepared, text string) {
	if text != "" {
		// The request context is gone; give persistence its own brief one.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		aiMsg := &chat.Message{
			ConversationID: p.conv.ID,
			Role:           chat.RoleAssistant,
			Content:        text,
		}
		if err := o.Store.AppendMessage(pctx, aiMsg); err != nil {
			slog.Warn("best-effort persist after disconnect failed", "conversation", p.conv.ID, "error", err)
		}
	}
	slog.Info("turn abandoned, client disconnected", "conversation", p.conv.ID)
}

func (o *Orchestrator) fail(em Emitter, err error, hadImage bool) {
	slog.Error("turn failed", "error", err)
	if emitErr := em.Emit(EventError, ErrorEvent{Error: userSafeMessage(err, hadImage)}); emitErr != nil {
		slog.Warn("error event not delivered", "error", emitErr)
	}
	em.Close()
}
