package turn

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/gen"
)

// maxSuggestions caps the follow-up chips shown to the user.
const maxSuggestions = 3

type suggestionArgs struct {
	// Suggestions are short follow-up messages the user might send next.
	Suggestions []string `json:"suggestions"`
}

var suggestionsTool = gen.MustNewFuncTool[suggestionArgs]("propose_followups",
	"Propose up to three short follow-up messages the user might plausibly send next, written in the user's voice.",
	nil)

// suggest generates follow-up suggestions and emits them when at least one
// survives filtering. Entirely best-effort: failures and timeouts are logged
// and swallowed, and a cancelled turn skips the call outright.
func (o *Orchestrator) suggest(ctx context.Context, p *Prepared, em Emitter, reply string) {
	if ctx.Err() != nil {
		return
	}
	timeout := o.SuggestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mctx := &gen.Context{
		System: "You suggest short follow-up messages a user might send next in a conversation. Each suggestion is a single sentence in the user's voice.",
		Messages: []*gen.Message{
			gen.UserText("", p.req.Content),
			gen.ModelText("", reply),
		},
	}
	raw, err := o.Generator.Invoke(sctx, mctx, suggestionsTool)
	if err != nil {
		slog.Warn("suggestion generation failed", "conversation", p.conv.ID, "error", err)
		return
	}

	parsed, err := suggestionsTool.Invoke(sctx, raw)
	if err != nil {
		slog.Warn("suggestion payload unparseable", "conversation", p.conv.ID, "error", err)
		return
	}
	args, ok := parsed.(*suggestionArgs)
	if !ok {
		return
	}

	var out []string
	for _, s := range args.Suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	if len(out) == 0 {
		return
	}
	if err := em.Emit(EventSuggestions, out); err != nil {
		slog.Warn("suggestions not delivered", "conversation", p.conv.ID, "error", err)
	}
}
