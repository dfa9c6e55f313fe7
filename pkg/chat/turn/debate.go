package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/gen"
)

// DebateRounds is the fixed number of rounds in a debate.
const DebateRounds = 3

// DebateRequest starts a multi-persona debate in a conversation.
type DebateRequest struct {
	ConversationID string `json:"conversationId"`
	Topic          string `json:"topic"`
	PersonaA       string `json:"personaA"`
	PersonaB       string `json:"personaB"`
}

// UnmarshalJSON accepts both persona key spellings seen in the wild:
// personaA/personaB and persona1/persona2.
func (r *DebateRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ConversationID string `json:"conversationId"`
		Topic          string `json:"topic"`
		PersonaA       string `json:"personaA"`
		PersonaB       string `json:"personaB"`
		Persona1       string `json:"persona1"`
		Persona2       string `json:"persona2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ConversationID = raw.ConversationID
	r.Topic = raw.Topic
	r.PersonaA = raw.PersonaA
	if r.PersonaA == "" {
		r.PersonaA = raw.Persona1
	}
	r.PersonaB = raw.PersonaB
	if r.PersonaB == "" {
		r.PersonaB = raw.Persona2
	}
	return nil
}

// PreparedDebate is a debate that has passed validation and authorization.
type PreparedDebate struct {
	req      *DebateRequest
	conv     *chat.Conversation
	personaA *chat.Persona
	personaB *chat.Persona
}

// debateGuidance[round][side] instructs each speaker for the round. Side 0
// argues for the topic, side 1 against.
var debateGuidance = [DebateRounds][2]string{
	{
		"This is round 1 of 3. Present your opening argument for your position.",
		"This is round 1 of 3. Present your opening counter-argument against your opponent's position.",
	},
	{
		"This is round 2 of 3. Rebut your opponent's points and strengthen your case.",
		"This is round 2 of 3. Counter your opponent's rebuttal with new evidence or reasoning.",
	},
	{
		"This is round 3 of 3. Deliver your closing statement.",
		"This is round 3 of 3. Deliver your final rebuttal and closing remarks.",
	},
}

// PrepareDebate validates and authorizes a debate request before any stream
// framing begins.
func (o *Orchestrator) PrepareDebate(ctx context.Context, caller Caller, req *DebateRequest) (*PreparedDebate, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, validationf("topic must not be empty")
	}
	if req.PersonaA == req.PersonaB {
		return nil, validationf("a debate needs two distinct personas")
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

	pa, _ := o.Catalog.Resolve(ctx, req.PersonaA)
	pb, _ := o.Catalog.Resolve(ctx, req.PersonaB)
	if pa.ID == pb.ID {
		return nil, validationf("personas %q and %q resolve to the same speaker", req.PersonaA, req.PersonaB)
	}

	return &PreparedDebate{req: req, conv: conv, personaA: pa, personaB: pb}, nil
}

// RunDebate schedules three rounds of alternating speeches, streaming each
// speech and persisting it as one assistant message prefixed with the
// speaker's name. Debates advertise no tools and do not count against the
// anonymous turn limit.
func (o *Orchestrator) RunDebate(ctx context.Context, p *PreparedDebate, em Emitter) {
	speakers := [2]*chat.Persona{p.personaA, p.personaB}

	// transcript holds every speech so far, prefixed with the speaker's
	// name, shared across both sides.
	var transcript []speech

	for round := 0; round < DebateRounds; round++ {
		for side := 0; side < 2; side++ {
			speaker := speakers[side]
			if err := em.Emit(EventSpeaker, speaker.Name); err != nil {
				slog.Info("debate abandoned, client disconnected", "conversation", p.conv.ID)
				return
			}

			mctx := o.debateContext(speaker, side, round, p.req.Topic, transcript)

			var text strings.Builder
			if err := o.relay(ctx, mctx, em, &text, nil); err != nil {
				if errors.Is(err, errAborted) {
					slog.Info("debate abandoned, client disconnected", "conversation", p.conv.ID)
					return
				}
				o.fail(em, err, false)
				return
			}

			spoken := text.String()
			if spoken == "" {
				spoken = emptyReplyFallback
			}
			msg := &chat.Message{
				ConversationID: p.conv.ID,
				Role:           chat.RoleAssistant,
				Content:        fmt.Sprintf("%s: %s", speaker.Name, spoken),
			}
			if err := o.Store.AppendMessage(ctx, msg); err != nil {
				o.fail(em, &PersistenceError{Err: err}, false)
				return
			}
			transcript = append(transcript, speech{side: side, name: speaker.Name, text: spoken})
		}
	}

	if err := em.Emit(EventComplete, DebateCompleteEvent{Success: true, Rounds: DebateRounds}); err != nil {
		slog.Warn("debate complete event not delivered", "conversation", p.conv.ID, "error", err)
	}
	em.Close()
}

type speech struct {
	side int
	name string
	text string
}

// debateContext frames one speech: the persona's directive plus debate
// instructions in the system block, and the transcript so far with the
// current side's own speeches as model turns and the opponent's as user
// turns.
func (o *Orchestrator) debateContext(speaker *chat.Persona, side, round int, topic string, transcript []speech) *gen.Context {
	stance := "for"
	if side == 1 {
		stance = "against"
	}

	var system strings.Builder
	system.WriteString(speaker.Prompt)
	fmt.Fprintf(&system, "\n\nYou are taking part in a structured debate on the topic: %q. ", topic)
	fmt.Fprintf(&system, "You argue %s the proposition. ", stance)
	system.WriteString(debateGuidance[round][side])
	system.WriteString(" Keep your speech to a few paragraphs at most and stay in character.")

	msgs := make([]*gen.Message, 0, len(transcript))
	for _, s := range transcript {
		line := fmt.Sprintf("%s: %s", s.name, s.text)
		if s.side == side {
			msgs = append(msgs, gen.ModelText("", line))
		} else {
			msgs = append(msgs, gen.UserText("", line))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, gen.UserText("", "Begin the debate."))
	}

	return &gen.Context{System: system.String(), Messages: msgs}
}
