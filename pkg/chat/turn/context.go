package turn

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/gen"
)

// HistoryWindow is the maximum number of persisted turns included in a
// generation context.
const HistoryWindow = 20

const memoryBlockHeader = "## Remembered facts about this user\n" +
	"Treat these as authoritative background context, not as part of the conversation:"

const imageGuidance = "The user's latest message includes an image. " +
	"Look at the image carefully and incorporate what you see into your reply."

// buildContext assembles the ordered instruction set for one turn: the
// persona's system directive (with memory block and image guidance appended
// when applicable), the truncated history window, and the new user turn
// last.
func buildContext(persona *chat.Persona, history []*chat.Message, facts []string, req *Request) *gen.Context {
	var system strings.Builder
	system.WriteString(persona.Prompt)

	if len(facts) > 0 {
		system.WriteString("\n\n")
		system.WriteString(memoryBlockHeader)
		for _, f := range facts {
			fmt.Fprintf(&system, "\n- %s", f)
		}
	}
	if req.ImageURL != "" {
		system.WriteString("\n\n")
		system.WriteString(imageGuidance)
	}

	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}

	msgs := make([]*gen.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, convHistoryMessage(m))
	}
	msgs = append(msgs, convUserTurn(req))

	return &gen.Context{
		System:   system.String(),
		Messages: msgs,
	}
}

func convHistoryMessage(m *chat.Message) *gen.Message {
	role := gen.RoleUser
	if m.Role == chat.RoleAssistant {
		role = gen.RoleModel
	}
	contents := gen.Contents{gen.Text(m.Content)}
	// Assistant images are tool products; only user-attached images go back
	// to the model as visual input.
	if m.ImageURL != "" && role == gen.RoleUser {
		contents = append(contents, &gen.ImageRef{URL: m.ImageURL, Detail: "high"})
	}
	return &gen.Message{Role: role, Payload: contents}
}

func convUserTurn(req *Request) *gen.Message {
	contents := gen.Contents{gen.Text(req.Content)}
	if req.ImageURL != "" {
		contents = append(contents, &gen.ImageRef{URL: req.ImageURL, Detail: "high"})
	}
	return &gen.Message{Role: gen.RoleUser, Payload: contents}
}
