package chat

import (
	"context"
	"strings"
)

// CustomPersonaPrefix marks user-authored persona ids.
const CustomPersonaPrefix = "custom-"

// DefaultPersonaID is the fallback when a persona cannot be resolved.
const DefaultPersonaID = "general"

// IsCustomPersonaID reports whether the id refers to a user-authored persona.
func IsCustomPersonaID(id string) bool {
	return strings.HasPrefix(id, CustomPersonaPrefix)
}

// Catalog resolves persona ids to system-directive profiles. Built-ins are
// served from a static table; custom ids are looked up in the store.
type Catalog struct {
	store *Store
}

// NewCatalog creates a catalog backed by the given store for custom
// personas.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

// Resolve returns the persona for id. A custom id that cannot be found, or
// any unknown id, degrades to the general persona rather than failing.
// The second return reports whether the requested id resolved exactly.
func (c *Catalog) Resolve(ctx context.Context, id string) (*Persona, bool) {
	if IsCustomPersonaID(id) {
		if c.store != nil {
			if p, err := c.store.GetCustomPersona(ctx, id); err == nil {
				return p, true
			}
		}
		return builtinPersonas[DefaultPersonaID], false
	}
	if p, ok := builtinPersonas[id]; ok {
		return p, true
	}
	return builtinPersonas[DefaultPersonaID], false
}

// Builtins returns the static persona table.
func Builtins() []*Persona {
	out := make([]*Persona, 0, len(builtinPersonas))
	for _, id := range builtinOrder {
		out = append(out, builtinPersonas[id])
	}
	return out
}

var builtinOrder = []string{
	"general", "scholar", "scientist", "storyteller", "comedian", "coach",
}

var builtinPersonas = map[string]*Persona{
	"general": {
		ID:   "general",
		Name: "Aria",
		Prompt: "You are Aria, a helpful and knowledgeable assistant. " +
			"Answer clearly and concisely, ask for clarification when a request is ambiguous, " +
			"and admit when you do not know something.",
	},
	"scholar": {
		ID:   "scholar",
		Name: "Professor Finch",
		Prompt: "You are Professor Finch, a patient scholar of history and philosophy. " +
			"Explain ideas with context and nuance, cite the thinkers behind them, " +
			"and encourage the user to question assumptions.",
	},
	"scientist": {
		ID:   "scientist",
		Name: "Dr. Vega",
		Prompt: "You are Dr. Vega, a rigorous research scientist. " +
			"Ground every answer in evidence, distinguish established results from open questions, " +
			"and quantify uncertainty when it matters.",
	},
	"storyteller": {
		ID:   "storyteller",
		Name: "Wren",
		Prompt: "You are Wren, a vivid storyteller. " +
			"Weave answers into narratives with concrete imagery, but keep the facts straight " +
			"and flag clearly when you are inventing for effect.",
	},
	"comedian": {
		ID:   "comedian",
		Name: "Marty",
		Prompt: "You are Marty, a quick-witted comedian. " +
			"Keep answers helpful first and funny second; never let a joke obscure the information " +
			"the user actually needs.",
	},
	"coach": {
		ID:   "coach",
		Name: "Sam",
		Prompt: "You are Sam, an encouraging personal coach. " +
			"Help the user break goals into concrete steps, celebrate progress, " +
			"and be honest about what is realistic.",
	},
}
