// Package chat holds the conversation domain: persisted entities, the
// msgpack-over-kv store, the built-in persona catalog, per-user memory facts,
// and the anonymous session rate counter.
package chat

import (
	"context"
	"sync/atomic"
	"time"
)

// Roles of persisted messages. These are client-facing values; the gen
// package maps them to provider roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reactions a message can carry. Empty clears the reaction.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// Plans returned by Entitlements.PlanOf. Image generation is gated to
// non-free plans.
const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
	PlanPro  Plan = "pro"
)

// Plan is a subscription tier.
type Plan string

// Message is one persisted conversation turn.
type Message struct {
	ID             string `json:"id" msgpack:"id"`
	ConversationID string `json:"conversationId" msgpack:"cid"`
	Role           string `json:"role" msgpack:"role"`
	Content        string `json:"content" msgpack:"content"`
	ImageURL       string `json:"imageUrl,omitempty" msgpack:"img,omitempty"`
	Pinned         bool   `json:"pinned,omitempty" msgpack:"pin,omitempty"`
	Reaction       string `json:"reaction,omitempty" msgpack:"react,omitempty"`

	// CreatedAt is the Unix timestamp in nanoseconds. Message order within
	// a conversation is creation order.
	CreatedAt int64 `json:"createdAt" msgpack:"ts"`
}

// Conversation groups messages under a persona. OwnerID is empty for
// anonymous conversations.
type Conversation struct {
	ID        string `json:"id" msgpack:"id"`
	OwnerID   string `json:"ownerId,omitempty" msgpack:"owner,omitempty"`
	PersonaID string `json:"personaId" msgpack:"persona"`
	Title     string `json:"title,omitempty" msgpack:"title,omitempty"`
	CreatedAt int64  `json:"createdAt" msgpack:"ts"`
}

// Persona is a named system-directive profile. Built-ins have no owner;
// user-authored custom personas carry the owning user's id and a
// "custom-" prefixed ID.
type Persona struct {
	ID      string `json:"id" msgpack:"id"`
	OwnerID string `json:"ownerId,omitempty" msgpack:"owner,omitempty"`
	Name    string `json:"name" msgpack:"name"`
	Prompt  string `json:"prompt" msgpack:"prompt"`
}

// Entitlements resolves a user's subscription plan.
type Entitlements interface {
	PlanOf(ctx context.Context, userID string) (Plan, error)
}

// StaticEntitlements is a fixed user→plan mapping. Unknown users are free.
type StaticEntitlements map[string]Plan

func (e StaticEntitlements) PlanOf(_ context.Context, userID string) (Plan, error) {
	if p, ok := e[userID]; ok {
		return p, nil
	}
	return PlanFree, nil
}

// lastNano makes nowNano monotonically increasing so message keys derived
// from timestamps never collide within a process.
var lastNano atomic.Int64

var nowNano = func() int64 {
	now := time.Now().UnixNano()
	for {
		old := lastNano.Load()
		next := now
		if next <= old {
			next = old + 1
		}
		if lastNano.CompareAndSwap(old, next) {
			return next
		}
	}
}
