package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/pkg/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(kv.NewMemory())
}

func TestStore_ConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "general", "Trip planning")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" || conv.CreatedAt == 0 {
		t.Fatal("conversation missing id or timestamp")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.OwnerID != "alice" || got.PersonaID != "general" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetConversation(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConversation(nope) = %v, want ErrNotFound", err)
	}

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("conversation should be gone, got %v", err)
	}
}

func TestStore_MessagesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "", "general", "")

	for _, content := range []string{"one", "two", "three"} {
		msg := &Message{ConversationID: conv.ID, Role: RoleUser, Content: content}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}

	recent, err := s.RecentMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" {
		t.Errorf("RecentMessages = %v", recent)
	}
}

func TestStore_EditMessageDeletesTrailing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "", "general", "")

	var ids []string
	for _, content := range []string{"a", "b", "c", "d"} {
		msg := &Message{ConversationID: conv.ID, Role: RoleUser, Content: content}
		s.AppendMessage(ctx, msg)
		ids = append(ids, msg.ID)
	}

	edited, err := s.EditMessage(ctx, conv.ID, ids[1], "b2")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if edited.Content != "b2" {
		t.Errorf("edited content = %q", edited.Content)
	}

	msgs, _ := s.Messages(ctx, conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("len after edit = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "a" || msgs[1].Content != "b2" {
		t.Errorf("remaining order wrong: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	if _, err := s.EditMessage(ctx, conv.ID, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("EditMessage(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_PinAndReact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "", "general", "")
	msg := &Message{ConversationID: conv.ID, Role: RoleAssistant, Content: "hi"}
	s.AppendMessage(ctx, msg)

	if _, err := s.SetPinned(ctx, conv.ID, msg.ID, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	got, _ := s.GetMessage(ctx, conv.ID, msg.ID)
	if !got.Pinned {
		t.Error("message should be pinned")
	}

	if _, err := s.SetReaction(ctx, conv.ID, msg.ID, ReactionLike); err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	got, _ = s.GetMessage(ctx, conv.ID, msg.ID)
	if got.Reaction != ReactionLike {
		t.Errorf("reaction = %q", got.Reaction)
	}

	if _, err := s.SetReaction(ctx, conv.ID, msg.ID, "confetti"); err == nil {
		t.Error("invalid reaction should be rejected")
	}
}

func TestStore_CustomPersona(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Persona{ID: "custom-abc", OwnerID: "alice", Name: "My Bot", Prompt: "Be terse."}
	if err := s.PutCustomPersona(ctx, p); err != nil {
		t.Fatalf("PutCustomPersona: %v", err)
	}
	got, err := s.GetCustomPersona(ctx, "custom-abc")
	if err != nil {
		t.Fatalf("GetCustomPersona: %v", err)
	}
	if got.Prompt != "Be terse." || got.OwnerID != "alice" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Prefix is enforced.
	q := &Persona{ID: "noprefix", OwnerID: "bob", Name: "B", Prompt: "x"}
	s.PutCustomPersona(ctx, q)
	if !IsCustomPersonaID(q.ID) {
		t.Errorf("id not prefixed: %q", q.ID)
	}
}

func TestStore_MemoryFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendMemoryFact(ctx, "alice", "prefers metric units")
	s.AppendMemoryFact(ctx, "alice", "has a cat named Miso")

	facts, err := s.MemoryFacts(ctx, "alice")
	if err != nil {
		t.Fatalf("MemoryFacts: %v", err)
	}
	if len(facts) != 2 || facts[0] != "prefers metric units" {
		t.Errorf("facts = %v", facts)
	}

	// Anonymous callers have no memory.
	facts, _ = s.MemoryFacts(ctx, "")
	if facts != nil {
		t.Errorf("anonymous facts = %v, want nil", facts)
	}

	s.ClearMemoryFacts(ctx, "alice")
	facts, _ = s.MemoryFacts(ctx, "alice")
	if len(facts) != 0 {
		t.Errorf("facts after clear = %v", facts)
	}
}

func TestStore_SessionCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if n, _ := s.SessionCount(ctx, "sess1"); n != 0 {
		t.Errorf("fresh count = %d", n)
	}
	for i := 1; i <= 3; i++ {
		n, err := s.IncrSessionCount(ctx, "sess1")
		if err != nil || n != i {
			t.Fatalf("IncrSessionCount #%d = %d, %v", i, n, err)
		}
	}
	if n, _ := s.SessionCount(ctx, "sess2"); n != 0 {
		t.Errorf("other session count = %d", n)
	}
}

func TestCatalog_Resolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := NewCatalog(s)

	p, exact := cat.Resolve(ctx, "scientist")
	if !exact || p.Name != "Dr. Vega" {
		t.Errorf("Resolve(scientist) = %v, %v", p, exact)
	}

	// Unknown builtin falls back to general.
	p, exact = cat.Resolve(ctx, "astronaut")
	if exact || p.ID != DefaultPersonaID {
		t.Errorf("Resolve(astronaut) = %v, %v", p, exact)
	}

	// Custom persona present.
	s.PutCustomPersona(ctx, &Persona{ID: "custom-x", OwnerID: "alice", Name: "X", Prompt: "p"})
	p, exact = cat.Resolve(ctx, "custom-x")
	if !exact || p.Name != "X" {
		t.Errorf("Resolve(custom-x) = %v, %v", p, exact)
	}

	// Custom persona missing degrades to general.
	p, exact = cat.Resolve(ctx, "custom-missing")
	if exact || p.ID != DefaultPersonaID {
		t.Errorf("Resolve(custom-missing) = %v, %v", p, exact)
	}
}
