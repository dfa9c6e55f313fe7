package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parleyhq/parley/pkg/kv"
)

// ErrNotFound is returned when a conversation, message, or persona does not
// exist.
var ErrNotFound = errors.New("chat: not found")

// Key prefixes. Message keys embed the creation timestamp zero-padded so the
// store's lexicographic iteration is creation order.
const (
	prefixConv    = "conv"
	prefixMsg     = "msg"
	prefixPersona = "persona"
	prefixMemory  = "memfact"
	prefixSession = "sess"
)

// Store persists conversations, messages, custom personas, memory facts, and
// session counters in a kv.Store using msgpack encoding.
type Store struct {
	kv kv.Store
}

// NewStore wraps a kv store.
func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

func seqKey(ts int64) string {
	return fmt.Sprintf("%020d", ts)
}

// --- conversations ---

// CreateConversation creates a conversation for the given owner (empty for
// anonymous) and persona.
func (s *Store) CreateConversation(ctx context.Context, ownerID, personaID, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		PersonaID: personaID,
		Title:     title,
		CreatedAt: nowNano(),
	}
	if err := s.put(ctx, kv.Key{prefixConv, conv.ID}, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation returns ErrNotFound for unknown ids.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := s.get(ctx, kv.Key{prefixConv, id}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the owner's conversations.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]*Conversation, error) {
	var out []*Conversation
	for e, err := range s.kv.List(ctx, kv.Key{prefixConv}) {
		if err != nil {
			return nil, err
		}
		var conv Conversation
		if err := msgpack.Unmarshal(e.Value, &conv); err != nil {
			return nil, err
		}
		if conv.OwnerID == ownerID {
			out = append(out, &conv)
		}
	}
	return out, nil
}

// DeleteConversation removes the conversation and all its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	keys := []kv.Key{{prefixConv, id}}
	for e, err := range s.kv.List(ctx, kv.Key{prefixMsg, id}) {
		if err != nil {
			return err
		}
		keys = append(keys, e.Key)
	}
	return s.kv.BatchDelete(ctx, keys)
}

// --- messages ---

// AppendMessage assigns the message an id and creation timestamp and
// persists it at the end of its conversation.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return errors.New("chat: message without conversation id")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = nowNano()
	}
	return s.put(ctx, kv.Key{prefixMsg, msg.ConversationID, seqKey(msg.CreatedAt)}, msg)
}

// Messages returns all messages of a conversation in creation order.
func (s *Store) Messages(ctx context.Context, convID string) ([]*Message, error) {
	var out []*Message
	for e, err := range s.kv.List(ctx, kv.Key{prefixMsg, convID}) {
		if err != nil {
			return nil, err
		}
		var msg Message
		if err := msgpack.Unmarshal(e.Value, &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, nil
}

// RecentMessages returns up to n of the most recent messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, convID string, n int) ([]*Message, error) {
	msgs, err := s.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// GetMessage finds a message by id within a conversation.
func (s *Store) GetMessage(ctx context.Context, convID, msgID string) (*Message, error) {
	msgs, err := s.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == msgID {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// EditMessage rewrites a message's content and deletes every message
// strictly after it in creation order. Returns the updated message.
func (s *Store) EditMessage(ctx context.Context, convID, msgID, content string) (*Message, error) {
	msgs, err := s.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	var target *Message
	var trailing []kv.Key
	for _, m := range msgs {
		if target != nil {
			trailing = append(trailing, kv.Key{prefixMsg, convID, seqKey(m.CreatedAt)})
			continue
		}
		if m.ID == msgID {
			target = m
		}
	}
	if target == nil {
		return nil, ErrNotFound
	}
	if len(trailing) > 0 {
		if err := s.kv.BatchDelete(ctx, trailing); err != nil {
			return nil, err
		}
	}
	target.Content = content
	if err := s.put(ctx, kv.Key{prefixMsg, convID, seqKey(target.CreatedAt)}, target); err != nil {
		return nil, err
	}
	return target, nil
}

// SetPinned toggles a message's pinned flag.
func (s *Store) SetPinned(ctx context.Context, convID, msgID string, pinned bool) (*Message, error) {
	return s.updateMessage(ctx, convID, msgID, func(m *Message) { m.Pinned = pinned })
}

// SetReaction sets or clears a message's reaction.
func (s *Store) SetReaction(ctx context.Context, convID, msgID, reaction string) (*Message, error) {
	switch reaction {
	case "", ReactionLike, ReactionDislike:
	default:
		return nil, fmt.Errorf("chat: invalid reaction %q", reaction)
	}
	return s.updateMessage(ctx, convID, msgID, func(m *Message) { m.Reaction = reaction })
}

func (s *Store) updateMessage(ctx context.Context, convID, msgID string, mut func(*Message)) (*Message, error) {
	m, err := s.GetMessage(ctx, convID, msgID)
	if err != nil {
		return nil, err
	}
	mut(m)
	if err := s.put(ctx, kv.Key{prefixMsg, convID, seqKey(m.CreatedAt)}, m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- custom personas ---

// PutCustomPersona stores a user-owned persona. The id must carry the
// "custom-" prefix; one is added when missing.
func (s *Store) PutCustomPersona(ctx context.Context, p *Persona) error {
	if p.ID == "" {
		p.ID = CustomPersonaPrefix + uuid.NewString()
	}
	if len(p.ID) < len(CustomPersonaPrefix) || p.ID[:len(CustomPersonaPrefix)] != CustomPersonaPrefix {
		p.ID = CustomPersonaPrefix + p.ID
	}
	return s.put(ctx, kv.Key{prefixPersona, p.ID}, p)
}

// GetCustomPersona returns ErrNotFound for unknown ids.
func (s *Store) GetCustomPersona(ctx context.Context, id string) (*Persona, error) {
	var p Persona
	if err := s.get(ctx, kv.Key{prefixPersona, id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- memory facts ---

// AppendMemoryFact records one remembered fact for a user.
func (s *Store) AppendMemoryFact(ctx context.Context, userID, fact string) error {
	return s.kv.Set(ctx, kv.Key{prefixMemory, userID, seqKey(nowNano())}, []byte(fact))
}

// MemoryFacts returns a user's facts in recording order.
func (s *Store) MemoryFacts(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	var out []string
	for e, err := range s.kv.List(ctx, kv.Key{prefixMemory, userID}) {
		if err != nil {
			return nil, err
		}
		out = append(out, string(e.Value))
	}
	return out, nil
}

// ClearMemoryFacts forgets everything recorded for a user.
func (s *Store) ClearMemoryFacts(ctx context.Context, userID string) error {
	var keys []kv.Key
	for e, err := range s.kv.List(ctx, kv.Key{prefixMemory, userID}) {
		if err != nil {
			return err
		}
		keys = append(keys, e.Key)
	}
	return s.kv.BatchDelete(ctx, keys)
}

// --- anonymous session counter ---

// SessionCount reads the number of turns an anonymous session has used.
func (s *Store) SessionCount(ctx context.Context, sessionID string) (int, error) {
	b, err := s.kv.Get(ctx, kv.Key{prefixSession, sessionID, "count"})
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, err
	}
	return n, nil
}

// IncrSessionCount bumps the session counter by one. This is a plain
// read-then-write: two concurrent requests on the same session can both read
// the pre-increment value and both be admitted, overshooting the limit by
// one. Known limitation, kept deliberately.
func (s *Store) IncrSessionCount(ctx context.Context, sessionID string) (int, error) {
	n, err := s.SessionCount(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.kv.Set(ctx, kv.Key{prefixSession, sessionID, "count"}, []byte(strconv.Itoa(n))); err != nil {
		return 0, err
	}
	return n, nil
}

// --- codec helpers ---

func (s *Store) put(ctx context.Context, key kv.Key, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, b)
}

func (s *Store) get(ctx context.Context, key kv.Key, v any) error {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(b, v)
}
