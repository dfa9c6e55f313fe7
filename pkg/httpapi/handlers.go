package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
)

// ownedConversation loads the conversation and verifies the caller may act
// on it. Ownerless conversations belong to whichever session created them
// and are open to any caller.
func (s *Server) ownedConversation(ctx context.Context, r *http.Request, convID string) (*chat.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != "" && conv.OwnerID != s.caller(r).UserID {
		return nil, &turn.AuthorizationError{Message: "you do not have access to this conversation"}
	}
	return conv, nil
}

// --- conversations ---

type createConversationRequest struct {
	PersonaID string `json:"personaId"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	if req.PersonaID == "" {
		req.PersonaID = chat.DefaultPersonaID
	}
	conv, err := s.Store.CreateConversation(r.Context(), s.caller(r).UserID, req.PersonaID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.Store.ListConversations(r.Context(), s.caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r.Context(), r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ownedConversation(r.Context(), r, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r.Context(), r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.Store.Messages(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// --- message mutations ---

type editMessageRequest struct {
	Content string `json:"content"`
}

// handleEditMessage rewrites a message's content. Everything after the
// edited message is discarded so the conversation can be regenerated from
// the edit point.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r.Context(), r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, &turn.ValidationError{Message: "content must not be empty"})
		return
	}
	msg, err := s.Store.EditMessage(r.Context(), conv.ID, r.PathValue("msgID"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type pinMessageRequest struct {
	Pinned bool `json:"pinned"`
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r.Context(), r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req pinMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	msg, err := s.Store.SetPinned(r.Context(), conv.ID, r.PathValue("msgID"), req.Pinned)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type reactMessageRequest struct {
	Reaction string `json:"reaction"`
}

func (s *Server) handleReactMessage(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r.Context(), r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req reactMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	msg, err := s.Store.SetReaction(r.Context(), conv.ID, r.PathValue("msgID"), req.Reaction)
	if err != nil {
		writeError(w, &turn.ValidationError{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// --- personas ---

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chat.Builtins())
}

type createPersonaRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller.Anonymous() {
		writeError(w, &turn.AuthorizationError{Message: "custom personas require an account"})
		return
	}
	var req createPersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, &turn.ValidationError{Message: "name and prompt must not be empty"})
		return
	}
	p := &chat.Persona{
		ID:      chat.CustomPersonaPrefix + uuid.NewString(),
		OwnerID: caller.UserID,
		Name:    req.Name,
		Prompt:  req.Prompt,
	}
	if err := s.Store.PutCustomPersona(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// --- memory facts ---

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller.Anonymous() {
		writeError(w, &turn.AuthorizationError{Message: "memory requires an account"})
		return
	}
	facts, err := s.Store.MemoryFacts(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if facts == nil {
		facts = []string{}
	}
	writeJSON(w, http.StatusOK, facts)
}

type addMemoryRequest struct {
	Fact string `json:"fact"`
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller.Anonymous() {
		writeError(w, &turn.AuthorizationError{Message: "memory requires an account"})
		return
	}
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Fact) == "" {
		writeError(w, &turn.ValidationError{Message: "fact must not be empty"})
		return
	}
	if err := s.Store.AppendMemoryFact(r.Context(), caller.UserID, req.Fact); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller.Anonymous() {
		writeError(w, &turn.AuthorizationError{Message: "memory requires an account"})
		return
	}
	if err := s.Store.ClearMemoryFacts(r.Context(), caller.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
