// Package httpapi exposes the chat service over HTTP: conversation and
// message CRUD, persona and memory management, and the streaming turn and
// debate endpoints (SSE by default, single-response poll mode, or
// websocket).
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
)

// sessionCookie carries the anonymous session id.
const sessionCookie = "parley_session"

// userHeader identifies an authenticated caller. Authentication itself is
// terminated upstream; this service trusts the header.
const userHeader = "X-User-ID"

// Server wires the orchestrator and store into HTTP handlers.
type Server struct {
	Orch     *turn.Orchestrator
	Store    *chat.Store
	Catalog  *chat.Catalog
	upgrader websocket.Upgrader
}

// NewServer creates a server around the given orchestrator.
func NewServer(orch *turn.Orchestrator) *Server {
	return &Server{
		Orch:    orch,
		Store:   orch.Store,
		Catalog: orch.Catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the routed handler with the session middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)

	mux.HandleFunc("POST /api/conversations/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /api/conversations/{id}/turns/ws", s.handleTurnWS)
	mux.HandleFunc("POST /api/conversations/{id}/debates", s.handleDebate)

	mux.HandleFunc("PATCH /api/conversations/{id}/messages/{msgID}", s.handleEditMessage)
	mux.HandleFunc("POST /api/conversations/{id}/messages/{msgID}/pin", s.handlePinMessage)
	mux.HandleFunc("POST /api/conversations/{id}/messages/{msgID}/reaction", s.handleReactMessage)

	mux.HandleFunc("GET /api/personas", s.handleListPersonas)
	mux.HandleFunc("POST /api/personas", s.handleCreatePersona)

	mux.HandleFunc("GET /api/memory", s.handleListMemory)
	mux.HandleFunc("POST /api/memory", s.handleAddMemory)
	mux.HandleFunc("DELETE /api/memory", s.handleClearMemory)

	return s.withSession(mux)
}

// withSession assigns an anonymous session cookie on first contact so the
// per-session rate limit has a stable key.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(sessionCookie); err != nil {
			c := &http.Cookie{
				Name:     sessionCookie,
				Value:    uuid.NewString(),
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			}
			http.SetCookie(w, c)
			r.AddCookie(c)
		}
		next.ServeHTTP(w, r)
	})
}

// caller extracts the request identity: the trusted user header plus the
// anonymous session cookie.
func (s *Server) caller(r *http.Request) turn.Caller {
	c := turn.Caller{UserID: r.Header.Get(userHeader)}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		c.SessionID = cookie.Value
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the turn error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr *turn.ValidationError
		aerr *turn.AuthorizationError
		nerr *turn.NotFoundError
		cerr *turn.CapacityError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusForbidden, errorBody{Error: aerr.Message})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: nerr.Message})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: cerr.Message})
	case errors.Is(err, chat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
