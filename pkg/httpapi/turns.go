package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
)

// handleTurn runs one turn. The default response is an SSE stream; with
// ?mode=poll the identical state machine runs against a buffer and the
// result is returned as one JSON body.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turn.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	req.ConversationID = r.PathValue("id")

	p, err := s.Orch.Prepare(r.Context(), s.caller(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("mode") == "poll" {
		em := turn.NewBufferEmitter()
		s.Orch.Run(r.Context(), p, em)
		s.writePollResponse(w, em)
		return
	}

	em := turn.NewSSEEmitter(w)
	s.Orch.Run(r.Context(), p, em)
}

// writePollResponse collapses a buffered turn into a single JSON body.
func (s *Server) writePollResponse(w http.ResponseWriter, em *turn.BufferEmitter) {
	resp := turn.PollResponse{Content: em.Content()}
	for _, f := range em.Frames() {
		switch f.Type {
		case turn.EventUserMessage:
			if m, ok := f.Data.(*chat.Message); ok {
				resp.UserMessage = m
			}
		case turn.EventComplete:
			if m, ok := f.Data.(*chat.Message); ok {
				resp.AIMessage = m
			}
		case turn.EventError:
			if ev, ok := f.Data.(turn.ErrorEvent); ok {
				writeJSON(w, http.StatusBadGateway, errorBody{Error: ev.Error})
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDebate streams a three-round debate between two personas over SSE.
func (s *Server) handleDebate(w http.ResponseWriter, r *http.Request) {
	var req turn.DebateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &turn.ValidationError{Message: "invalid JSON body"})
		return
	}
	req.ConversationID = r.PathValue("id")

	p, err := s.Orch.PrepareDebate(r.Context(), s.caller(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	em := turn.NewSSEEmitter(w)
	s.Orch.RunDebate(r.Context(), p, em)
}

// handleTurnWS upgrades to a websocket, reads one turn request, and streams
// the frames back as JSON messages. A closed socket cancels the turn.
func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	var req turn.Request
	if err := conn.ReadJSON(&req); err != nil {
		conn.Close()
		return
	}
	req.ConversationID = r.PathValue("id")

	em := turn.NewWSEmitter(conn)
	defer em.Close()

	p, err := s.Orch.Prepare(r.Context(), caller, &req)
	if err != nil {
		em.Emit(turn.EventError, turn.ErrorEvent{Error: err.Error()})
		return
	}

	// Drain the read side so a client close is observed promptly and the
	// turn is cancelled.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.Orch.Run(ctx, p, em)
}
