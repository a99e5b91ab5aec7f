package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/rs/zerolog"
)

// SessionsHandler serves server-side conversations with the confirmation gate.
type SessionsHandler struct {
	sessions *assistant.Sessions
	log      zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions *assistant.Sessions, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, log: log}
}

type outcomeResponse struct {
	Turns   []assistant.Message   `json:"turns"`
	Action  assistant.ActionJSON  `json:"action"`
	Created []*domain.Transaction `json:"created,omitempty"`
	Session assistant.View        `json:"session"`
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*assistant.Session, bool) {
	user, ok := userID(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(user, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, assistant.ErrSessionNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Session not found")
		} else {
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to load session")
		}
		return nil, false
	}
	return s, true
}

func (h *SessionsHandler) writeOutcome(w http.ResponseWriter, s *assistant.Session, o assistant.Outcome) {
	if o.Ignored {
		middleware.WriteError(w, http.StatusConflict, "Session is not accepting this action now")
		return
	}
	turns := o.Turns
	if turns == nil {
		turns = []assistant.Message{}
	}
	middleware.WriteJSON(w, http.StatusOK, outcomeResponse{
		Turns:   turns,
		Action:  assistant.ActionJSON{Action: o.Action},
		Created: o.Created,
		Session: s.View(),
	})
}

// Open handles POST /api/sessions
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	s := h.sessions.Open(user)
	h.log.Debug().Str("session_id", s.ID).Str("user_id", user).Msg("Session opened")
	middleware.WriteJSON(w, http.StatusCreated, s.View())
}

// Get handles GET /api/sessions/{id}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s.View())
}

// Send handles POST /api/sessions/{id}/messages
func (h *SessionsHandler) Send(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	h.writeOutcome(w, s, s.Send(r.Context(), req.Message))
}

// Confirm handles POST /api/sessions/{id}/confirm
func (h *SessionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeOutcome(w, s, s.Confirm(r.Context()))
}

// Cancel handles POST /api/sessions/{id}/cancel
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeOutcome(w, s, s.Cancel())
}

// Close handles DELETE /api/sessions/{id}
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(user, r.PathValue("id")); err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
