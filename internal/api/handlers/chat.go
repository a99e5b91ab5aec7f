package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dvloznov/financinha/internal/api/middleware"
	"github.com/dvloznov/financinha/internal/assistant"
	"github.com/rs/zerolog"
)

// ChatHandler serves the stateless assistant endpoint. The caller keeps the
// conversation and sends the recent turns with each message.
type ChatHandler struct {
	responder assistant.Responder
	log       zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(r assistant.Responder, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{responder: r, log: log}
}

type chatRequest struct {
	Message string              `json:"message"`
	Context []assistant.Message `json:"context"`
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		middleware.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := assistant.ValidateHistory(req.Context); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid context")
		return
	}

	ctx := r.Context()
	log := requestLogger(ctx, h.log)
	res, err := h.responder.Respond(ctx, user, req.Message, req.Context)
	if err != nil {
		writeAssistantError(w, log, err)
		return
	}

	data, err := assistant.MarshalAction(res.Action)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode action")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, json.RawMessage(data))
}
