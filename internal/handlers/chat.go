package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/middleware"
	"gemini-chatbot/internal/models"
	"gemini-chatbot/internal/session"
)

type sessionManager interface {
	Create() *session.Session
	Get(id uuid.UUID) (*session.Session, error)
	End(id uuid.UUID) error
}

type tokenIssuer interface {
	GenerateToken(conversationID uuid.UUID) (string, time.Time, error)
}

type ChatHandler struct {
	sessions sessionManager
	tokens   tokenIssuer
}

func NewChatHandler(sessions sessionManager, tokens tokenIssuer) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		tokens:   tokens,
	}
}

// CreateConversation starts a session and returns its token.
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Create()

	token, expiresAt, err := h.tokens.GenerateToken(sess.ID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", sess.ID.String()).Msg("failed to issue session token")
		if endErr := h.sessions.End(sess.ID); endErr != nil {
			log.Warn().Err(endErr).Str("conversation_id", sess.ID.String()).Msg("failed to discard unissued session")
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateConversationResponse{
		Conversation: sess.View(),
		Token:        token,
		ExpiresAt:    expiresAt,
	})
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// SubmitMessage starts an exchange. Blank text and submissions while a reply
// is pending are ignored rather than rejected.
func (h *ChatHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	accepted := sess.Store.Submit(req.Text)

	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, models.SubmitResponse{
		Accepted:     accepted,
		Conversation: sess.View(),
	})
}

func (h *ChatHandler) EndConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	if err := h.sessions.End(sess.ID); err != nil {
		handleSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizedSession resolves {id} and checks it matches the token's scope.
func (h *ChatHandler) authorizedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return nil, false
	}

	if middleware.GetConversationID(r.Context()) != id {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}

	sess, err := h.sessions.Get(id)
	if err != nil {
		handleSessionError(w, r, err)
		return nil, false
	}
	return sess, true
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Conversation not found", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}
