package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/conversation"
	"gemini-chatbot/internal/middleware"
	"gemini-chatbot/internal/models"
	"gemini-chatbot/internal/session"
)

type stubTokens struct {
	err error
}

func (s stubTokens) GenerateToken(id uuid.UUID) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return "token-" + id.String(), time.Now().Add(time.Hour), nil
}

func newHandler(client completion.Client) (*ChatHandler, *session.Manager) {
	mgr := session.NewManager(client, nil, time.Second, time.Hour)
	return NewChatHandler(mgr, stubTokens{}), mgr
}

// scopedRequest builds a request with the {id} route param and the
// conversation id the auth middleware would have attached.
func scopedRequest(method, routeID string, tokenID uuid.UUID, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, "/api/v1/conversations/"+routeID, &buf)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", routeID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return req.WithContext(context.WithValue(req.Context(), middleware.ConversationIDKey, tokenID))
}

func replyWith(text string) completion.Client {
	return completion.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return text, nil
	})
}

func TestCreateConversation(t *testing.T) {
	h, mgr := newHandler(replyWith("x"))

	rr := httptest.NewRecorder()
	h.CreateConversation(rr, httptest.NewRequest(http.MethodPost, "/api/v1/conversations", nil))

	require.Equal(t, http.StatusCreated, rr.Code)
	var resp models.CreateConversationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "token-"+resp.Conversation.ID.String(), resp.Token)
	require.Len(t, resp.Conversation.Messages, 1)
	assert.Equal(t, conversation.Greeting, resp.Conversation.Messages[0].Text)
	assert.False(t, resp.Conversation.Pending)
	assert.Equal(t, 1, mgr.Len())
}

func TestCreateConversation_TokenFailureDiscardsSession(t *testing.T) {
	mgr := session.NewManager(replyWith("x"), nil, time.Second, time.Hour)
	h := NewChatHandler(mgr, stubTokens{err: errors.New("signing broke")})

	rr := httptest.NewRecorder()
	h.CreateConversation(rr, httptest.NewRequest(http.MethodPost, "/api/v1/conversations", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 0, mgr.Len())
}

func TestSubmitMessage_HelloScenario(t *testing.T) {
	h, mgr := newHandler(replyWith("Hi there"))
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.SubmitMessage(rr, scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, models.SubmitRequest{Text: "Hello"}))

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp models.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Accepted)
	require.GreaterOrEqual(t, len(resp.Conversation.Messages), 2)
	assert.Equal(t, "Hello", resp.Conversation.Messages[1].Text)
	assert.Equal(t, models.SenderUser, resp.Conversation.Messages[1].Sender)

	sess.Store.Wait()
	final := sess.View()
	require.Len(t, final.Messages, 3)
	assert.Equal(t, "Hi there", final.Messages[2].Text)
	assert.False(t, final.Pending)
}

func TestSubmitMessage_FailureBecomesApology(t *testing.T) {
	h, mgr := newHandler(completion.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("403 API key invalid")
	}))
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.SubmitMessage(rr, scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, models.SubmitRequest{Text: "Test"}))
	require.Equal(t, http.StatusAccepted, rr.Code)

	sess.Store.Wait()
	final := sess.View()
	require.Len(t, final.Messages, 3)
	assert.Equal(t, conversation.ApologyText, final.Messages[2].Text)
	assert.Equal(t, models.SenderBot, final.Messages[2].Sender)
	assert.False(t, final.Pending)
}

func TestSubmitMessage_WhitespaceIsIgnored(t *testing.T) {
	h, mgr := newHandler(replyWith("never"))
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.SubmitMessage(rr, scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, models.SubmitRequest{Text: "   "}))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.Accepted)
	assert.Len(t, resp.Conversation.Messages, 1)
	assert.False(t, resp.Conversation.Pending)
}

func TestSubmitMessage_WhilePendingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	h, mgr := newHandler(completion.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		<-release
		return "done", nil
	}))
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.SubmitMessage(rr, scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, models.SubmitRequest{Text: "first"}))
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = httptest.NewRecorder()
	h.SubmitMessage(rr, scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, models.SubmitRequest{Text: "second"}))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.Accepted)
	assert.True(t, resp.Conversation.Pending)
	assert.Len(t, resp.Conversation.Messages, 2)

	close(release)
	sess.Store.Wait()
	assert.Len(t, sess.View().Messages, 3)
}

func TestSubmitMessage_InvalidBody(t *testing.T) {
	h, mgr := newHandler(replyWith("x"))
	sess := mgr.Create()

	req := scopedRequest(http.MethodPost, sess.ID.String(), sess.ID, nil)
	req.Body = http.NoBody
	rr := httptest.NewRecorder()
	h.SubmitMessage(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConversationRoutes_Authorization(t *testing.T) {
	h, mgr := newHandler(replyWith("x"))
	sess := mgr.Create()
	missing := uuid.New()

	tests := []struct {
		name       string
		routeID    string
		tokenID    uuid.UUID
		wantStatus int
	}{
		{"owner", sess.ID.String(), sess.ID, http.StatusOK},
		{"other conversation", sess.ID.String(), uuid.New(), http.StatusForbidden},
		{"malformed id", "not-a-uuid", sess.ID, http.StatusBadRequest},
		{"ended conversation", missing.String(), missing, http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.GetConversation(rr, scopedRequest(http.MethodGet, tc.routeID, tc.tokenID, nil))
			assert.Equal(t, tc.wantStatus, rr.Code)
		})
	}
}

func TestEndConversation(t *testing.T) {
	h, mgr := newHandler(replyWith("x"))
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.EndConversation(rr, scopedRequest(http.MethodDelete, sess.ID.String(), sess.ID, nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.GetConversation(rr, scopedRequest(http.MethodGet, sess.ID.String(), sess.ID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestErrorResponse_CarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()

	writeJSON(rr, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid input", req))

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
}
