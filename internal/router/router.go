package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"gemini-chatbot/internal/handlers"
	"gemini-chatbot/internal/middleware"
	"gemini-chatbot/internal/websocket"
)

func New(
	sessionAuth *middleware.SessionAuth,
	chatHandler *handlers.ChatHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Conversation Routes ────
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", chatHandler.CreateConversation) // Public, issues the session token

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Middleware)
				r.Get("/{id}", chatHandler.GetConversation)
				r.Post("/{id}/messages", chatHandler.SubmitMessage)
				r.Delete("/{id}", chatHandler.EndConversation)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
