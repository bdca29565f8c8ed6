package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/config"
	"gemini-chatbot/internal/database"
	"gemini-chatbot/internal/handlers"
	"gemini-chatbot/internal/middleware"
	"gemini-chatbot/internal/models"
	"gemini-chatbot/internal/router"
	"gemini-chatbot/internal/session"
	"gemini-chatbot/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("env", cfg.Env).Msg("environment variables loaded")

	// ──── Step 2: Initialize Redis Clients (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		var err error
		redisClients, err = database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer redisClients.Close()
		log.Info().Msg("Redis connected, updates fan out through pub/sub")
	} else {
		log.Info().Msg("REDIS_URL not set, updates stay in-process")
	}

	// ──── Step 3: Initialize Gemini Client ────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gemini, err := completion.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Gemini client initialization failed")
	}
	defer gemini.Close()
	log.Info().Str("model", gemini.ModelName()).Msg("Gemini client initialized")

	// ──── Step 4: Sessions and WebSocket Hub ────
	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret, cfg.SessionTTL)

	var sessions *session.Manager
	wsHub := websocket.NewHub(redisClients, sessionAuth, func(id uuid.UUID) (models.ConversationView, bool) {
		return sessions.Lookup(id)
	})
	defer wsHub.Close()

	sessions = session.NewManager(gemini, wsHub, cfg.CompletionTimeout, cfg.SessionIdle)
	sessions.StartEvictionLoop(ctx, time.Minute)
	log.Info().Dur("idle_limit", cfg.SessionIdle).Msg("session manager started")

	// ──── Step 5: Start HTTP Server ────
	chatHandler := handlers.NewChatHandler(sessions, sessionAuth)
	r := router.New(sessionAuth, chatHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)).
		Str("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)).
		Msg("chat backend ready")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
