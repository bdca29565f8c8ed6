package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/config"
	"gemini-chatbot/internal/tui"
)

func main() {
	cfg := config.Load()

	// The terminal belongs to the UI; logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if cfg.ChatLogFile != "" {
		f, err := os.OpenFile(cfg.ChatLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	gemini, err := completion.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gemini client initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer gemini.Close()

	m := tui.New(gemini, tui.Options{
		ModelName: gemini.ModelName(),
		Timeout:   cfg.CompletionTimeout,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Error().Err(err).Msg("chat UI exited with error")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
