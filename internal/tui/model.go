// Package tui is the terminal chat widget. Every state change goes through
// conversation.Transition; the completion call runs as a tea.Cmd so the
// event loop keeps rendering while a reply is pending.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/conversation"
	"gemini-chatbot/internal/models"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	chromeHeight  = 6 // header, separators, input line
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	botStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	buttonStyle  = lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("62")).Foreground(lipgloss.Color("#FFFDF5"))
	waitingStyle = lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("240")).Foreground(lipgloss.Color("#AFAFAF"))
)

// completionMsg carries the settled result of one completion call.
type completionMsg struct {
	text string
	err  error
}

type Options struct {
	ModelName string
	Timeout   time.Duration
}

type Model struct {
	conv    conversation.Conversation
	client  completion.Client
	opts    Options
	newID   func() string
	now     func() time.Time
	width   int
	height  int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
}

func New(client completion.Client, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type your message..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		client:  client,
		opts:    opts,
		newID:   uuid.NewString,
		now:     time.Now,
		input:   ti,
		spinner: sp,
	}
	m.conv = conversation.New(m.newID(), m.now())
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case completionMsg:
		next, ok := conversation.Transition(m.conv, conversation.Resolved{
			Text: msg.text,
			Err:  msg.err,
			ID:   m.newID(),
			At:   m.now(),
		})
		if ok {
			m.conv = next
			m.refresh()
		}
		return m, m.input.Focus()

	case spinner.TickMsg:
		if !m.conv.Pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	if m.conv.Pending {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	next, ok := conversation.Transition(m.conv, conversation.Submit{
		Text: text,
		ID:   m.newID(),
		At:   m.now(),
	})
	if !ok {
		return m, nil
	}

	m.conv = next
	m.input.Reset()
	m.input.Blur()
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, complete(m.client, m.opts.Timeout, text))
}

// complete issues the single completion for prompt and always yields a
// completionMsg.
func complete(client completion.Client, timeout time.Duration, prompt string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		text, err := completion.Safe(ctx, client, prompt)
		if err != nil {
			log.Error().Err(err).Msg("completion failed")
		}
		return completionMsg{text: text, err: err}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	vpHeight := height - chromeHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport = viewport.New(width, vpHeight)
	m.input.Width = width - 16

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable, showing raw text")
		r = nil
	}
	m.renderer = r
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.conv.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if m.conv.Pending {
		b.WriteString(botStyle.Render("Bot") + " " + m.spinner.View() + subtleStyle.Render(" typing..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg models.Message) string {
	stamp := subtleStyle.Render(msg.Timestamp.Format("15:04"))
	if msg.Sender == models.SenderUser {
		return userStyle.Render("You") + " " + stamp + "\n" + msg.Text + "\n"
	}

	body := msg.Text
	if m.renderer != nil {
		if out, err := m.renderer.Render(msg.Text); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}
	return botStyle.Render("Bot") + " " + stamp + "\n" + body + "\n"
}

func (m Model) View() string {
	title := headerStyle.Render("AI Chatbot")
	if m.opts.ModelName != "" {
		title += subtleStyle.Render("  Powered by Google Gemini (" + m.opts.ModelName + ")")
	}

	button := buttonStyle.Render("Send")
	if m.conv.Pending {
		button = waitingStyle.Render("Sending...")
	}

	rule := subtleStyle.Render(strings.Repeat("─", max(m.width, 1)))
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		rule,
		m.viewport.View(),
		rule,
		m.input.View()+" "+button,
		subtleStyle.Render("enter: send • pgup/pgdn: scroll • esc: quit"),
	)
}

// Conversation exposes the current state, mainly for tests.
func (m Model) Conversation() conversation.Conversation {
	return m.conv
}
