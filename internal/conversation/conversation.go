// Package conversation holds the message-exchange state machine shared by the
// HTTP server and the terminal widget.
//
// A Conversation is a value. Transition never modifies its input; it returns
// the next value, so any snapshot handed out earlier stays valid.
package conversation

import (
	"strings"
	"time"

	"gemini-chatbot/internal/models"
)

const (
	Greeting    = "Hello! I'm your AI chatbot. How can I help you today?"
	ApologyText = "Sorry, I encountered an error. Please try again."
)

type Conversation struct {
	Messages []models.Message
	Pending  bool
}

// New returns a conversation seeded with the bot greeting.
func New(greetingID string, at time.Time) Conversation {
	return Conversation{
		Messages: []models.Message{{
			ID:        greetingID,
			Text:      Greeting,
			Sender:    models.SenderBot,
			Timestamp: at,
		}},
	}
}

// Len returns the number of messages.
func (c Conversation) Len() int { return len(c.Messages) }

// Last returns the most recent message.
func (c Conversation) Last() models.Message {
	if len(c.Messages) == 0 {
		return models.Message{}
	}
	return c.Messages[len(c.Messages)-1]
}

// Event is either Submit or Resolved.
type Event interface {
	isEvent()
}

// Submit asks to start an exchange with the raw user text.
type Submit struct {
	Text string
	ID   string
	At   time.Time
}

// Resolved settles the in-flight exchange. Err non-nil means failure.
type Resolved struct {
	Text string
	Err  error
	ID   string
	At   time.Time
}

func (Submit) isEvent()   {}
func (Resolved) isEvent() {}

// Transition applies ev to c. The second result reports whether the event
// changed anything; an accepted Submit obliges the caller to issue exactly
// one completion for the submitted text.
func Transition(c Conversation, ev Event) (Conversation, bool) {
	switch e := ev.(type) {
	case Submit:
		if c.Pending || strings.TrimSpace(e.Text) == "" {
			return c, false
		}
		return Conversation{
			Messages: appendMessage(c.Messages, models.Message{
				ID:        e.ID,
				Text:      e.Text,
				Sender:    models.SenderUser,
				Timestamp: e.At,
			}),
			Pending: true,
		}, true

	case Resolved:
		if !c.Pending {
			return c, false
		}
		text := e.Text
		if e.Err != nil {
			text = ApologyText
		}
		return Conversation{
			Messages: appendMessage(c.Messages, models.Message{
				ID:        e.ID,
				Text:      text,
				Sender:    models.SenderBot,
				Timestamp: e.At,
			}),
			Pending: false,
		}, true
	}

	return c, false
}

// appendMessage copies so the caller's backing array is never shared.
func appendMessage(msgs []models.Message, m models.Message) []models.Message {
	out := make([]models.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}
