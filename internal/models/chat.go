package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message represents a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationView is the wire representation of a conversation snapshot.
type ConversationView struct {
	ID       uuid.UUID `json:"id"`
	Messages []Message `json:"messages"`
	Pending  bool      `json:"pending"`
}

// SubmitRequest is the payload sent to the message endpoint.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse reports whether the submission started an exchange.
type SubmitResponse struct {
	Accepted     bool             `json:"accepted"`
	Conversation ConversationView `json:"conversation"`
}

// CreateConversationResponse carries the new conversation and its session token.
type CreateConversationResponse struct {
	Conversation ConversationView `json:"conversation"`
	Token        string           `json:"token"`
	ExpiresAt    time.Time        `json:"expires_at"`
}
