package models

// WebSocket message types
const (
	WSTypeSnapshot = "conversation_snapshot"
	WSTypeUpdate   = "conversation_update"
	WSTypeEnded    = "conversation_ended"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
