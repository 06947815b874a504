package models

const (
	EventMessage = "message"
	EventRenamed = "renamed"
	EventDeleted = "deleted"
)

// ChatEvent is pushed to websocket subscribers of a chat.
type ChatEvent struct {
	Type    string   `json:"type"`
	ChatID  string   `json:"chat_id"`
	Message *Message `json:"message,omitempty"`
	Title   string   `json:"title,omitempty"`
}

type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
