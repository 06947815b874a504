package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role tags the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of a chat. ID orders messages within a chat.
type Message struct {
	ID      int64     `json:"-"`
	ChatID  string    `json:"-"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Chat is a conversation thread with its messages in conversation order.
// Found is false when the chat does not exist; callers render that as an empty object.
type Chat struct {
	ID        string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"-"`
	Messages  []Message `json:"messages"`
	Found     bool      `json:"-"`
}

type ChatSummary struct {
	ID        string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatList encodes as a JSON object keyed by chat id, keeping slice order
// (newest first) instead of encoding/json's sorted map keys.
type ChatList []ChatSummary

func (l ChatList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
	VIP     bool   `json:"vip"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

type NewChatResponse struct {
	ChatID string `json:"chat_id"`
}

type RenameChatRequest struct {
	Title string `json:"title"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
