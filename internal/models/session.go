package models

import "time"

// MessageRole is the author of a persisted conversation message.
type MessageRole string

const (
	RoleSystem   MessageRole = "system"
	RoleHuman    MessageRole = "human"
	RoleAI       MessageRole = "ai"
	RoleFunction MessageRole = "function"
)

// Session is a persisted chat conversation about one repository.
type Session struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one entry in a session's history.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
