package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks messages typed or spoken by the user.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the backend.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsAssistant reports whether the message was authored by the assistant.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Conversation groups messages for one chat session.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// Tail returns the last n messages, oldest first.
func Tail(messages []Message, n int) []Message {
	if n <= 0 || n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}

// WithUtterance appends the user's utterance unless it already is the tail.
func WithUtterance(history []Message, utterance Message) []Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == RoleUser && (last.ID == utterance.ID || last.Content == utterance.Content) {
			return history
		}
	}
	out := make([]Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, utterance)
}
