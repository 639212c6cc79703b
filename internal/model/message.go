// Package model defines data structures shared across the relay.
package model

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a conversation history, in the order/content
// form the completion API consumes. Immutable once appended to a session.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
