package domain

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus tracks where a transcript entry is in its lifecycle.
type MessageStatus string

const (
	// StatusPending marks an optimistic user message not yet accepted by the collaborator.
	StatusPending MessageStatus = "pending"
	// StatusStreaming marks the single assistant message receiving increments.
	StatusStreaming MessageStatus = "streaming"
	StatusFinal     MessageStatus = "final"
)

// Message is a single transcript entry.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`

	// Interrupted is set on an assistant message whose stream failed after
	// some content had already been applied.
	Interrupted bool `json:"interrupted,omitempty"`
}
