package domain

import (
	"errors"
	"time"
)

// ErrConversationNotFound is wrapped by stores that cannot find a
// conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is the active or loaded message list. ID stays empty until the
// collaborator confirms one.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Resolved  bool      `json:"resolved"`
	Rating    int       `json:"rating,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary is the listing shape shown when browsing history.
type ConversationSummary struct {
	ID                  string    `json:"id"`
	MessageCount        int       `json:"messageCount"`
	Resolved            bool      `json:"resolved"`
	Rating              int       `json:"rating,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	FirstMessagePreview string    `json:"firstMessagePreview"`
}

// StoredTurn is a single persisted question/answer pair.
type StoredTurn struct {
	PK             string
	SK             string
	ConversationID string
	Text           string
	Answer         string
	Status         string
	CreatedAt      string
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	CreatedAt      string
	LastActivity   string
	Turns          int
	Resolved       bool
	Rating         int
}
