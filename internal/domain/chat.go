package domain

// ChatMessage is the provider-agnostic chat message shape used by the gateway
// and LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
