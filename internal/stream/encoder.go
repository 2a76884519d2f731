package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

type contentPayload struct {
	Content string `json:"content"`
}

type identityPayload struct {
	ConversationID string `json:"conversationId"`
}

// WriteContent writes one content increment unit.
func WriteContent(w io.Writer, text string) error {
	return writeJSON(w, contentPayload{Content: text})
}

// WriteIdentity writes the handshake unit announcing the conversation id.
// It must precede every content unit of the exchange.
func WriteIdentity(w io.Writer, conversationID string) error {
	return writeJSON(w, identityPayload{ConversationID: conversationID})
}

// WriteDone writes the terminal sentinel.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s\n\n", dataPrefix, Sentinel)
	return err
}

func writeJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s %s\n\n", dataPrefix, raw)
	return err
}
