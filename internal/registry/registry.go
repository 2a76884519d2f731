// Package registry tracks the active conversation and lets callers browse and
// load prior ones.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/transcript"
)

const previewLength = 80

// HistoryReader is the collaborator history endpoint.
type HistoryReader interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
}

// Registry owns the active conversation id and the transcript it belongs to.
// The id is absent until the first exchange completes or a conversation is
// loaded.
type Registry struct {
	history HistoryReader
	store   *transcript.Store

	mu       sync.RWMutex
	activeID string
	resolved bool
	rating   int
}

// New returns a Registry replacing contents of store on Load and StartNew.
func New(history HistoryReader, store *transcript.Store) (*Registry, error) {
	if history == nil {
		return nil, errors.New("registry: history reader must not be nil")
	}
	if store == nil {
		return nil, errors.New("registry: transcript store must not be nil")
	}
	return &Registry{history: history, store: store}, nil
}

// Active returns the active conversation id.
func (r *Registry) Active() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID, r.activeID != ""
}

// Capture records an id confirmed by the collaborator. The first id wins;
// it reports whether id became the active one.
func (r *Registry) Capture(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID != "" {
		return false
	}
	r.activeID = id
	return true
}

// MarkRated records a rating on the active conversation.
func (r *Registry) MarkRated(rating int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rating = rating
	r.resolved = true
}

// Current returns the active conversation with a snapshot of its messages.
func (r *Registry) Current() domain.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Conversation{
		ID:       r.activeID,
		Messages: r.store.Snapshot(),
		Resolved: r.resolved,
		Rating:   r.rating,
	}
}

// List returns summaries of every prior conversation.
func (r *Registry) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	convs, err := r.history.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, Summarize(c))
	}
	return out, nil
}

// Fetch returns the full conversation without touching the active one.
func (r *Registry) Fetch(ctx context.Context, id string) (domain.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Conversation{}, errors.New("registry: conversation id must not be empty")
	}
	conv, err := r.history.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("registry: fetch %q: %w", id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	return conv, nil
}

// Load fetches id and makes it the active conversation.
func (r *Registry) Load(ctx context.Context, id string) (domain.Conversation, error) {
	conv, err := r.Fetch(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	r.Replace(conv)
	return conv, nil
}

// Replace swaps the transcript and active id for conv in one step.
func (r *Registry) Replace(conv domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Replace(conv.Messages)
	r.activeID = conv.ID
	r.resolved = conv.Resolved
	r.rating = conv.Rating
}

// StartNew clears the transcript and the active id. The collaborator is not
// contacted; the next exchange negotiates a new id.
func (r *Registry) StartNew() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Reset()
	r.activeID = ""
	r.resolved = false
	r.rating = 0
}

// Summarize builds the listing shape for a conversation.
func Summarize(c domain.Conversation) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:                  c.ID,
		MessageCount:        len(c.Messages),
		Resolved:            c.Resolved,
		Rating:              c.Rating,
		CreatedAt:           c.CreatedAt,
		FirstMessagePreview: preview(c.Messages),
	}
}

func preview(msgs []domain.Message) string {
	for _, m := range msgs {
		if m.Role != domain.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Content), " ")
		runes := []rune(text)
		if len(runes) <= previewLength {
			return text
		}
		return string(runes[:previewLength-1]) + "…"
	}
	return ""
}
