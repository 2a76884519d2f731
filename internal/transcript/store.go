// Package transcript holds the ordered message list of the active
// conversation as an id-indexed arena with explicit status tags.
package transcript

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

var (
	ErrNotFound     = errors.New("transcript: message not found")
	ErrNotOpen      = errors.New("transcript: message is not open for increments")
	ErrNotRemovable = errors.New("transcript: only pending user messages can be removed")
)

// Handle identifies a provisional message.
type Handle string

type entry struct {
	msg domain.Message
}

// Store is safe for concurrent use. At most one entry has status
// streaming at any time.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	openID  string
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

var newID = func() string {
	return uuid.NewString()
}

// AppendProvisional appends a pending message and returns its handle.
func (s *Store) AppendProvisional(role domain.Role, text string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.appendLocked(role, text, domain.StatusPending)
	return Handle(id)
}

// Confirm marks a provisional message final once the collaborator accepted it.
func (s *Store) Confirm(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[string(h)]
	if !ok {
		return ErrNotFound
	}
	if e.msg.Status == domain.StatusPending {
		e.msg.Status = domain.StatusFinal
	}
	return nil
}

// Remove drops a pending user message. Nothing else in the store changes.
func (s *Store) Remove(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[string(h)]
	if !ok {
		return ErrNotFound
	}
	if e.msg.Role != domain.RoleUser || e.msg.Status != domain.StatusPending {
		return ErrNotRemovable
	}
	s.deleteLocked(string(h))
	return nil
}

// OpenAssistant appends an empty assistant message in the streaming state and
// returns its id. A previously open entry is closed as-is.
func (s *Store) OpenAssistant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[s.openID]; ok {
		prev.msg.Status = domain.StatusFinal
	}
	s.openID = s.appendLocked(domain.RoleAssistant, "", domain.StatusStreaming)
	return s.openID
}

// AppendIncrement concatenates text onto the open assistant message.
func (s *Store) AppendIncrement(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || id != s.openID {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	e := s.entries[id]
	e.msg.Content += text
	return nil
}

// Finalize closes the open assistant message.
func (s *Store) Finalize(id string, interrupted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.msg.Status = domain.StatusFinal
	e.msg.Interrupted = interrupted
	if s.openID == id {
		s.openID = ""
	}
	return nil
}

// Discard removes an open assistant placeholder that never received content.
func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if id != s.openID || e.msg.Content != "" {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	s.deleteLocked(id)
	return nil
}

// Replace swaps the whole transcript for msgs, dropping any open placeholder.
// Loaded messages are final.
func (s *Store) Replace(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for _, m := range msgs {
		if m.ID == "" || s.entries[m.ID] != nil {
			m.ID = newID()
		}
		m.Status = domain.StatusFinal
		s.entries[m.ID] = &entry{msg: m}
		s.order = append(s.order, m.ID)
	}
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Snapshot returns a copy of the messages in order.
func (s *Store) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].msg)
	}
	return out
}

// Get returns a copy of a single message.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.Message{}, false
	}
	return e.msg, true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// OpenID returns the id of the message receiving increments, if any.
func (s *Store) OpenID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID, s.openID != ""
}

func (s *Store) appendLocked(role domain.Role, text string, status domain.MessageStatus) string {
	id := newID()
	s.entries[id] = &entry{msg: domain.Message{
		ID:        id,
		Role:      role,
		Content:   text,
		Status:    status,
		CreatedAt: s.now().UTC(),
	}}
	s.order = append(s.order, id)
	return id
}

func (s *Store) deleteLocked(id string) {
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = slices.Delete(s.order, i, i+1)
			break
		}
	}
	if s.openID == id {
		s.openID = ""
	}
}

func (s *Store) resetLocked() {
	s.entries = make(map[string]*entry)
	s.order = nil
	s.openID = ""
}
