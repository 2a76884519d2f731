// Package feedback decides when a satisfaction rating is offered for the
// active conversation.
package feedback

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultThreshold is the message count (two user/assistant exchanges) at
// which the rating prompt is offered.
const DefaultThreshold = 4

// State is a Gate state.
type State int

const (
	Inactive State = iota
	Eligible
	Prompted
	Rated
	Dismissed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Eligible:
		return "eligible"
	case Prompted:
		return "prompted"
	case Rated:
		return "rated"
	case Dismissed:
		return "dismissed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotPrompted   = errors.New("feedback: no rating prompt is open")
	ErrInvalidRating = errors.New("feedback: rating must be between 1 and 5")
)

// Gate offers the rating prompt at most once per loaded conversation. It does
// not re-arm after a rating or a dismissal.
type Gate struct {
	mu        sync.Mutex
	threshold int
	state     State
	rating    int
	observe   func(from, to State)
}

type Option func(*Gate)

// WithObserver registers fn to be called on every state transition. fn runs
// with the gate locked and must not call back into it.
func WithObserver(fn func(from, to State)) Option {
	return func(g *Gate) {
		g.observe = fn
	}
}

// NewGate returns an Inactive gate. A non-positive threshold falls back to
// DefaultThreshold.
func NewGate(threshold int, opts ...Option) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	g := &Gate{threshold: threshold}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate is called after an exchange finalizes. It reports true exactly
// when the gate moves Inactive -> Eligible -> Prompted.
func (g *Gate) Evaluate(messageCount int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Inactive || messageCount < g.threshold {
		return false
	}
	g.moveLocked(Eligible)
	// The prompt is shown as soon as the gate is eligible.
	g.moveLocked(Prompted)
	return true
}

// Rate records a 1..5 star rating for the open prompt.
func (g *Gate) Rate(stars int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Prompted {
		return ErrNotPrompted
	}
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	g.moveLocked(Rated)
	g.rating = stars
	return nil
}

// Dismiss closes the open prompt without a rating.
func (g *Gate) Dismiss() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Prompted {
		return ErrNotPrompted
	}
	g.moveLocked(Dismissed)
	return nil
}

// Reset rearms the gate for a different conversation. A conversation loaded
// with an existing rating starts as Rated.
func (g *Gate) Reset(rating int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.moveLocked(Inactive)
	g.rating = 0
	if rating > 0 {
		g.moveLocked(Rated)
		g.rating = rating
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Rating returns the recorded rating, 0 if none.
func (g *Gate) Rating() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rating
}

// Threshold returns the configured message count threshold.
func (g *Gate) Threshold() int {
	return g.threshold
}

func (g *Gate) moveLocked(to State) {
	from := g.state
	g.state = to
	if g.observe != nil && from != to {
		g.observe(from, to)
	}
}
