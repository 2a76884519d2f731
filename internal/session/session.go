// Package session drives one conversation with the assistant: it sends a
// message, streams the reply into the transcript and resolves or reverts the
// exchange when the stream ends.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/feedback"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/integrations/assistant"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/registry"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/stream"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/transcript"
)

// Transport opens a streamed exchange with the collaborator.
type Transport interface {
	OpenExchange(ctx context.Context, in assistant.ExchangeRequest) (*assistant.Exchange, error)
}

// FeedbackSubmitter records a rating with the collaborator.
type FeedbackSubmitter interface {
	SubmitRating(ctx context.Context, in assistant.RatingRequest) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

var errAbandoned = errors.New("session: exchange abandoned")

// Session is an explicit, caller-owned conversation session. New is its
// init; Dispose ends it. All methods are safe for concurrent use; at most one
// exchange is in flight at a time.
type Session struct {
	transport Transport
	feedback  FeedbackSubmitter
	store     *transcript.Store
	registry  *registry.Registry
	gate      *feedback.Gate
	logger    *slog.Logger
	listener  Listener
	threshold int

	mu     sync.Mutex
	state  State
	epoch  uint64
	cancel context.CancelFunc
	closed bool
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithListener(l Listener) Option {
	return func(s *Session) {
		s.listener = l
	}
}

// WithFeedbackThreshold sets the message count at which the rating prompt is
// offered. Non-positive values keep feedback.DefaultThreshold.
func WithFeedbackThreshold(n int) Option {
	return func(s *Session) {
		s.threshold = n
	}
}

// New creates an idle Session with an empty transcript and no conversation id.
func New(t Transport, h registry.HistoryReader, f FeedbackSubmitter, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, errors.New("session: transport must not be nil")
	}
	if f == nil {
		return nil, errors.New("session: feedback submitter must not be nil")
	}
	store := transcript.New()
	reg, err := registry.New(h, store)
	if err != nil {
		return nil, err
	}
	s := &Session{
		transport: t,
		feedback:  f,
		store:     store,
		registry:  reg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.gate = feedback.NewGate(s.threshold, feedback.WithObserver(func(from, to feedback.State) {
		s.logger.Debug("feedback gate transition", "from", from.String(), "to", to.String())
	}))
	return s, nil
}

// Send runs one exchange to completion. It returns once the stream ended,
// failed or was abandoned by Load, StartNew or Dispose.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newError(ErrorClosed, "session_disposed", nil)
	}
	if s.state != Idle {
		s.mu.Unlock()
		return newError(ErrorBusy, "exchange_in_flight", nil)
	}
	handle := s.store.AppendProvisional(domain.RoleUser, text)
	convID, known := s.registry.Active()
	s.epoch++
	epoch := s.epoch
	exCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(Sending)
	s.mu.Unlock()
	defer cancel()

	ex, err := s.transport.OpenExchange(exCtx, assistant.ExchangeRequest{
		ConversationID: convID,
		Message:        text,
	})
	if err != nil {
		return s.revert(epoch, handle, "", newError(ErrorTransport, transportReason("request_rejected", err), err))
	}
	defer func() { _ = ex.Body.Close() }()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(ErrorAbandoned, "conversation_switched", nil)
	}
	assistantID := s.store.OpenAssistant()
	s.setStateLocked(Streaming)
	s.mu.Unlock()

	var (
		partial  strings.Builder
		identity string
	)
	readErr := stream.ReadFrames(exCtx, ex.Body, func(f domain.Frame) error {
		switch f.Kind {
		case domain.FrameContent:
			if err := s.applyIncrement(epoch, handle, assistantID, f.Text); err != nil {
				return err
			}
			partial.WriteString(f.Text)
			s.emit(Event{Kind: EventIncrement, MessageID: assistantID, Text: f.Text})
		case domain.FrameIdentity:
			if identity == "" {
				identity = f.ConversationID
			}
		case domain.FrameMalformed:
			s.logger.Debug("skipping malformed frame", "payload", f.Raw)
		}
		return nil
	})

	switch {
	case readErr == nil:
		return s.complete(epoch, handle, assistantID, known, ex.ConversationID, identity)
	case errors.Is(readErr, errAbandoned) || s.abandoned(epoch):
		return newError(ErrorAbandoned, "conversation_switched", readErr)
	case partial.Len() == 0:
		return s.revert(epoch, handle, assistantID, newError(ErrorTransport, "stream_failed", readErr))
	default:
		return s.interrupt(epoch, assistantID, partial.String(), readErr)
	}
}

func (s *Session) applyIncrement(epoch uint64, handle transcript.Handle, assistantID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return errAbandoned
	}
	// The first applied content makes the user message permanent.
	if err := s.store.Confirm(handle); err != nil {
		return err
	}
	return s.store.AppendIncrement(assistantID, text)
}

func (s *Session) complete(epoch uint64, handle transcript.Handle, assistantID string, known bool, headerID, frameID string) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(ErrorAbandoned, "conversation_switched", nil)
	}
	_ = s.store.Confirm(handle)
	_ = s.store.Finalize(assistantID, false)

	if !known {
		id := headerID
		if id == "" {
			id = frameID
		}
		if id == "" {
			s.logger.Warn("exchange completed without a conversation id")
		} else if s.registry.Capture(id) {
			s.logger.Info("conversation established", "conversation_id", id)
		}
	}
	convID, _ := s.registry.Active()
	prompt := s.gate.Evaluate(s.store.Len())
	s.setStateLocked(Idle)
	s.cancel = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventCompleted, MessageID: assistantID, ConversationID: convID})
	if prompt {
		s.emit(Event{Kind: EventFeedbackPrompt, ConversationID: convID})
	}
	return nil
}

// revert undoes an exchange that never applied content: the provisional user
// message and the empty placeholder are removed and nothing else changes.
func (s *Session) revert(epoch uint64, handle transcript.Handle, assistantID string, cause *Error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(ErrorAbandoned, "conversation_switched", cause.Err)
	}
	if assistantID != "" {
		if err := s.store.Discard(assistantID); err != nil {
			s.logger.Error("failed to discard assistant placeholder", "err", err)
		}
	}
	if err := s.store.Remove(handle); err != nil {
		s.logger.Error("failed to remove provisional message", "err", err)
	}
	s.setStateLocked(Failed)
	s.setStateLocked(Idle)
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Warn("exchange failed", "reason", cause.Reason, "err", cause.Err)
	s.emit(Event{Kind: EventFailed, Err: cause})
	return cause
}

// interrupt closes an exchange that failed after content was applied. The
// partial answer is kept and flagged; no id is captured and the feedback gate
// is not evaluated.
func (s *Session) interrupt(epoch uint64, assistantID, partial string, readErr error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(ErrorAbandoned, "conversation_switched", readErr)
	}
	_ = s.store.Finalize(assistantID, true)
	s.setStateLocked(Failed)
	s.setStateLocked(Idle)
	s.cancel = nil
	s.mu.Unlock()

	cause := &Error{Code: ErrorTransport, Reason: "stream_interrupted", Err: readErr, Partial: partial}
	s.logger.Warn("exchange interrupted", "partial_len", len(partial), "err", readErr)
	s.emit(Event{Kind: EventFailed, MessageID: assistantID, Err: cause})
	return cause
}

// Rate submits a 1..5 rating for the prompted conversation. Without a
// conversation id the rating is kept locally only.
func (s *Session) Rate(ctx context.Context, stars int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newError(ErrorClosed, "session_disposed", nil)
	}
	if err := s.gate.Rate(stars); err != nil {
		s.mu.Unlock()
		if errors.Is(err, feedback.ErrInvalidRating) {
			return newError(ErrorInvalidRating, "rating_out_of_range", err)
		}
		return newError(ErrorFeedbackNotOffered, "gate_not_prompted", err)
	}
	s.registry.MarkRated(stars)
	id, ok := s.registry.Active()
	s.mu.Unlock()

	if !ok {
		s.logger.Info("rating recorded locally; no conversation id", "rating", stars)
		return nil
	}
	if err := s.feedback.SubmitRating(ctx, assistant.RatingRequest{
		ConversationID: id,
		Rating:         stars,
		Resolved:       true,
	}); err != nil {
		return newError(ErrorUpstream, "rating_submit_failed", err)
	}
	return nil
}

// DismissFeedback closes the rating prompt without a rating.
func (s *Session) DismissFeedback() error {
	if err := s.gate.Dismiss(); err != nil {
		return newError(ErrorFeedbackNotOffered, "gate_not_prompted", err)
	}
	return nil
}

// Conversations lists prior conversations.
func (s *Session) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	out, err := s.registry.List(ctx)
	if err != nil {
		return nil, newError(ErrorUpstream, "history_list_failed", err)
	}
	return out, nil
}

// Load replaces the active conversation with id. An in-flight exchange is
// cancelled and its placeholder discarded.
func (s *Session) Load(ctx context.Context, id string) error {
	if s.isClosed() {
		return newError(ErrorClosed, "session_disposed", nil)
	}
	conv, err := s.registry.Fetch(ctx, id)
	if err != nil {
		return newError(ErrorUpstream, "history_fetch_failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(ErrorClosed, "session_disposed", nil)
	}
	s.abortLocked()
	s.registry.Replace(conv)
	s.gate.Reset(conv.Rating)
	s.logger.Info("conversation loaded", "conversation_id", conv.ID, "messages", len(conv.Messages))
	return nil
}

// StartNew drops the active conversation without contacting the collaborator.
func (s *Session) StartNew() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.registry.StartNew()
	s.gate.Reset(0)
}

// Dispose cancels any in-flight exchange. Every later call fails.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.abortLocked()
	s.closed = true
}

// State returns the exchange state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a snapshot of the active transcript.
func (s *Session) Transcript() []domain.Message {
	return s.store.Snapshot()
}

// Conversation returns the active conversation.
func (s *Session) Conversation() domain.Conversation {
	return s.registry.Current()
}

// ConversationID returns the active conversation id, if one was negotiated
// or loaded.
func (s *Session) ConversationID() (string, bool) {
	return s.registry.Active()
}

// FeedbackState returns the rating prompt state.
func (s *Session) FeedbackState() feedback.State {
	return s.gate.State()
}

func (s *Session) abortLocked() {
	if s.state == Idle {
		return
	}
	s.epoch++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Info("abandoning in-flight exchange", "state", s.state.String())
	s.setStateLocked(Idle)
}

func (s *Session) abandoned(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
}

func (s *Session) emit(e Event) {
	if s.listener != nil {
		s.listener(e)
	}
}

func transportReason(fallback string, err error) string {
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return "rate_limited"
	}
	return fallback
}
