package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/stream"
)

const (
	defaultMaxContext    = 20
	defaultMaxMessage    = 2000
	maxConversationTurns = 50
	statusComplete       = "complete"

	paramSystemPrompt  = "/system_prompt"
	paramSchoolContext = "/school_context"
	paramModel         = "/config/openai_model"
)

type ParamReader interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	OpenChatStream(ctx context.Context, model string, messages []domain.ChatMessage) (io.ReadCloser, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type ConversationStore interface {
	GetConversationMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, bool, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.StoredTurn, error)
	GetTurns(ctx context.Context, conversationID string) ([]domain.StoredTurn, error)
	SaveCompletedTurn(ctx context.Context, conversationID, question, answer string) error
	ListConversationMetas(ctx context.Context) ([]domain.ConversationMeta, error)
	RecordFeedback(ctx context.Context, conversationID string, rating int, resolved bool) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService answers one message per call as a stream of frames and serves
// the stored conversation history.
type ChatService struct {
	params          ParamReader
	llm             LLMClient
	store           ConversationStore
	logger          *slog.Logger
	paramPrefix     string
	maxContextItems int
	maxMessageLen   int

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	systemPrompt  string
	schoolContext string
	openaiModel   string
}

type ChatInput struct {
	ConversationID string
	Message        string
}

// ChatStream is an accepted exchange. Body yields the identity frame, content
// frames and the sentinel; it fails without a sentinel if the upstream
// breaks or the turn cannot be stored. The caller must close Body.
type ChatStream struct {
	ConversationID string
	Body           io.ReadCloser
}

type Option func(*ChatService)

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewChatService(p ParamReader, llm LLMClient, store ConversationStore, paramPrefix string, maxContextItems, maxMessageLen int, opts ...Option) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param reader must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	s := &ChatService{
		params:          p,
		llm:             llm,
		store:           store,
		logger:          slog.Default(),
		paramPrefix:     paramPrefix,
		maxContextItems: maxContextItems,
		maxMessageLen:   maxMessageLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stream validates and moderates the message, then opens the upstream
// completion. Errors before the upstream accepts are returned directly; after
// that they surface on Body.
func (s *ChatService) Stream(ctx context.Context, in ChatInput) (ChatStream, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatStream{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatStream{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatStream{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	convID := strings.TrimSpace(in.ConversationID)
	var history []domain.StoredTurn
	if convID == "" {
		convID = newUUID()
	} else {
		meta, found, err := s.store.GetConversationMeta(ctx, convID)
		if err != nil {
			return ChatStream{}, newError(ErrorInternal, "dynamodb_meta_error", err)
		}
		if found && meta.Turns >= maxConversationTurns {
			return ChatStream{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
		}
		if found {
			history, err = s.store.GetHistory(ctx, convID, s.maxContextItems)
			if err != nil {
				return ChatStream{}, newError(ErrorInternal, "dynamodb_history_error", err)
			}
		}
	}

	flagged, err := s.llm.Moderate(ctx, message)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ChatStream{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return ChatStream{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return ChatStream{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
	}

	pc := s.currentPrompt()
	upstream, err := s.llm.OpenChatStream(ctx, pc.model, buildPromptMessages(pc.promptContext, message, history))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ChatStream{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return ChatStream{}, newError(ErrorUpstream, "openai_error", err)
	}

	pr, pw := io.Pipe()
	go s.relay(ctx, pw, upstream, convID, message)
	return ChatStream{ConversationID: convID, Body: pr}, nil
}

// relay re-frames upstream deltas for the client and stores the completed
// turn before writing the sentinel.
func (s *ChatService) relay(ctx context.Context, pw *io.PipeWriter, upstream io.ReadCloser, convID, message string) {
	defer func() { _ = upstream.Close() }()
	logger := s.logger.With("conversationId", convID)

	if err := stream.WriteIdentity(pw, convID); err != nil {
		pw.CloseWithError(err)
		return
	}

	var answer strings.Builder
	err := stream.ReadFrames(ctx, upstream, func(f domain.Frame) error {
		switch f.Kind {
		case domain.FrameContent:
			answer.WriteString(f.Text)
			return stream.WriteContent(pw, f.Text)
		case domain.FrameMalformed:
			logger.Debug("skipping malformed upstream frame", "raw", f.Raw)
		}
		return nil
	})
	if err != nil {
		logger.Warn("upstream stream failed", "err", err, "partialLength", answer.Len())
		pw.CloseWithError(fmt.Errorf("usecase: relay: %w", err))
		return
	}

	if err := s.store.SaveCompletedTurn(ctx, convID, message, answer.String()); err != nil {
		logger.Error("failed to store completed turn", "err", err)
		pw.CloseWithError(newError(ErrorInternal, "dynamodb_write_error", err))
		return
	}
	if err := stream.WriteDone(pw); err != nil {
		pw.CloseWithError(err)
		return
	}
	_ = pw.Close()
}

// List returns every stored conversation with its messages, newest first.
func (s *ChatService) List(ctx context.Context) ([]domain.Conversation, error) {
	metas, err := s.store.ListConversationMetas(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_list_error", err)
	}
	out := make([]domain.Conversation, 0, len(metas))
	for _, meta := range metas {
		turns, err := s.store.GetTurns(ctx, meta.ConversationID)
		if err != nil {
			return nil, newError(ErrorInternal, "dynamodb_turns_error", err)
		}
		out = append(out, toConversation(meta, turns))
	}
	return out, nil
}

// Get returns one conversation with its ordered messages.
func (s *ChatService) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	meta, found, err := s.store.GetConversationMeta(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "dynamodb_meta_error", err)
	}
	if !found {
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	turns, err := s.store.GetTurns(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "dynamodb_turns_error", err)
	}
	return toConversation(meta, turns), nil
}

// Rate stores a 1..5 rating and the resolved flag on a conversation.
func (s *ChatService) Rate(ctx context.Context, conversationID string, rating int, resolved bool) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if rating < 1 || rating > 5 {
		return newError(ErrorInvalidInput, "rating_out_of_range", nil)
	}
	if err := s.store.RecordFeedback(ctx, conversationID, rating, resolved); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return newError(ErrorNotFound, "conversation_not_found", err)
		}
		return newError(ErrorInternal, "dynamodb_feedback_error", err)
	}
	return nil
}

type resolvedPrompt struct {
	promptContext
	model string
}

func (s *ChatService) currentPrompt() resolvedPrompt {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return resolvedPrompt{
		promptContext: promptContext{
			systemPrompt:  s.systemPrompt,
			schoolContext: s.schoolContext,
		},
		model: s.openaiModel,
	}
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	names := []string{
		s.paramPrefix + paramSystemPrompt,
		s.paramPrefix + paramSchoolContext,
		s.paramPrefix + paramModel,
	}
	values, err := s.params.GetParameters(ctx, names...)
	if err != nil {
		return fmt.Errorf("usecase: load parameters: %w", err)
	}
	model := strings.TrimSpace(values[names[2]])
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	s.systemPrompt = values[names[0]]
	s.schoolContext = values[names[1]]
	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func toConversation(meta domain.ConversationMeta, turns []domain.StoredTurn) domain.Conversation {
	msgs := make([]domain.Message, 0, 2*len(turns))
	for _, t := range turns {
		at := parseTime(t.CreatedAt)
		msgs = append(msgs,
			domain.Message{ID: t.SK + "#user", Role: domain.RoleUser, Content: t.Text, Status: domain.StatusFinal, CreatedAt: at},
			domain.Message{ID: t.SK + "#assistant", Role: domain.RoleAssistant, Content: t.Answer, Status: domain.StatusFinal, CreatedAt: at},
		)
	}
	return domain.Conversation{
		ID:        meta.ConversationID,
		Messages:  msgs,
		Resolved:  meta.Resolved,
		Rating:    meta.Rating,
		CreatedAt: parseTime(meta.CreatedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
