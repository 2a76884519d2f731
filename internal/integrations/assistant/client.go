package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

const (
	// ConversationIDHeader carries a newly assigned conversation id on the
	// exchange response.
	ConversationIDHeader = "X-Conversation-Id"

	defaultTimeout = 10 * time.Second
)

// ExchangeRequest is the outbound payload of one exchange.
type ExchangeRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// Exchange is an accepted exchange whose body is still streaming. The caller
// owns Body and must close it.
type Exchange struct {
	ConversationID string
	Body           io.ReadCloser
}

// RatingRequest records satisfaction for a conversation.
type RatingRequest struct {
	ConversationID string `json:"conversationId"`
	Rating         int    `json:"rating"`
	Resolved       bool   `json:"resolved"`
}

// HTTPStatusError captures non-2xx responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistant: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the assistant collaborator: streamed exchanges, history and
// feedback.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets the client used for history and feedback calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithStreamHTTPClient sets the client used for exchanges. It should not
// carry an overall timeout; exchanges are bounded by their context.
func WithStreamHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.streamClient = httpClient
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("assistant: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("assistant: parse base URL: %w", err)
	}
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) chatURL() string {
	return c.baseURL + "/chat"
}

func (c *Client) conversationsURL() string {
	return c.baseURL + "/conversations"
}

func (c *Client) conversationURL(id string) string {
	return c.conversationsURL() + "/" + url.PathEscape(id)
}

// OpenExchange posts the message and returns once the collaborator accepted
// it. The response body is left open for the caller to stream.
func (c *Client) OpenExchange(ctx context.Context, in ExchangeRequest) (*Exchange, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("assistant: marshal exchange request: %w", err)
	}

	u := c.chatURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	res, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: exchange request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}

	return &Exchange{
		ConversationID: strings.TrimSpace(res.Header.Get(ConversationIDHeader)),
		Body:           res.Body,
	}, nil
}

// ListConversations returns every conversation visible to the caller, each
// with its ordered messages.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, c.conversationsURL(), nil, &out); err != nil {
		return nil, fmt.Errorf("assistant: list conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns the full message list of one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Conversation{}, errors.New("assistant: conversation id must not be empty")
	}
	var out domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, c.conversationURL(id), nil, &out); err != nil {
		return domain.Conversation{}, fmt.Errorf("assistant: get conversation: %w", err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

// SubmitRating records a rating for a conversation.
func (c *Client) SubmitRating(ctx context.Context, in RatingRequest) error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return errors.New("assistant: conversation id must not be empty")
	}
	if err := c.doJSON(ctx, http.MethodPut, c.conversationURL(in.ConversationID)+"/feedback", in, nil); err != nil {
		return fmt.Errorf("assistant: submit rating: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}
	if out == nil {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
