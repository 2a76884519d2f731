package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatRequest is the minimal request shape for a streamed Chat Completions call.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// moderationRequest is the request shape for the Moderations endpoint.
type moderationRequest struct {
	Input string `json:"input"`
}

// Getter reads a single SSM parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for streamed chat completions
// and moderation.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	getter       Getter
	paramPrefix  string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithStreamHTTPClient sets the client used for streamed completions. Its
// timeout bounds the whole answer, not just the first byte.
func WithStreamHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.streamClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on the first call to
// OpenChatStream or Moderate and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{Timeout: 2 * time.Minute},
		getter:       ps,
		paramPrefix:  paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the key once per process and caches the outcome,
// including a failure.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func apiURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + path
}

func chatURL(baseURL string) string {
	return apiURL(baseURL, "/chat/completions")
}

func moderationURL(baseURL string) string {
	return apiURL(baseURL, "/moderations")
}

// newAuthorizedRequest builds a JSON POST carrying the bearer key.
func newAuthorizedRequest(ctx context.Context, url, apiKey string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

// statusError drains a bounded prefix of a rejected response.
func statusError(res *http.Response, url string) *HTTPStatusError {
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
}

// OpenChatStream starts a streamed completion and returns the raw event
// stream once the upstream accepted the request. The caller must close it.
func (c *Client) OpenChatStream(ctx context.Context, model string, messages []domain.ChatMessage) (io.ReadCloser, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	url := chatURL(c.baseURL)
	req, err := newAuthorizedRequest(ctx, url, apiKey, chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("openai: chat request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	streamClient := c.streamClient
	if streamClient == nil {
		streamClient = c.resolvedHTTPClient()
	}
	res, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		return nil, fmt.Errorf("openai: request failed: %w", statusError(res, url))
	}
	return res.Body, nil
}

// Moderate reports whether the moderation endpoint flags input.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return false, err
	}

	url := moderationURL(c.baseURL)
	req, err := newAuthorizedRequest(ctx, url, apiKey, moderationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: moderation request: %w", err)
	}
	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", err)
	}

	if !gjson.ValidBytes(raw) {
		return false, fmt.Errorf("openai: decode moderation response: invalid JSON (%d bytes)", len(raw))
	}
	flagged := gjson.GetBytes(raw, "results.0.flagged")
	if !flagged.Exists() {
		return false, errors.New("openai: no results in moderation response")
	}
	return flagged.Bool(), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusError(res, url)
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// fetchAPIKeyFromParamStore reads the token parameter, stored as
// {"token":"..."}.
func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	if name = strings.TrimSpace(name); name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("openai: unmarshal paramstore token value %s: not valid JSON", name)
	}
	token := strings.TrimSpace(gjson.Get(raw, "token").String())
	if token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return token, nil
}
