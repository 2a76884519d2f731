package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/usecase"
)

const (
	correlationHeader    = "X-Correlation-Id"
	conversationIDHeader = "X-Conversation-Id"
)

type ChatUseCase interface {
	Stream(ctx context.Context, in usecase.ChatInput) (usecase.ChatStream, error)
	List(ctx context.Context) ([]domain.Conversation, error)
	Get(ctx context.Context, conversationID string) (domain.Conversation, error)
	Rate(ctx context.Context, conversationID string, rating int, resolved bool) error
}

type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type feedbackRequest struct {
	ConversationID string `json:"conversationId"`
	Rating         int    `json:"rating"`
	Resolved       bool   `json:"resolved"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle routes a function URL invocation. Failures are always rendered as a
// response; the returned error is reserved for the runtime.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlationId", correlationID)

	method := req.RequestContext.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}
	segments := splitPath(req.RawPath)

	switch {
	case len(segments) == 1 && segments[0] == "chat":
		if method != http.MethodPost {
			return methodNotAllowed(correlationID, http.MethodPost), nil
		}
		return h.chat(ctx, logger, correlationID, req), nil

	case len(segments) == 1 && segments[0] == "conversations":
		if method != http.MethodGet {
			return methodNotAllowed(correlationID, http.MethodGet), nil
		}
		convs, err := h.uc.List(ctx)
		if err != nil {
			return h.failure(logger, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, convs), nil

	case len(segments) == 2 && segments[0] == "conversations":
		if method != http.MethodGet {
			return methodNotAllowed(correlationID, http.MethodGet), nil
		}
		conv, err := h.uc.Get(ctx, segments[1])
		if err != nil {
			return h.failure(logger, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, conv), nil

	case len(segments) == 3 && segments[0] == "conversations" && segments[2] == "feedback":
		if method != http.MethodPut {
			return methodNotAllowed(correlationID, http.MethodPut), nil
		}
		return h.feedback(ctx, logger, correlationID, segments[1], req), nil
	}

	return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: string(usecase.ErrorNotFound)}), nil
}

func (h *Handler) chat(ctx context.Context, logger *slog.Logger, correlationID string, req events.LambdaFunctionURLRequest) *events.LambdaFunctionURLStreamingResponse {
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		logger.Warn("invalid chat request body", "err", err)
		return invalidBody(correlationID)
	}

	out, err := h.uc.Stream(ctx, usecase.ChatInput{ConversationID: in.ConversationID, Message: in.Message})
	if err != nil {
		return h.failure(logger, correlationID, err)
	}
	logger.Info("chat stream opened", "conversationId", out.ConversationID)

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":       "text/event-stream",
			"Cache-Control":      "no-cache",
			conversationIDHeader: out.ConversationID,
			correlationHeader:    correlationID,
		},
		Body: out.Body,
	}
}

func (h *Handler) feedback(ctx context.Context, logger *slog.Logger, correlationID, conversationID string, req events.LambdaFunctionURLRequest) *events.LambdaFunctionURLStreamingResponse {
	var in feedbackRequest
	if err := decodeBody(req, &in); err != nil {
		logger.Warn("invalid feedback request body", "err", err)
		return invalidBody(correlationID)
	}
	if err := h.uc.Rate(ctx, conversationID, in.Rating, in.Resolved); err != nil {
		return h.failure(logger, correlationID, err)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusNoContent,
		Headers:    map[string]string{correlationHeader: correlationID},
	}
}

func (h *Handler) failure(logger *slog.Logger, correlationID string, err error) *events.LambdaFunctionURLStreamingResponse {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err, "code", code)
	} else {
		logger.Warn("request rejected", "err", err, "code", code)
	}
	return jsonResponse(status, correlationID, errorResponse{Error: code})
}

func statusFor(err error) (int, string) {
	code := usecase.CodeOf(err)
	return code.HTTPStatus(), string(code)
}

func decodeBody(req events.LambdaFunctionURLRequest, v any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return err
		}
		raw = decoded
	}
	return json.Unmarshal(raw, v)
}

func jsonResponse(status int, correlationID string, v any) *events.LambdaFunctionURLStreamingResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: bytes.NewReader(raw),
	}
}

func invalidBody(correlationID string) *events.LambdaFunctionURLStreamingResponse {
	return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
}

func methodNotAllowed(correlationID, allow string) *events.LambdaFunctionURLStreamingResponse {
	resp := jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	resp.Headers["Allow"] = allow
	return resp
}

func splitPath(raw string) []string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// headerValue looks a header up case-insensitively; function URLs lowercase
// names but local invocations may not.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
