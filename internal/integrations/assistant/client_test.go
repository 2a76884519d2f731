package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(&http.Client{Timeout: 2 * time.Second})}, opts...)
	c, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(" ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")

	c, err := NewClient("http://localhost:8080/")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", c.baseURL)
	require.Equal(t, "http://localhost:8080/chat", c.chatURL())
	require.Equal(t, "http://localhost:8080/conversations/a%2Fb", c.conversationURL("a/b"))
}

func TestOpenExchange_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var in ExchangeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, ExchangeRequest{Message: "¿Cuándo vence el pago?"}, in)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(ConversationIDHeader, "conv-1")
		_, _ = w.Write([]byte("data: {\"content\":\"hola\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithToken(" tok "))
	ex, err := c.OpenExchange(context.Background(), ExchangeRequest{Message: "¿Cuándo vence el pago?"})
	require.NoError(t, err)
	defer ex.Body.Close()
	require.Equal(t, "conv-1", ex.ConversationID)

	raw, err := io.ReadAll(ex.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "[DONE]")
}

func TestOpenExchange_OmitsEmptyConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"message":"hola"}`, string(raw))
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ex, err := c.OpenExchange(context.Background(), ExchangeRequest{Message: "hola"})
	require.NoError(t, err)
	require.NoError(t, ex.Body.Close())
	require.Empty(t, ex.ConversationID)
}

func TestOpenExchange_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"RATE_LIMITED"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.OpenExchange(context.Background(), ExchangeRequest{Message: "hola"})
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "RATE_LIMITED")
}

func TestOpenExchange_NetworkError(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.OpenExchange(context.Background(), ExchangeRequest{Message: "hola"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exchange request failed")
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`[{"id":"c1","resolved":true,"rating":4,"createdAt":"2026-03-01T10:00:00Z",
			"messages":[{"id":"m1","role":"user","content":"hola"},{"id":"m2","role":"assistant","content":"buenas"}]}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "c1", convs[0].ID)
	require.True(t, convs[0].Resolved)
	require.Equal(t, 4, convs[0].Rating)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, "buenas", convs[0].Messages[1].Content)
}

func TestListConversations_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListConversations(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestGetConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/c1", r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","role":"user","content":"hola"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	conv, err := c.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", conv.ID)
	require.Len(t, conv.Messages, 1)

	_, err = c.GetConversation(context.Background(), " ")
	require.Error(t, err)
}

func TestGetConversation_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetConversation(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestGetConversation_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.GetConversation(context.Background(), "c1")
	require.Error(t, err)
}

func TestSubmitRating(t *testing.T) {
	var got RatingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/c1/feedback", r.URL.Path)
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SubmitRating(context.Background(), RatingRequest{ConversationID: "c1", Rating: 5, Resolved: true})
	require.NoError(t, err)
	require.Equal(t, RatingRequest{ConversationID: "c1", Rating: 5, Resolved: true}, got)

	err = c.SubmitRating(context.Background(), RatingRequest{Rating: 5})
	require.Error(t, err)
}

func TestSubmitRating_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SubmitRating(context.Background(), RatingRequest{ConversationID: "c1", Rating: 3, Resolved: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
