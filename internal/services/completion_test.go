package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/models"
)

type capturedRequest struct {
	Auth string
	Body struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func newCompletionsServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			captured.Auth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&captured.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleRequest() CompletionRequest {
	return CompletionRequest{
		Model: "primary/model",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "2+2?"},
		},
		MaxTokens:   200,
		Temperature: 0.5,
	}
}

func TestOpenAICompleter_Success(t *testing.T) {
	var captured capturedRequest
	srv := newCompletionsServer(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"4"}}]}`,
		&captured)

	c := NewOpenAICompleter("sk-test", srv.URL, 5*time.Second)
	res := c.Complete(context.Background(), sampleRequest())

	require.Equal(t, CompletionOK, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "4", res.Text)

	assert.Equal(t, "Bearer sk-test", captured.Auth)
	assert.Equal(t, "primary/model", captured.Body.Model)
	assert.Equal(t, 200, captured.Body.MaxTokens)
	assert.InDelta(t, 0.5, captured.Body.Temperature, 0.0001)
	require.Len(t, captured.Body.Messages, 2)
	assert.Equal(t, "system", captured.Body.Messages[0].Role)
	assert.Equal(t, "2+2?", captured.Body.Messages[1].Content)
}

func TestOpenAICompleter_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   CompletionKind
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, CompletionTransportError},
		{"rate limited with plain body", http.StatusTooManyRequests, `slow down`, CompletionTransportError},
		{"no choices", http.StatusOK, `{"choices":[]}`, CompletionBadResponse},
		{"null content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":null}}]}`, CompletionBadResponse},
		{"non-string content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":42}}]}`, CompletionBadResponse},
		{"malformed json", http.StatusOK, `{"choices":[`, CompletionBadResponse},
		{"empty body", http.StatusOK, ``, CompletionBadResponse},
		{"whitespace body", http.StatusOK, "   \n", CompletionBadResponse},
		{"html body", http.StatusOK, `<html>oops</html>`, CompletionBadResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newCompletionsServer(t, tc.status, tc.body, nil)
			c := NewOpenAICompleter("sk-test", srv.URL, 5*time.Second)

			res := c.Complete(context.Background(), sampleRequest())
			assert.Equal(t, tc.want, res.Kind, "err: %v", res.Err)
			assert.Empty(t, res.Text)
		})
	}
}

func TestOpenAICompleter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAICompleter("sk-test", srv.URL, 50*time.Millisecond)
	res := c.Complete(context.Background(), sampleRequest())
	assert.Equal(t, CompletionTransportError, res.Kind)
	assert.Error(t, res.Err)
}

func TestOpenAICompleter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAICompleter("sk-test", url, time.Second)
	res := c.Complete(context.Background(), sampleRequest())
	assert.Equal(t, CompletionTransportError, res.Kind)
}

func TestOpenAICompleter_NotConfigured(t *testing.T) {
	c := NewOpenAICompleter("", "http://127.0.0.1:1", time.Second)
	res := c.Complete(context.Background(), sampleRequest())
	assert.Equal(t, CompletionNotConfigured, res.Kind)
}

func TestOpenAICompleter_DroppedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAICompleter("sk-test", srv.URL, time.Second)
	res := c.Complete(context.Background(), sampleRequest())
	assert.Equal(t, CompletionTransportError, res.Kind, "err: %v", res.Err)
}

func TestOpenAICompleter_SendsZeroTemperature(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"4"}}]}`))
	}))
	t.Cleanup(srv.Close)

	req := sampleRequest()
	req.Temperature = 0
	c := NewOpenAICompleter("sk-test", srv.URL, 5*time.Second)
	res := c.Complete(context.Background(), req)
	require.Equal(t, CompletionOK, res.Kind, "err: %v", res.Err)

	require.Contains(t, raw, "temperature")
	var temperature float64
	require.NoError(t, json.Unmarshal(raw["temperature"], &temperature))
	assert.InDelta(t, 0, temperature, 1e-6)
}
