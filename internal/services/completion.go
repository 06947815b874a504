package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chatrelay-backend/internal/models"
)

// CompletionKind classifies the outcome of one completion call.
type CompletionKind int

const (
	CompletionOK CompletionKind = iota
	// CompletionTransportError covers network failures, timeouts and non-2xx statuses.
	CompletionTransportError
	// CompletionBadResponse means a 2xx reply without usable text in the first choice.
	CompletionBadResponse
	// CompletionNotConfigured means no API key was provided; nothing was sent.
	CompletionNotConfigured
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionOK:
		return "ok"
	case CompletionTransportError:
		return "transport_error"
	case CompletionBadResponse:
		return "bad_response"
	case CompletionNotConfigured:
		return "not_configured"
	}
	return "unknown"
}

type CompletionRequest struct {
	Model       string
	Messages    []models.Message
	MaxTokens   int
	Temperature float32
}

type CompletionResult struct {
	Kind CompletionKind
	Text string
	Err  error
}

// Completer calls a chat-completions endpoint. Implementations never panic
// and report every failure through CompletionResult.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) CompletionResult
}

// OpenAICompleter talks to any OpenAI-compatible chat completions API (OpenRouter by default).
type OpenAICompleter struct {
	client     *openai.Client
	configured bool
}

func NewOpenAICompleter(apiKey, baseURL string, timeout time.Duration) *OpenAICompleter {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompleter{
		client:     openai.NewClientWithConfig(config),
		configured: apiKey != "",
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) CompletionResult {
	if !c.configured {
		return CompletionResult{Kind: CompletionNotConfigured, Err: errors.New("completions API key is not configured")}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
	})
	if err != nil {
		return CompletionResult{Kind: classifyCompletionError(err), Err: err}
	}

	if len(resp.Choices) == 0 {
		return CompletionResult{Kind: CompletionBadResponse, Err: errors.New("completion returned no choices")}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return CompletionResult{Kind: CompletionBadResponse, Err: errors.New("completion returned empty content")}
	}
	return CompletionResult{Kind: CompletionOK, Text: content}
}

// wireTemperature keeps an explicit 0 in the request. The client omits a zero
// temperature, which would leave the provider default in effect.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// classifyCompletionError separates undecodable 2xx bodies from transport failures.
// Connection errors are checked first: a dropped connection also surfaces as io.EOF.
func classifyCompletionError(err error) CompletionKind {
	var (
		urlErr    *url.Error
		apiErr    *openai.APIError
		reqErr    *openai.RequestError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &urlErr), errors.As(err, &apiErr), errors.As(err, &reqErr):
		return CompletionTransportError
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CompletionBadResponse
	}
	return CompletionTransportError
}
