package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatrelay-backend/internal/models"
)

// Fixed replies returned (and persisted) instead of model output.
const (
	ReplyEmptyMessage    = "Error: empty message."
	ReplyNoResponse      = "Error: no response from the model."
	ReplyInvalidResponse = "Error: invalid response from the model."
	ReplyNotConfigured   = "Error: the API key for the model is not configured."
)

// ChatStore is the persistence contract shared by the PostgreSQL and SQLite repos.
type ChatStore interface {
	Create(ctx context.Context, title string) (*models.Chat, error)
	List(ctx context.Context) ([]models.ChatSummary, error)
	Get(ctx context.Context, id string) (*models.Chat, error)
	Recent(ctx context.Context, id string, limit int) ([]models.Message, error)
	AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error)
	// Rename reports false when no chat has the id.
	Rename(ctx context.Context, id, title string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ModelTier is a model identifier with its output token bound.
type ModelTier struct {
	Model     string
	MaxTokens int
}

type RelayConfig struct {
	SystemPrompt  string
	MaxInputChars int
	HistoryWindow int
	Temperature   float32
	Standard      ModelTier
	Premium       ModelTier
	// FallbackModel is tried once, with the tier's token bound, when the
	// primary call fails in transport. Empty disables the retry.
	FallbackModel string
	// Timeout bounds each completion attempt.
	Timeout time.Duration
}

type RelayService struct {
	cfg       RelayConfig
	store     ChatStore
	completer Completer
	locker    ChatLocker
	events    EventPublisher
	logger    *zap.Logger
}

func NewRelayService(
	cfg RelayConfig,
	store ChatStore,
	completer Completer,
	locker ChatLocker,
	events EventPublisher,
	logger *zap.Logger,
) *RelayService {
	if locker == nil {
		locker = NoopLocker
	}
	if events == nil {
		events = NoopPublisher
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayService{
		cfg:       cfg,
		store:     store,
		completer: completer,
		locker:    locker,
		events:    events,
		logger:    logger,
	}
}

// Send turns one user message into a persisted user/assistant exchange and
// returns the reply. Completion failures become fixed replies; only storage
// errors (including repository.ErrChatNotFound) are returned as errors.
func (s *RelayService) Send(ctx context.Context, chatID, text string, premium bool) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReplyEmptyMessage, nil
	}
	text = truncateRunes(text, s.cfg.MaxInputChars)

	// A client hanging up must not leave a user turn without its reply.
	ctx = context.WithoutCancel(ctx)

	unlock, err := s.locker.Lock(ctx, chatID)
	if err != nil {
		s.logger.Warn("proceeding without chat lock", zap.String("chat_id", chatID), zap.Error(err))
		unlock = func() {}
	}
	defer unlock()

	userMsg, err := s.store.AppendMessage(ctx, chatID, models.RoleUser, text)
	if err != nil {
		return "", fmt.Errorf("failed to save user message: %w", err)
	}
	s.publish(ctx, userMsg)

	history, err := s.store.Recent(ctx, chatID, s.window())
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	tier := s.cfg.Standard
	if premium {
		tier = s.cfg.Premium
	}
	reply := s.complete(ctx, chatID, tier, s.buildPrompt(history, *userMsg))

	assistantMsg, err := s.store.AppendMessage(ctx, chatID, models.RoleAssistant, reply)
	if err != nil {
		return "", fmt.Errorf("failed to save reply: %w", err)
	}
	s.publish(ctx, assistantMsg)

	return reply, nil
}

func (s *RelayService) window() int {
	if s.cfg.HistoryWindow < 1 {
		return 1
	}
	return s.cfg.HistoryWindow
}

// buildPrompt prepends the system message to the newest history and makes the
// current user turn the last element, exactly once. Messages interleaved by
// concurrent requests stay before it.
func (s *RelayService) buildPrompt(history []models.Message, current models.Message) []models.Message {
	others := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.ID != current.ID {
			others = append(others, m)
		}
	}
	if keep := s.window() - 1; len(others) > keep {
		others = others[len(others)-keep:]
	}

	prompt := make([]models.Message, 0, len(others)+2)
	prompt = append(prompt, models.Message{Role: models.RoleSystem, Content: s.cfg.SystemPrompt})
	prompt = append(prompt, others...)
	prompt = append(prompt, current)
	return prompt
}

// complete tries the tier model, then the fallback model on transport
// failure, and maps the outcome to reply text.
func (s *RelayService) complete(ctx context.Context, chatID string, tier ModelTier, prompt []models.Message) string {
	attempts := []string{tier.Model}
	if s.cfg.FallbackModel != "" {
		attempts = append(attempts, s.cfg.FallbackModel)
	}

	for i, model := range attempts {
		res := s.call(ctx, model, tier.MaxTokens, prompt)

		switch res.Kind {
		case CompletionOK:
			if i > 0 {
				s.logger.Info("fallback model answered", zap.String("chat_id", chatID), zap.String("model", model))
			}
			return res.Text
		case CompletionBadResponse:
			s.logger.Warn("invalid completion response",
				zap.String("chat_id", chatID), zap.String("model", model), zap.Error(res.Err))
			return ReplyInvalidResponse
		case CompletionNotConfigured:
			s.logger.Error("completions API key missing", zap.String("chat_id", chatID))
			return ReplyNotConfigured
		}

		s.logger.Warn("completion call failed",
			zap.String("chat_id", chatID),
			zap.String("model", model),
			zap.Int("attempt", i+1),
			zap.Error(res.Err))
	}

	s.logger.Error("no model answered", zap.String("chat_id", chatID), zap.Strings("models", attempts))
	return ReplyNoResponse
}

func (s *RelayService) call(ctx context.Context, model string, maxTokens int, prompt []models.Message) CompletionResult {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	return s.completer.Complete(ctx, CompletionRequest{
		Model:       model,
		Messages:    prompt,
		MaxTokens:   maxTokens,
		Temperature: s.cfg.Temperature,
	})
}

func (s *RelayService) publish(ctx context.Context, m *models.Message) {
	event := models.ChatEvent{Type: models.EventMessage, ChatID: m.ChatID, Message: m}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish chat event", zap.String("chat_id", m.ChatID), zap.Error(err))
	}
}

// truncateRunes cuts s to at most max characters. max <= 0 disables the bound.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
