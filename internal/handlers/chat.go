package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
)

type chatRelay interface {
	Send(ctx context.Context, chatID, text string, premium bool) (string, error)
}

type ChatHandler struct {
	store        services.ChatStore
	relay        chatRelay
	events       services.EventPublisher
	defaultTitle string
	logger       *zap.Logger
}

func NewChatHandler(
	store services.ChatStore,
	relay chatRelay,
	events services.EventPublisher,
	defaultTitle string,
	logger *zap.Logger,
) *ChatHandler {
	if events == nil {
		events = services.NoopPublisher
	}
	return &ChatHandler{
		store:        store,
		relay:        relay,
		events:       events,
		defaultTitle: defaultTitle,
		logger:       logger,
	}
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.List(r.Context())
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatList(chats))
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.Create(r.Context(), h.defaultTitle)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewChatResponse{ChatID: chat.ID})
}

// Get answers unknown ids with an empty object so polling clients never see an error.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.Get(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	if !chat.Found {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req models.RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Title is required", r))
		return
	}

	renamed, err := h.store.Rename(r.Context(), chatID, title)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	if renamed {
		h.publish(r.Context(), models.ChatEvent{Type: models.EventRenamed, ChatID: chatID, Title: title})
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	if err := h.store.Delete(r.Context(), chatID); err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	h.publish(r.Context(), models.ChatEvent{Type: models.EventDeleted, ChatID: chatID})

	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Send relays one user message. Model failures still answer 200 with a reply
// string; only malformed bodies and storage failures produce error statuses.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	reply, err := h.relay.Send(r.Context(), chatID, req.Message, req.VIP)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Reply: reply})
}

func (h *ChatHandler) publish(ctx context.Context, event models.ChatEvent) {
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish chat event", zap.String("chat_id", event.ChatID), zap.Error(err))
	}
}
