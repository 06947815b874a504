package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/websocket"
)

// uiGroups are the front-end variants; each gets the same JSON API.
var uiGroups = []string{"/full", "/lite"}

// New builds the HTTP handler. wsHub may be nil when redis is not configured.
func New(
	logger *zap.Logger,
	chatHandler *handlers.ChatHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mountChatAPI(r, chatHandler)
	for _, prefix := range uiGroups {
		r.Route(prefix, func(r chi.Router) {
			mountChatAPI(r, chatHandler)
		})
	}

	if wsHub != nil {
		r.Get("/ws", wsHub.HandleWebSocket)
	}

	return r
}

func mountChatAPI(r chi.Router, h *handlers.ChatHandler) {
	r.Get("/list_chats", h.List)
	r.Post("/new_chat", h.Create)
	r.Get("/get_chat/{chatID}", h.Get)
	r.Post("/rename_chat/{chatID}", h.Rename)
	r.Post("/delete_chat/{chatID}", h.Delete)
	r.Post("/chat/{chatID}", h.Send)
}
