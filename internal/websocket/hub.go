package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays chat events from redis pub/sub to the websocket clients watching
// that chat. One subscription is held per chat while it has viewers.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
	redisClient *redis.Client
	cancelFuncs map[string]context.CancelFunc
	logger      *zap.Logger
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*websocket.Conn),
		redisClient: redisClient,
		cancelFuncs: make(map[string]context.CancelFunc),
		logger:      logger,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if _, err := uuid.Parse(chatID); err != nil {
		http.Error(w, "chat_id must be a chat identifier", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.registerConnection(chatID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(chatID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(chatID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[chatID] = append(h.connections[chatID], conn)

	if len(h.connections[chatID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[chatID] = cancel
		go h.subscribe(ctx, chatID)
	}

	h.logger.Debug("websocket connected", zap.String("chat_id", chatID), zap.Int("viewers", len(h.connections[chatID])))
}

func (h *Hub) unregisterConnection(chatID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[chatID]
	for i, c := range conns {
		if c == conn {
			h.connections[chatID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[chatID]) == 0 {
		delete(h.connections, chatID)
		if cancel, ok := h.cancelFuncs[chatID]; ok {
			cancel()
			delete(h.cancelFuncs, chatID)
		}
	}

	h.logger.Debug("websocket disconnected", zap.String("chat_id", chatID))
}

func (h *Hub) subscribe(ctx context.Context, chatID string) {
	pubsub := h.redisClient.Subscribe(ctx, services.ChatChannel(chatID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(chatID, []byte(msg.Payload))
		}
	}
}

// broadcast takes the write lock: gorilla connections allow one concurrent writer.
func (h *Hub) broadcast(chatID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.connections[chatID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// Viewers reports how many clients watch a chat.
func (h *Hub) Viewers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[chatID])
}
