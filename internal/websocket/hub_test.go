package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
)

func TestHandleWebSocket_RejectsBadChatID(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())

	for _, query := range []string{"", "?chat_id=", "?chat_id=../../etc"} {
		rr := httptest.NewRecorder()
		hub.HandleWebSocket(rr, httptest.NewRequest(http.MethodGet, "/ws"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestHub_DeliversPublishedEvents(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	hub := NewHub(client, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	chatID := uuid.NewString()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?chat_id=" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Viewers(chatID) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Viewers(chatID) != 1 {
		t.Fatalf("expected 1 viewer, got %d", hub.Viewers(chatID))
	}

	pub := services.NewRedisEventPublisher(client)
	received := make(chan string, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}()

	// The subscription starts asynchronously; publish until it is observed.
	for {
		if err := pub.Publish(context.Background(), models.ChatEvent{Type: models.EventDeleted, ChatID: chatID}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case payload := <-received:
			if !strings.Contains(payload, `"type":"deleted"`) {
				t.Errorf("unexpected payload %s", payload)
			}
			return
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatal("event never delivered")
		}
	}
}
