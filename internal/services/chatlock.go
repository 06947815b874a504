package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("timed out waiting for chat lock")

// ChatLocker serializes relay requests on one chat id.
type ChatLocker interface {
	Lock(ctx context.Context, chatID string) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// NoopLocker lets concurrent requests on one chat interleave.
var NoopLocker ChatLocker = noopLocker{}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisChatLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisChatLocker holds locks for at most ttl and waits up to wait to acquire one.
func NewRedisChatLocker(client *redis.Client, ttl, wait time.Duration) *RedisChatLocker {
	return &RedisChatLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  100 * time.Millisecond,
	}
}

func (l *RedisChatLocker) Lock(ctx context.Context, chatID string) (func(), error) {
	key := "chat_lock:" + chatID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire chat lock: %w", err)
		}
		if ok {
			return func() {
				// Release even when the request context is already done.
				releaseScript.Run(context.Background(), l.client, []string{key}, token)
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
