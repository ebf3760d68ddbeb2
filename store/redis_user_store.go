package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BatmanBruc/gpt-bot/types"
)

// RedisUserStore holds the short-lived per-user state: dialog context and
// the waiting mark of an in-flight request.
type RedisUserStore struct {
	client      *RedisClient
	ttl         time.Duration
	contextSize int
}

func NewRedisUserStore(redisClient *RedisClient, ttlHours int, contextSize int) *RedisUserStore {
	ttl := time.Duration(ttlHours) * time.Hour
	if ttlHours <= 0 {
		ttl = 24 * time.Hour
	}
	if contextSize <= 0 {
		contextSize = 10
	}

	return &RedisUserStore{
		client:      redisClient,
		ttl:         ttl,
		contextSize: contextSize,
	}
}

func (s *RedisUserStore) contextKey(userID int64) string {
	return s.client.generateKey("user_context", fmt.Sprintf("%d", userID))
}

func (s *RedisUserStore) waitingKey(userID int64) string {
	return s.client.generateKey("user_waiting", fmt.Sprintf("%d", userID))
}

func (s *RedisUserStore) GetContext(ctx context.Context, userID int64) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage
	if err := s.client.Get(ctx, s.contextKey(userID), &msgs); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return []types.ChatMessage{}, nil
		}
		return nil, err
	}
	if msgs == nil {
		return []types.ChatMessage{}, nil
	}
	return msgs, nil
}

// AppendContext keeps only the newest contextSize messages.
func (s *RedisUserStore) AppendContext(ctx context.Context, userID int64, msgs ...types.ChatMessage) error {
	current, err := s.GetContext(ctx, userID)
	if err != nil {
		return err
	}
	current = append(current, msgs...)
	if len(current) > s.contextSize {
		current = current[len(current)-s.contextSize:]
	}
	return s.client.Set(ctx, s.contextKey(userID), current, s.ttl)
}

func (s *RedisUserStore) ResetContext(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.contextKey(userID))
}

// SetWaiting returns false if the user already has a request in flight.
func (s *RedisUserStore) SetWaiting(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.waitingKey(userID), time.Now().Unix(), ttl)
}

func (s *RedisUserStore) ClearWaiting(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, s.waitingKey(userID))
}
