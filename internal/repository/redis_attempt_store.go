package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// RedisAttemptStore はRedisで受験記録を保持するAttemptStore。
// 受験記録はJSONで保存し、TTLで自動的に失効する。
type RedisAttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAttemptStore はRedisAttemptStoreを生成する。
func NewRedisAttemptStore(client *redis.Client, ttl time.Duration) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, ttl: ttl}
}

func attemptKey(id string) string {
	return fmt.Sprintf("attempt:%s", id)
}

func userAttemptKey(userID string) string {
	return fmt.Sprintf("attempt_user:%s", userID)
}

// Save は受験記録を保存し、同じユーザーの以前の受験記録を破棄する。
func (s *RedisAttemptStore) Save(ctx context.Context, attempt *model.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	prev, err := s.client.Get(ctx, userAttemptKey(attempt.UserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get previous attempt: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != attempt.ID {
			pipe.Del(ctx, attemptKey(prev))
		}
		pipe.Set(ctx, attemptKey(attempt.ID), data, s.ttl)
		pipe.Set(ctx, userAttemptKey(attempt.UserID), attempt.ID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// Update は既存の受験記録を上書きする。有効期限は延長しない。
func (s *RedisAttemptStore) Update(ctx context.Context, attempt *model.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	err = s.client.SetArgs(ctx, attemptKey(attempt.ID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, attempt.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return nil
}

// Get は受験記録を取得する。見つからない、または期限切れの場合はnilを返す。
func (s *RedisAttemptStore) Get(ctx context.Context, id string) (*model.Attempt, error) {
	data, err := s.client.Get(ctx, attemptKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	var attempt model.Attempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &attempt, nil
}

// DeleteByUserID はユーザーの受験記録を破棄する。
func (s *RedisAttemptStore) DeleteByUserID(ctx context.Context, userID string) error {
	id, err := s.client.Get(ctx, userAttemptKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get user attempt: %w", err)
	}

	if err := s.client.Del(ctx, attemptKey(id), userAttemptKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete attempt: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AttemptStore = (*RedisAttemptStore)(nil)
