package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// MemoryAttemptStore はプロセス内メモリで受験記録を保持するAttemptStore。
// REDIS_URLが未設定の場合に使用する。
type MemoryAttemptStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	attempts map[string]memoryAttempt
	byUser   map[string]string
}

type memoryAttempt struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryAttemptStore はMemoryAttemptStoreを生成する。
func NewMemoryAttemptStore(ttl time.Duration) *MemoryAttemptStore {
	return &MemoryAttemptStore{
		ttl:      ttl,
		now:      time.Now,
		attempts: make(map[string]memoryAttempt),
		byUser:   make(map[string]string),
	}
}

// Save は受験記録を保存し、同じユーザーの以前の受験記録を破棄する。
func (s *MemoryAttemptStore) Save(ctx context.Context, attempt *model.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byUser[attempt.UserID]; ok && prev != attempt.ID {
		delete(s.attempts, prev)
	}
	s.byUser[attempt.UserID] = attempt.ID
	s.attempts[attempt.ID] = memoryAttempt{data: data, expiresAt: s.now().Add(s.ttl)}
	s.evictExpiredLocked()
	return nil
}

// Update は既存の受験記録を上書きする。有効期限は延長しない。
func (s *MemoryAttemptStore) Update(ctx context.Context, attempt *model.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attempts[attempt.ID]
	if !ok || !s.now().Before(cur.expiresAt) {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, attempt.ID)
	}
	s.attempts[attempt.ID] = memoryAttempt{data: data, expiresAt: cur.expiresAt}
	return nil
}

// Get は受験記録を取得する。見つからない、または期限切れの場合はnilを返す。
func (s *MemoryAttemptStore) Get(ctx context.Context, id string) (*model.Attempt, error) {
	s.mu.Lock()
	cur, ok := s.attempts[id]
	s.mu.Unlock()
	if !ok || !s.now().Before(cur.expiresAt) {
		return nil, nil
	}

	var attempt model.Attempt
	if err := json.Unmarshal(cur.data, &attempt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &attempt, nil
}

// DeleteByUserID はユーザーの受験記録を破棄する。
func (s *MemoryAttemptStore) DeleteByUserID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[userID]; ok {
		delete(s.attempts, id)
		delete(s.byUser, userID)
	}
	return nil
}

// evictExpiredLocked は期限切れの受験記録を削除する。s.muを保持して呼ぶこと。
func (s *MemoryAttemptStore) evictExpiredLocked() {
	now := s.now()
	for userID, id := range s.byUser {
		if a, ok := s.attempts[id]; !ok || !now.Before(a.expiresAt) {
			delete(s.attempts, id)
			delete(s.byUser, userID)
		}
	}
}

// compile-time interface check
var _ AttemptStore = (*MemoryAttemptStore)(nil)
