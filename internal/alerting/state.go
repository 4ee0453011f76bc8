package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SiteState is the last risk level published for a site
type SiteState struct {
	Risk        string    `json:"risk"`
	Score       int       `json:"score"`
	Since       time.Time `json:"since"`
	LastChecked time.Time `json:"last_checked"`
}

// StatusStore keeps the last published state per site. Get returns nil
// when the site has no state yet.
type StatusStore interface {
	Get(ctx context.Context, siteID string) (*SiteState, error)
	Set(ctx context.Context, siteID string, state *SiteState) error
}

// RedisStatusStore manages site states in Redis
type RedisStatusStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStatusStore creates a store whose keys expire after ttl without
// an update.
func NewRedisStatusStore(client *redis.Client, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{redis: client, ttl: ttl}
}

func statusKey(siteID string) string {
	return fmt.Sprintf("risk_status:%s", siteID)
}

func (s *RedisStatusStore) Get(ctx context.Context, siteID string) (*SiteState, error) {
	data, err := s.redis.Get(ctx, statusKey(siteID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state SiteState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *RedisStatusStore) Set(ctx context.Context, siteID string, state *SiteState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, statusKey(siteID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

// MemoryStatusStore keeps states in process, for deployments without Redis.
type MemoryStatusStore struct {
	mu     sync.RWMutex
	states map[string]SiteState
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{states: make(map[string]SiteState)}
}

func (m *MemoryStatusStore) Get(_ context.Context, siteID string) (*SiteState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[siteID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStatusStore) Set(_ context.Context, siteID string, state *SiteState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[siteID] = *state
	return nil
}
