package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
)

const (
	defaultKeyPrefix = "gtm:wizard:"
	DefaultTTL       = 24 * time.Hour
)

// RedisSessionStore keeps wizard sessions as JSON values that expire after
// TTL of inactivity.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ service.SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSessionStore{client: client, prefix: defaultKeyPrefix, ttl: ttl}
}

func (s *RedisSessionStore) key(id uuid.UUID) string {
	return s.prefix + id.String()
}

func (s *RedisSessionStore) Save(ctx context.Context, state service.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode wizard session: %w", err)
	}
	return s.client.Set(ctx, s.key(state.ID), data, s.ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (service.State, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return service.State{}, service.ErrSessionNotFound
	}
	if err != nil {
		return service.State{}, err
	}
	var state service.State
	if err := json.Unmarshal(data, &state); err != nil {
		return service.State{}, fmt.Errorf("decode wizard session: %w", err)
	}
	return state, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
