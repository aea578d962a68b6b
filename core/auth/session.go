package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps issued admin tokens until they expire or are revoked.
type SessionStore interface {
	Issue(ctx context.Context, token string, ttl time.Duration) error
	Valid(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// MemorySessions holds tokens in process memory. They are lost on restart.
type MemorySessions struct {
	store *memstore.MemStore
}

func NewMemorySessions(cleanup time.Duration) *MemorySessions {
	return &MemorySessions{store: memstore.NewWithCleanupInterval(cleanup)}
}

func (m *MemorySessions) Issue(_ context.Context, token string, ttl time.Duration) error {
	return m.store.Commit(token, []byte{1}, time.Now().Add(ttl))
}

func (m *MemorySessions) Valid(_ context.Context, token string) (bool, error) {
	_, found, err := m.store.Find(token)
	return found, err
}

func (m *MemorySessions) Revoke(_ context.Context, token string) error {
	return m.store.Delete(token)
}

// StopCleanup terminates the expiry sweeper.
func (m *MemorySessions) StopCleanup() {
	m.store.StopCleanup()
}

// RedisSessions stores every token as a key with a TTL, so sessions are
// shared by every server instance and survive restarts.
type RedisSessions struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSessions(rdb redis.UniversalClient) *RedisSessions {
	return &RedisSessions{rdb: rdb, prefix: "admin:session:"}
}

func (s *RedisSessions) Issue(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.prefix+token, 1, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Valid(ctx context.Context, token string) (bool, error) {
	err := s.rdb.Get(ctx, s.prefix+token).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("looking up session: %w", err)
	}
	return true, nil
}

func (s *RedisSessions) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, s.prefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
