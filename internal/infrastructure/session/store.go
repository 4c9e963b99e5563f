// Package session keeps login sessions referenced by the sid claim of the
// access and refresh tokens.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

type record struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"sid"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore stores each session as a JSON value with a TTL.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, sess entity.Session, ttl time.Duration) error {
	rec := record{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Email:     sess.Email,
		Name:      sess.Name,
		CreatedAt: sess.CreatedAt.UTC(),
	}
	return helpers.RedisSetJSON(ctx, s.rdb, helpers.KeySession(sess.UserID, sess.SessionID), rec, ttl)
}

func (s *RedisStore) Get(ctx context.Context, userID, sessionID string) (*entity.Session, bool, error) {
	var rec record
	found, err := helpers.RedisGetJSON(ctx, s.rdb, helpers.KeySession(userID, sessionID), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return &entity.Session{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Email:     rec.Email,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
	}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, sessionID string) error {
	return helpers.RedisDel(ctx, s.rdb, helpers.KeySession(userID, sessionID))
}

// MemoryStore is the in-process variant for STORE_DRIVER=memory and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	sess    entity.Session
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, sess entity.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[helpers.KeySession(sess.UserID, sess.SessionID)] = memoryEntry{sess: sess, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, sessionID string) (*entity.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := helpers.KeySession(userID, sessionID)
	e, ok := s.sessions[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.sessions, key)
		return nil, false, nil
	}
	sess := e.sess
	return &sess, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, helpers.KeySession(userID, sessionID))
	return nil
}
