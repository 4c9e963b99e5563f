package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
)

func TestMemoryStoreExpiresSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, entity.Session{UserID: "u1", SessionID: "s1", Email: "a@b.com"}, time.Hour))

	got, ok, err := s.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", got.Email)

	_, ok, _ = s.Get(ctx, "u1", "other")
	assert.False(t, ok)

	now = now.Add(time.Hour)
	_, ok, _ = s.Get(ctx, "u1", "s1")
	assert.False(t, ok)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, entity.Session{UserID: "u1", SessionID: "s1"}, time.Hour))
	require.NoError(t, s.Delete(ctx, "u1", "s1"))
	_, ok, err := s.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
