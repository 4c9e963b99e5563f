package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
)

func TestHubDeliversOnlyToMatchingClient(t *testing.T) {
	ctx := context.Background()
	h := NewHub()

	a, err := h.Subscribe(ctx, "user-a")
	require.NoError(t, err)
	b, err := h.Subscribe(ctx, "user-b")
	require.NoError(t, err)

	require.NoError(t, h.Notify(ctx, entity.PushEvent{ClientID: "user-a", Status: entity.PushPixCreated}))

	select {
	case ev := <-a.Events():
		assert.Equal(t, entity.PushPixCreated, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("no event for user-a")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event for user-b: %+v", ev)
	default:
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, open := <-a.Events()
	assert.False(t, open)
	assert.NoError(t, h.Notify(ctx, entity.PushEvent{ClientID: "user-a"}))
	require.NoError(t, b.Close())
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "onboarding:events:u1", Channel("u1"))
}
