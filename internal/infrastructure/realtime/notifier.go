// Package realtime fans onboarding events out to SSE listeners. The worker
// publishes; the API process subscribes per connected client.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

const channelPrefix = "onboarding:events:"

func Channel(clientID string) string { return channelPrefix + clientID }

// Subscription yields events until Close is called or the context ends.
type Subscription interface {
	Events() <-chan entity.PushEvent
	Close() error
}

// Subscriber opens a Subscription for one client id.
type Subscriber interface {
	Subscribe(ctx context.Context, clientID string) (Subscription, error)
}

// RedisNotifier crosses process boundaries over Redis pub/sub.
type RedisNotifier struct {
	rdb *redis.Client
	log *logrus.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev entity.PushEvent) error {
	return helpers.RedisPublishJSON(ctx, n.rdb, Channel(ev.ClientID), ev)
}

func (n *RedisNotifier) Subscribe(ctx context.Context, clientID string) (Subscription, error) {
	ps := n.rdb.Subscribe(ctx, Channel(clientID))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{ps: ps, out: make(chan entity.PushEvent, 8)}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var ev entity.PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed push event")
				continue
			}
			select {
			case sub.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan entity.PushEvent
}

func (s *redisSubscription) Events() <-chan entity.PushEvent { return s.out }
func (s *redisSubscription) Close() error                    { return s.ps.Close() }

// Hub is the in-process variant used with STORE_DRIVER=memory and in tests.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan entity.PushEvent
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[int]chan entity.PushEvent{}}
}

func (h *Hub) Notify(_ context.Context, ev entity.PushEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.ClientID] {
		select {
		case ch <- ev:
		default:
			// slow listener; it can fall back to polling
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, clientID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan entity.PushEvent, 8)
	if h.subs[clientID] == nil {
		h.subs[clientID] = map[int]chan entity.PushEvent{}
	}
	h.subs[clientID][id] = ch
	return &hubSubscription{hub: h, clientID: clientID, id: id, ch: ch}, nil
}

type hubSubscription struct {
	hub      *Hub
	clientID string
	id       int
	ch       chan entity.PushEvent
	once     sync.Once
}

func (s *hubSubscription) Events() <-chan entity.PushEvent { return s.ch }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.clientID], s.id)
		if len(s.hub.subs[s.clientID]) == 0 {
			delete(s.hub.subs, s.clientID)
		}
		s.hub.mu.Unlock()
		close(s.ch)
	})
	return nil
}
