// Package eventbus fans out session lifecycle events to transport adapters,
// keyed by session token. Delivery is fire-and-forget with no replay: a
// subscriber that connects after an event has to rely on fresh HTTP state.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/config"
)

// Event types and reasons carried over the bus and the WebSocket.
const (
	EventSessionExpired   = "session_expired"
	EventSessionCompleted = "session_completed"

	ReasonTokenExpired     = "token_expired"
	ReasonInvalidToken     = "invalid_token"
	ReasonSubmitted        = "submitted"
	ReasonTimeout          = "timeout"
	ReasonSessionCompleted = "session_completed"
)

// Event is a terminal session notification.
type Event struct {
	Type           string `json:"type"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
	GradeHistoryID string `json:"grade_history_id,omitempty"`
}

const subscriptionBuffer = 8

// Bus delivers Events to token subscribers. With a Redis client it rides
// Pub/Sub so every process instance sees every event; without one it keeps
// an in-process subscriber table. Exactly one mode is active, never both.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// New creates a Bus. Pass a nil client for in-process delivery.
func New(rdb *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{
		rdb:  rdb,
		log:  log.With().Str("component", "eventbus").Logger(),
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Publish sends the event to every current subscriber of the token.
// Slow subscribers are skipped rather than blocked on.
func (b *Bus) Publish(ctx context.Context, token string, ev Event) {
	if b.rdb != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.log.Error().Err(err).Msg("encode event")
			return
		}
		if err := b.rdb.Publish(ctx, config.CacheKey.SessionEventChannel(token), payload).Err(); err != nil {
			b.log.Warn().Err(err).Str("type", ev.Type).Msg("publish event to redis")
		}
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[token] {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn().Str("type", ev.Type).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscription is one listener on a token topic. Close it when done.
type Subscription struct {
	bus    *Bus
	token  string
	ch     chan Event
	pubsub *redis.PubSub
	once   sync.Once
}

// Subscribe registers a listener for the token's events.
func (b *Bus) Subscribe(ctx context.Context, token string) *Subscription {
	sub := &Subscription{
		bus:   b,
		token: token,
		ch:    make(chan Event, subscriptionBuffer),
	}

	if b.rdb != nil {
		sub.pubsub = b.rdb.Subscribe(ctx, config.CacheKey.SessionEventChannel(token))
		go sub.forwardRedis()
		return sub
	}

	b.mu.Lock()
	if b.subs[token] == nil {
		b.subs[token] = make(map[*Subscription]struct{})
	}
	b.subs[token][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Events is the stream of events for this subscription. The channel is
// closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.pubsub != nil {
			// Closing the PubSub ends forwardRedis, which closes s.ch.
			_ = s.pubsub.Close()
			return
		}

		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.token]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.token)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (s *Subscription) forwardRedis() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.bus.log.Warn().Err(err).Msg("decode event payload")
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.bus.log.Warn().Str("type", ev.Type).Msg("subscriber buffer full, event dropped")
		}
	}
}
