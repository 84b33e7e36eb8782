package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
)

// RelayChannel is the Redis pub/sub channel every instance listens on.
const RelayChannel = "eaven:chat:signals"

// envelope is what travels over Redis.
type envelope struct {
	Origin string        `json:"origin"`
	Room   string        `json:"room"`
	Signal models.Signal `json:"signal"`
}

// RedisRelay fans signals out across server instances.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	origin string
	log    *logger.Logger
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay connects to url and verifies the server answers.
func NewRedisRelay(url string, hub *Hub, log *logger.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisRelay{client: c, hub: hub, origin: uuid.NewString(), log: log}, nil
}

// Publish sends sig to every other instance.
func (r *RedisRelay) Publish(ctx context.Context, room string, sig models.Signal) error {
	payload, err := encodeEnvelope(r.origin, room, sig)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, RelayChannel, payload).Err()
}

// Run delivers signals published by other instances to local subscribers
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, ok := decodeEnvelope(msg.Payload)
			if !ok {
				r.log.Debug("Dropping malformed relay payload")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Deliver(env.Room, env.Signal)
		}
	}
}

// Close releases the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func encodeEnvelope(origin, room string, sig models.Signal) (string, error) {
	b, err := json.Marshal(envelope{Origin: origin, Room: room, Signal: sig})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEnvelope rejects payloads for rooms that are not canonical.
func decodeEnvelope(payload string) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, false
	}
	if _, ok := models.ParseRoom(env.Room); !ok {
		return envelope{}, false
	}
	return env, true
}
