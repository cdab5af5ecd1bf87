package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Key suffix for the latest snapshot of a channel.
	stateKeySuffix = ":state"

	envelopeState     = "state"
	envelopeBroadcast = "broadcast"
)

// ErrNoState is returned when Redis holds no snapshot for a channel.
var ErrNoState = errors.New("no replicated state")

// RedisConfig holds configuration for the Redis sink.
type RedisConfig struct {
	// Redis client
	RedisClient *redis.Client

	// Pub/sub channel; the latest snapshot is also stored at <Channel>:state.
	Channel string

	// StateTTL expires the stored snapshot; 0 keeps it forever.
	StateTTL time.Duration
}

// envelope is the pub/sub message format.
type envelope struct {
	Type  string         `json:"type"`
	State *game.Snapshot `json:"state,omitempty"`
	Event *events.Event  `json:"event,omitempty"`
}

// RedisSink replicates to remote processes through Redis pub/sub.
type RedisSink struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisSink validates cfg and checks the connection.
func NewRedisSink(cfg *RedisConfig) (*RedisSink, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Channel == "" {
		return nil, errors.New("channel cannot be empty")
	}

	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{
		client:  cfg.RedisClient,
		channel: cfg.Channel,
		ttl:     cfg.StateTTL,
	}, nil
}

// Name identifies the sink.
func (r *RedisSink) Name() string { return "redis" }

// PushState stores snap and announces it on the channel.
func (r *RedisSink) PushState(ctx context.Context, snap *game.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	stateJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	msg, err := json.Marshal(envelope{Type: envelopeState, State: snap})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.channel+stateKeySuffix, stateJSON, r.ttl)
	pipe.Publish(ctx, r.channel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push state: %w", err)
	}
	return nil
}

// PushBroadcast announces e on the channel.
func (r *RedisSink) PushBroadcast(ctx context.Context, e events.Event) error {
	msg, err := json.Marshal(envelope{Type: envelopeBroadcast, Event: &e})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

// LoadState reads the latest stored snapshot for channel.
func LoadState(ctx context.Context, client *redis.Client, channel string) (*game.Snapshot, error) {
	data, err := client.Get(ctx, channel+stateKeySuffix).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &snap, nil
}

// SubscribeRedis feeds mirror from channel until ctx is done. The stored
// snapshot is applied first so a late subscriber starts from current state.
func SubscribeRedis(ctx context.Context, client *redis.Client, channel string, mirror *Mirror, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	snap, err := LoadState(ctx, client, channel)
	switch {
	case err == nil:
		mirror.Apply(snap)
	case !errors.Is(err, ErrNoState):
		return err
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("bad replication message", zap.String("channel", channel), zap.Error(err))
				continue
			}
			switch env.Type {
			case envelopeState:
				mirror.Apply(env.State)
			case envelopeBroadcast:
				if env.Event != nil {
					_ = mirror.PushBroadcast(ctx, *env.Event)
				}
			}
		}
	}
}
