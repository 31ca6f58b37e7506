// Package bus relays room broadcasts between server instances over Redis pub/sub.
package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const channelPrefix = "whiteboard:room:"

// Envelope is one broadcast payload on the wire between instances
type Envelope struct {
	Origin  string `msgpack:"o"`
	RoomID  string `msgpack:"r"`
	Payload []byte `msgpack:"p"`
}

func (e Envelope) Marshal() ([]byte, error) {
	return msgpack.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Channel namespaces pub/sub per room
func Channel(roomID string) string { return channelPrefix + roomID }

func roomFromChannel(ch string) (string, bool) {
	if !strings.HasPrefix(ch, channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(ch, channelPrefix), true
}

type Redis struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedis connects to redis and verifies connectivity
func NewRedis(ctx context.Context, addr string, db int, logger zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, log: logger.With().Str("module", "bus").Logger()}, nil
}

func (b *Redis) Publish(ctx context.Context, env Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(env.RoomID), raw).Err()
}

// Subscribe listens on every room channel and calls fn for each envelope
// until ctx is cancelled.
func (b *Redis) Subscribe(ctx context.Context, fn func(Envelope)) {
	pubsub := b.rdb.PSubscribe(ctx, Channel("*"))
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID, ok := roomFromChannel(msg.Channel)
			if !ok {
				continue
			}
			env, err := UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping bus message")
				continue
			}
			if env.RoomID != roomID {
				b.log.Warn().Str("channel", msg.Channel).Str("room", env.RoomID).Msg("envelope room does not match channel")
				continue
			}
			fn(env)
		}
	}
}

func (b *Redis) Close() error { return b.rdb.Close() }
