package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Broadcaster is what write paths publish through after a commit.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}

// LocalBus delivers straight into this process's hub. Default when no
// Redis is configured; ordering is the hub's single dispatch channel.
type LocalBus struct {
	hub *Hub
}

func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.hub.Broadcast(ev)
	return nil
}

const redisChannel = "sheethub:character:updates"

// RedisBus fans updates out through Redis pub/sub so several API
// processes share one ordered stream. Publishing is fire-and-forget:
// Redis keeps per-channel order, and each process's hub re-serializes
// delivery locally.
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)

	if err != nil {
		return err
	}

	return b.rdb.Publish(ctx, redisChannel, payload).Err()
}

// Consume subscribes this process's hub to the shared stream. Blocks
// until ctx is cancelled; run in its own goroutine.
func (b *RedisBus) Consume(ctx context.Context, hub *Hub) {
	sub := b.rdb.Subscribe(ctx, redisChannel)
	defer sub.Close()

	ch := sub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var ev Event

			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("bad realtime payload on redis channel", "err", err)
				continue
			}

			hub.Broadcast(ev)
		case <-ctx.Done():
			return
		}
	}
}
