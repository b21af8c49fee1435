package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/realtime"
)

const subscriberBuffer = 32

// Bus fans room events out across processes over Redis pub/sub.
type Bus struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBus(client *redis.Client, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{client: client, log: log.Named("redis_bus")}
}

func channel(roomID string) string {
	return "room:" + roomID + ":events"
}

func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel(ev.RoomID()), data).Err()
}

func (b *Bus) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	ps := b.client.Subscribe(ctx, channel(roomID))
	// Wait for the confirmation so no event published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := realtime.Decode([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("drop malformed event", zap.String("room_id", roomID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
