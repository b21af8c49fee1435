// Package nats carries room events over core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/realtime"
)

const (
	subscriberBuffer = 32
	flushTimeout     = 5 * time.Second
)

// Connect dials NATS with reconnects enabled and connection state logged.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("quiz-room-sync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Bus publishes each room's events on its own subject. Delivery is at most once;
// clients recover missed changes by refetching.
type Bus struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewBus(nc *nats.Conn, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{nc: nc, log: log.Named("nats_bus")}
}

func subject(roomID string) string {
	return "quiz.rooms." + roomID + ".events"
}

func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject(ev.RoomID()), data)
}

func (b *Bus) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	out := make(chan domain.Event, subscriberBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := b.nc.Subscribe(subject(roomID), func(msg *nats.Msg) {
		ev, err := realtime.Decode(msg.Data)
		if err != nil {
			b.log.Warn("drop malformed event", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case out <- ev:
				return
			default:
			}
			// Full: drop the oldest so the newest state wins.
			select {
			case <-out:
			default:
			}
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}
	// Make sure the server registered the interest before returning.
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flush subscribe %s: %w", roomID, err)
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return out, cancel, nil
}
