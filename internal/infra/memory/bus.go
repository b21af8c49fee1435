package memory

import (
	"context"
	"sync"

	"quiz-room-sync/internal/domain"
)

const subscriberBuffer = 32

// Bus is an in-process realtime bus. Events for a room are delivered in publish
// order; a subscriber that falls behind loses its oldest undelivered event.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan domain.Event]struct{})}
}

func (b *Bus) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[chan domain.Event]struct{})
	}
	b.subs[roomID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[roomID], ch)
			if len(b.subs[roomID]) == 0 {
				delete(b.subs, roomID)
			}
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.RoomID()] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
	return nil
}

// Subscribers reports how many live subscriptions a room has.
func (b *Bus) Subscribers(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[roomID])
}
