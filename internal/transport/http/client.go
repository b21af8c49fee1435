package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/realtime"
)

const subscriberBuffer = 32

// WSBus is the client side of the gateway. Subscribe holds one websocket per
// room; Publish posts envelopes over plain HTTP.
type WSBus struct {
	base   *url.URL
	dialer *websocket.Dialer
	client *http.Client
	log    *zap.Logger
}

// NewWSBus targets a gateway at baseURL, e.g. "http://localhost:8080".
func NewWSBus(baseURL string, log *zap.Logger) (*WSBus, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSBus{
		base:   u,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.Named("ws_bus"),
	}, nil
}

func (b *WSBus) endpoint(path string, ws bool) url.URL {
	u := *b.base
	u.Path += path
	if ws {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	return u
}

func (b *WSBus) Publish(ctx context.Context, ev domain.Event) error {
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	u := b.endpoint("/events", false)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("publish event: gateway returned %s", resp.Status)
	}
	return nil
}

// Subscribe returns once the gateway confirmed the subscription.
func (b *WSBus) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	u := b.endpoint("/ws", true)
	u.RawQuery = url.Values{"roomId": {roomID}}.Encode()
	conn, _, err := b.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial gateway: %w", err)
	}

	var hello realtime.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != TypeSubscribed {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", hello.Type)
		}
		return nil, nil, fmt.Errorf("await subscription: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	out := make(chan domain.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
				default:
					b.log.Warn("gateway stream ended", zap.String("room_id", roomID), zap.Error(err))
				}
				return
			}
			var env realtime.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				b.log.Warn("drop malformed frame", zap.Error(err))
				continue
			}
			ev, err := env.Unwrap()
			if err != nil {
				b.log.Warn("drop unknown frame", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
	}()
	return out, cancel, nil
}
