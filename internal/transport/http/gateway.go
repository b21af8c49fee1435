package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/realtime"
)

// Broker is the bus the gateway relays: it both fans events out and accepts new ones.
type Broker interface {
	app.Bus
	app.Publisher
}

// TypeSubscribed is sent once the gateway's bus subscription is live. Events
// published after a client sees it are guaranteed to reach that client.
const TypeSubscribed = "subscribed"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxEventBytes  = 1 << 20
	sendBufferSize = 16
)

// Gateway relays one room's bus events to websocket clients and accepts
// published events over HTTP.
type Gateway struct {
	broker   Broker
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewGateway(broker Broker, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		broker: broker,
		log:    log.Named("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts the gateway endpoints on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.ServeWS)
	mux.HandleFunc("/events", g.Publish)
}

// ServeWS upgrades the request and streams the room's events as JSON envelopes.
// Inbound frames are ignored apart from control frames.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "missing roomId", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	log := g.log.With(zap.String("room_id", roomID), zap.String("remote", r.RemoteAddr))

	events, cancel, err := g.broker.Subscribe(r.Context(), roomID)
	if err != nil {
		log.Warn("subscribe failed", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}
	defer cancel()

	send := make(chan any, sendBufferSize)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	relayDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(relayDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				env, err := realtime.Wrap(ev)
				if err != nil {
					log.Warn("drop unknown event", zap.Error(err))
					continue
				}
				select {
				case send <- env:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- realtime.Envelope{Type: TypeSubscribed, RoomID: roomID}
	log.Debug("ws client subscribed")

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-relayDone
	close(send)
	<-writerDone
}

// Publish accepts one JSON envelope and puts it on the bus.
func (g *Gateway) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var env realtime.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes)).Decode(&env); err != nil {
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}
	ev, err := env.Unwrap()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.broker.Publish(r.Context(), ev); err != nil {
		g.log.Warn("publish failed", zap.String("room_id", ev.RoomID()), zap.Error(err))
		http.Error(w, "publish failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
