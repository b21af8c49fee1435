// Package realtime carries room and roster change events between processes.
package realtime

import (
	"encoding/json"
	"fmt"

	"quiz-room-sync/internal/domain"
)

// Event type tags on the wire.
const (
	TypeRoomChanged    = "room_changed"
	TypePlayerChanged  = "player_changed"
	TypeRosterReplaced = "roster_replaced"
)

// Envelope is the wire form of a domain.Event.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Room    *domain.Room    `json:"room,omitempty"`
	Player  *domain.Player  `json:"player,omitempty"`
	Players []domain.Player `json:"players,omitempty"`
}

// Wrap converts an event into its envelope.
func Wrap(ev domain.Event) (Envelope, error) {
	switch e := ev.(type) {
	case domain.RoomChanged:
		return Envelope{Type: TypeRoomChanged, RoomID: e.Room.ID, Room: &e.Room}, nil
	case domain.PlayerChanged:
		return Envelope{Type: TypePlayerChanged, RoomID: e.Player.RoomID, Player: &e.Player}, nil
	case domain.RosterReplaced:
		players := e.Players
		if players == nil {
			players = []domain.Player{}
		}
		return Envelope{Type: TypeRosterReplaced, RoomID: e.Room, Players: players}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown event %T", ev)
	}
}

// Unwrap converts an envelope back into an event.
func (e Envelope) Unwrap() (domain.Event, error) {
	switch e.Type {
	case TypeRoomChanged:
		if e.Room == nil {
			return nil, fmt.Errorf("%s without room", e.Type)
		}
		return domain.RoomChanged{Room: *e.Room}, nil
	case TypePlayerChanged:
		if e.Player == nil {
			return nil, fmt.Errorf("%s without player", e.Type)
		}
		return domain.PlayerChanged{Player: *e.Player}, nil
	case TypeRosterReplaced:
		return domain.RosterReplaced{Room: e.RoomID, Players: e.Players}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

func Encode(ev domain.Event) ([]byte, error) {
	env, err := Wrap(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Decode(data []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return env.Unwrap()
}
