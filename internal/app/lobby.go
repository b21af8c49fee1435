package app

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
)

// LobbyRoom is a joinable public room with its current occupancy.
type LobbyRoom struct {
	domain.Room
	PlayerCount  int    `json:"playerCount"`
	HostNickname string `json:"hostNickname"`
}

// UnknownHost is shown when a room's owner row is gone.
const UnknownHost = "Unknown"

// Lobby lists public rooms that can still be joined.
type Lobby struct {
	repo  RoomRepository
	clock clockwork.Clock
	log   *zap.Logger
}

func NewLobby(repo RoomRepository, opts ...Option) *Lobby {
	o := buildOptions(opts)
	return &Lobby{repo: repo, clock: o.clock, log: o.log.Named("lobby")}
}

// PublicRooms returns waiting, unexpired, not-full public rooms newest first.
// A nil grade lists every grade.
func (l *Lobby) PublicRooms(ctx context.Context, grade *int) ([]LobbyRoom, error) {
	rooms, err := l.repo.ListPublicRooms(ctx, grade, l.clock.Now())
	if err != nil {
		return nil, domain.Collaborator("fetch public rooms", err)
	}

	out := make([]LobbyRoom, 0, len(rooms))
	for _, r := range rooms {
		players, err := l.repo.ListPlayers(ctx, r.ID)
		if err != nil {
			return nil, domain.Collaborator("fetch room players", err)
		}
		if len(players) >= r.MaxPlayers {
			continue
		}
		lr := LobbyRoom{Room: r, PlayerCount: len(players), HostNickname: UnknownHost}
		for _, p := range players {
			if p.IsOwner {
				lr.HostNickname = p.Nickname
			}
		}
		out = append(out, lr)
	}
	l.log.Debug("public rooms listed", zap.Int("rooms", len(out)))
	return out, nil
}
