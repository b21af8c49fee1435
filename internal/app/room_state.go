package app

import (
	"quiz-room-sync/internal/domain"
)

// RoomPhase is the top-level state of the room lifecycle machine.
type RoomPhase int

const (
	RoomIdle RoomPhase = iota
	RoomLoading
	RoomActive
)

func (p RoomPhase) String() string {
	switch p {
	case RoomLoading:
		return "loading"
	case RoomActive:
		return "active"
	default:
		return "idle"
	}
}

// RoomState is an immutable snapshot of the room lifecycle machine.
// Room, Players and Self are meaningful only while Phase is RoomActive.
type RoomState struct {
	Phase   RoomPhase
	Room    domain.Room
	Players []domain.Player
	Self    domain.Player
	Err     error
}

// Active reports whether a room, roster and self identity are established.
func (s RoomState) Active() bool { return s.Phase == RoomActive }

// CanStart reports whether self may start the match now. Only a waiting room starts;
// a finished one goes back to waiting through a replay first.
func (s RoomState) CanStart() bool {
	if !s.Active() || !s.Self.IsOwner {
		return false
	}
	if len(s.Players) < domain.MinPlayersToStart {
		return false
	}
	for _, p := range s.Players {
		if !p.IsReady {
			return false
		}
	}
	return s.Room.Status == domain.StatusWaiting
}

type roomMsg interface{ isRoomMsg() }

type (
	msgLoading        struct{}
	msgLoadFailed     struct{ err error }
	msgActivated      struct {
		room    domain.Room
		players []domain.Player
		self    domain.Player
	}
	msgRoomChanged    struct{ room domain.Room }
	msgPlayerChanged  struct{ player domain.Player }
	msgRosterReplaced struct{ players []domain.Player }
	msgReadySet       struct{ ready bool }
	msgRoomError      struct{ err error }
	msgRoomCleared    struct{}
)

func (msgLoading) isRoomMsg()        {}
func (msgLoadFailed) isRoomMsg()     {}
func (msgActivated) isRoomMsg()      {}
func (msgRoomChanged) isRoomMsg()    {}
func (msgPlayerChanged) isRoomMsg()  {}
func (msgRosterReplaced) isRoomMsg() {}
func (msgReadySet) isRoomMsg()       {}
func (msgRoomError) isRoomMsg()      {}
func (msgRoomCleared) isRoomMsg()    {}

// reduceRoom is the transition table of the room lifecycle machine. Bus-driven
// messages only apply while active and for the active room.
func reduceRoom(s RoomState, m roomMsg) RoomState {
	switch m := m.(type) {
	case msgLoading:
		s = RoomState{Phase: RoomLoading}
	case msgLoadFailed:
		s = RoomState{Phase: RoomIdle, Err: m.err}
	case msgActivated:
		s = RoomState{Phase: RoomActive, Room: m.room, Players: clonePlayers(m.players), Self: m.self}
		s.Self = pickSelf(s.Players, s.Self)
	case msgRoomChanged:
		if s.Active() && m.room.ID == s.Room.ID {
			s.Room = m.room
		}
	case msgPlayerChanged:
		if s.Active() && m.player.RoomID == s.Room.ID {
			s.Players = replacePlayer(s.Players, m.player)
			s.Self = pickSelf(s.Players, s.Self)
		}
	case msgRosterReplaced:
		if s.Active() {
			s.Players = clonePlayers(m.players)
			s.Self = pickSelf(s.Players, s.Self)
		}
	case msgReadySet:
		if s.Active() {
			s.Self.IsReady = m.ready
			s.Players = clonePlayers(s.Players)
			for i := range s.Players {
				if s.Players[i].ID == s.Self.ID {
					s.Players[i].IsReady = m.ready
				}
			}
		}
	case msgRoomError:
		s.Err = m.err
	case msgRoomCleared:
		s = RoomState{Phase: RoomIdle}
	}
	return s
}

func clonePlayers(players []domain.Player) []domain.Player {
	if players == nil {
		return nil
	}
	out := make([]domain.Player, len(players))
	copy(out, players)
	return out
}

// replacePlayer swaps the entry with the same id; unknown players are left out.
func replacePlayer(players []domain.Player, p domain.Player) []domain.Player {
	out := clonePlayers(players)
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
			break
		}
	}
	return out
}

func containsPlayer(players []domain.Player, id string) bool {
	for _, p := range players {
		if p.ID == id {
			return true
		}
	}
	return false
}

// pickSelf keeps self tied to its roster entry by id; if the roster lost it the last known copy stays.
func pickSelf(players []domain.Player, self domain.Player) domain.Player {
	for _, p := range players {
		if p.ID == self.ID {
			return p
		}
	}
	return self
}
