package domain

// Event is a push notification from the realtime bus. The concrete types are
// RoomChanged, PlayerChanged and RosterReplaced; consumers switch over all three.
type Event interface {
	RoomID() string
	isEvent()
}

// RoomChanged carries the full room record after any room-row change.
type RoomChanged struct {
	Room Room
}

// PlayerChanged carries one updated player record.
type PlayerChanged struct {
	Player Player
}

// RosterReplaced carries the full roster, ordered by join time.
type RosterReplaced struct {
	Room    string
	Players []Player
}

func (e RoomChanged) RoomID() string    { return e.Room.ID }
func (e PlayerChanged) RoomID() string  { return e.Player.RoomID }
func (e RosterReplaced) RoomID() string { return e.Room }

func (RoomChanged) isEvent()    {}
func (PlayerChanged) isEvent()  {}
func (RosterReplaced) isEvent() {}
