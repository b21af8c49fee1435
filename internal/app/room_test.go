package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/infra/memory"
	"quiz-room-sync/internal/session"
)

func TestCreateRoomAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	owner, store := f.device(t)

	st, err := owner.CreateRoom(f.ctx, 3, 1, "dev-owner", "  Ada ", domain.Settings{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !st.Active() || !st.Self.IsOwner || st.Self.Nickname != "Ada" {
		t.Fatalf("unexpected state %+v", st)
	}
	r := st.Room
	if r.QuestionsCount != 10 || r.TimePerQuestionSec != 10 || r.MaxPlayers != 5 || !r.IsPublic {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if len(r.QuestionIDs) != 10 || len(r.Code) != domain.RoomCodeLength {
		t.Fatalf("unexpected question set or code: %+v", r)
	}
	if r.Name != "P3 Challenge - Mar 1, 9:00 AM" {
		t.Fatalf("unexpected default name %q", r.Name)
	}
	if id, ok, _ := store.ActiveRoomID(f.ctx); !ok || id != r.ID {
		t.Fatalf("session not persisted: %q %v", id, ok)
	}
}

func TestCreateRoomFailsWithoutEnoughQuestions(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)

	_, err := owner.CreateRoom(f.ctx, 3, 1, "dev-owner", "Ada", domain.Settings{QuestionsCount: 20})
	var ce *domain.CreationError
	if !errors.As(err, &ce) || ce.Found != 12 || ce.Need != 20 {
		t.Fatalf("expected creation error, got %v", err)
	}
	if st := owner.State(); st.Phase != app.RoomIdle || st.Err == nil {
		t.Fatalf("expected idle with error, got %+v", st)
	}
}

func TestJoinRoomTwiceKeepsSamePlayer(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	guest, _ := f.device(t)

	created, err := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	first, err := guest.JoinRoom(f.ctx, created.Room.Code, "dev-guest", "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := guest.JoinRoom(f.ctx, created.Room.Code, "dev-guest", "Robert")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if first.Self.ID != second.Self.ID || second.Self.Nickname != "Bob" {
		t.Fatalf("expected the same player back, got %+v and %+v", first.Self, second.Self)
	}
	if n, _ := f.repo.CountPlayers(f.ctx, created.Room.ID); n != 2 {
		t.Fatalf("expected roster of 2, got %d", n)
	}
	waitFor(t, "owner to see the guest", func() bool { return len(owner.State().Players) == 2 })
}

func TestJoinRoomGuards(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{MaxPlayers: 2})
	code := created.Room.Code

	guest, _ := f.device(t)
	if _, err := guest.JoinRoom(f.ctx, code, "dev-2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	late, _ := f.device(t)
	if _, err := late.JoinRoom(f.ctx, code, "dev-3", "Cy"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected room full, got %v", err)
	}

	_ = f.repo.UpdateRoomStatus(f.ctx, created.Room.ID, domain.StatusPlaying, f.clock.Now())
	_ = f.repo.DeletePlayer(f.ctx, guest.State().Self.ID)
	if _, err := late.JoinRoom(f.ctx, code, "dev-3", "Cy"); !errors.Is(err, domain.ErrRoomNotAcceptingPlayers) {
		t.Fatalf("expected not accepting, got %v", err)
	}
	// An existing player gets back in whatever the status.
	if _, err := owner.JoinRoom(f.ctx, code, "dev-owner", "Ada"); err != nil {
		t.Fatalf("owner rejoin: %v", err)
	}

	var ve *domain.ValidationError
	if _, err := late.JoinRoom(f.ctx, "abc", "dev-3", "Cy"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := late.JoinRoom(f.ctx, "ZZZZZZ", "dev-3", "Cy"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExpiredRoomIsNotFound(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t, app.WithRoomTTL(time.Hour))
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	f.clock.Advance(time.Hour)
	guest, _ := f.device(t)
	if _, err := guest.JoinRoom(f.ctx, created.Room.Code, "dev-2", "Bob"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected expired room to be not found, got %v", err)
	}
	if _, err := owner.LoadRoom(f.ctx, created.Room.ID, "dev-owner"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected expired room to be not found on load, got %v", err)
	}
}

func TestLoadRoomClearsSessionForUnknownDevice(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	stranger, store := f.device(t)
	_ = store.SetActiveRoom(f.ctx, created.Room, f.clock.Now().Add(time.Hour))

	_, err := stranger.LoadRoom(f.ctx, created.Room.ID, "dev-stranger")
	if !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected player not found, got %v", err)
	}
	if _, ok, _ := store.ActiveRoomID(f.ctx); ok {
		t.Fatalf("expected session cleared")
	}
}

func TestResumeFallsBackToRoomCode(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	guest, store := f.device(t)
	_ = store.Set(f.ctx, session.KeyActiveRoomID, "gone", f.clock.Now().Add(time.Hour))
	_ = store.Set(f.ctx, session.KeyActiveRoomCode, created.Room.Code, f.clock.Now().Add(time.Hour))

	st, err := guest.Resume(f.ctx, "dev-guest")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st.Room.ID != created.Room.ID || st.Self.Nickname != "Rejoin" {
		t.Fatalf("unexpected resume state %+v", st)
	}

	reloaded, _ := f.device(t)
	if _, err := reloaded.Resume(f.ctx, "dev-nobody"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected nothing to resume, got %v", err)
	}
}

func TestStartGameRequiresEveryoneReady(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	guest, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	_ = owner.SetReady(f.ctx, true)
	if err := owner.StartGame(f.ctx); err != nil || owner.State().Room.Status != domain.StatusWaiting {
		t.Fatalf("a lone owner must not start: %v", err)
	}

	if _, err := guest.JoinRoom(f.ctx, created.Room.Code, "dev-guest", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "owner to see guest", func() bool { return len(owner.State().Players) == 2 })
	_ = owner.StartGame(f.ctx)
	if owner.State().Room.Status != domain.StatusWaiting {
		t.Fatalf("started with a guest not ready")
	}

	_ = guest.SetReady(f.ctx, true)
	waitFor(t, "owner to see guest ready", func() bool { return owner.State().CanStart() })
	if err := guest.StartGame(f.ctx); err != nil {
		t.Fatalf("guest start: %v", err)
	}
	if guest.State().Room.Status != domain.StatusWaiting {
		t.Fatalf("non-owner started the game")
	}

	if err := owner.StartGame(f.ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := owner.State()
	if st.Room.Status != domain.StatusPlaying || st.Room.StartedAt == nil || !st.Room.StartedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected playing with startedAt, got %+v", st.Room)
	}
	waitFor(t, "guest to see the start", func() bool { return guest.State().Room.Status == domain.StatusPlaying })
}

func TestFinishedRoomOnlyRestartsThroughReplay(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	guest, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})
	if _, err := guest.JoinRoom(f.ctx, created.Room.Code, "dev-guest", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	_ = owner.SetReady(f.ctx, true)
	_ = guest.SetReady(f.ctx, true)
	waitFor(t, "everyone ready", func() bool { return owner.State().CanStart() })

	roomID := created.Room.ID
	_ = f.repo.UpdateRoomStatus(f.ctx, roomID, domain.StatusPlaying, f.clock.Now())
	_ = f.repo.UpdateRoomStatus(f.ctx, roomID, domain.StatusFinished, f.clock.Now())
	waitFor(t, "owner to see the finish", func() bool { return owner.State().Room.Status == domain.StatusFinished })

	if owner.State().CanStart() {
		t.Fatalf("a finished room must not be startable")
	}
	if err := owner.StartGame(f.ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if room, _ := f.repo.GetRoom(f.ctx, roomID); room.Status != domain.StatusFinished {
		t.Fatalf("finished room moved to %s", room.Status)
	}
}

func TestStartReplayRequiresFinishedRoom(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	var ve *domain.ValidationError
	if err := owner.StartReplay(f.ctx); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for a waiting room, got %v", err)
	}
	_ = f.repo.UpdateRoomStatus(f.ctx, created.Room.ID, domain.StatusPlaying, f.clock.Now())
	if err := owner.StartReplay(f.ctx); !errors.As(err, &ve) {
		t.Fatalf("expected validation error mid-match, got %v", err)
	}
	room, _ := f.repo.GetRoom(f.ctx, created.Room.ID)
	if room.Status != domain.StatusPlaying || !equalIDs(room.QuestionIDs, created.Room.QuestionIDs) {
		t.Fatalf("room reset mid-match: %+v", room)
	}
}

type failingRepo struct {
	app.RoomRepository
}

var errUnavailable = errors.New("repository unavailable")

func (failingRepo) SetPlayerReady(context.Context, string, bool) error { return errUnavailable }
func (failingRepo) DeletePlayer(context.Context, string) error         { return errUnavailable }

func TestSetReadyKeepsOptimisticValueOnFailure(t *testing.T) {
	f := newFixture(t)
	c := app.NewRoomController(failingRepo{f.repo}, f.bank, f.bus, nil, f.opts()...)
	t.Cleanup(c.Close)
	if _, err := c.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	err := c.SetReady(f.ctx, true)
	var ce *domain.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	st := c.State()
	if !st.Self.IsReady || !st.Players[0].IsReady || st.Err == nil {
		t.Fatalf("expected optimistic ready kept with error, got %+v", st)
	}
}

func TestLeaveRoomNeverFails(t *testing.T) {
	f := newFixture(t)
	store := session.NewStore(memory.NewKV(), session.WithClock(f.clock))
	c := app.NewRoomController(failingRepo{f.repo}, f.bank, f.bus, store, f.opts()...)
	created, err := c.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	c.LeaveRoom(f.ctx)
	if st := c.State(); st.Phase != app.RoomIdle || st.Err != nil {
		t.Fatalf("expected clean idle state, got %+v", st)
	}
	if _, ok, _ := store.ActiveRoomID(f.ctx); ok {
		t.Fatalf("expected session cleared")
	}
	waitFor(t, "subscription release", func() bool { return f.bus.Subscribers(created.Room.ID) == 0 })
}

func TestReplayEdgeRefetchesRoom(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	guest, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})
	joined, _ := guest.JoinRoom(f.ctx, created.Room.Code, "dev-guest", "Bob")
	waitFor(t, "owner to see guest", func() bool { return len(owner.State().Players) == 2 })

	roomID := created.Room.ID
	now := f.clock.Now()
	_ = f.repo.UpdateRoomStatus(f.ctx, roomID, domain.StatusPlaying, now)
	_ = f.repo.MarkPlayerFinished(f.ctx, created.Self.ID, now)
	_ = f.repo.MarkPlayerFinished(f.ctx, joined.Self.ID, now)
	_ = f.repo.UpdateRoomStatus(f.ctx, roomID, domain.StatusFinished, now)
	waitFor(t, "guest to see the match finish", func() bool {
		st := guest.State()
		return st.Room.Status == domain.StatusFinished && domain.AllFinished(st.Players)
	})
	oldQuestions := guest.State().Room.QuestionIDs

	if err := owner.StartReplay(f.ctx); err != nil {
		t.Fatalf("replay: %v", err)
	}
	// The reset only arrives as a roster change; the room comes from the refetch.
	waitFor(t, "guest to refetch the room", func() bool {
		return guest.State().Room.Status == domain.StatusWaiting
	})
	st := guest.State()
	if st.Self.IsFinished || st.Self.CurrentQuestionIndex != 0 {
		t.Fatalf("expected reset self, got %+v", st.Self)
	}
	if equalIDs(st.Room.QuestionIDs, oldQuestions) {
		t.Fatalf("expected a fresh question set")
	}
}

func TestUnknownPlayerChangeRefetchesRoster(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.device(t)
	created, _ := owner.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})

	// Insert behind the bus's back, then announce only the single player.
	p, err := f.raw.InsertPlayer(f.ctx, domain.Player{RoomID: created.Room.ID, DeviceID: "dev-x", Nickname: "X", JoinedAt: f.clock.Now()})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = f.bus.Publish(f.ctx, domain.PlayerChanged{Player: p})
	waitFor(t, "roster refetch", func() bool { return len(owner.State().Players) == 2 })
}

func TestHeartbeatTouchesSelf(t *testing.T) {
	f := newFixture(t)
	c, _ := f.device(t, app.WithHeartbeatInterval(15*time.Second))
	created, _ := c.CreateRoom(f.ctx, 3, 0, "dev-owner", "Ada", domain.Settings{})
	start := f.clock.Now()

	if err := f.clock.BlockUntilContext(f.ctx, 1); err != nil {
		t.Fatalf("heartbeat ticker: %v", err)
	}
	f.clock.Advance(15 * time.Second)
	waitFor(t, "heartbeat", func() bool {
		p, _ := f.raw.GetPlayer(f.ctx, created.Self.ID)
		return p.LastHeartbeat.Equal(start.Add(15 * time.Second))
	})
}

func TestPeerGoesOfflineAfterMissedHeartbeats(t *testing.T) {
	f := newFixture(t)
	host, _ := f.device(t)
	created, _ := host.CreateRoom(f.ctx, 3, 0, "dev-a", "Ada", domain.Settings{})
	guest, _ := f.device(t)
	joined, _ := guest.JoinRoom(f.ctx, created.Room.Code, "dev-b", "Bob")

	_ = f.repo.TouchHeartbeat(f.ctx, joined.Self.ID, f.clock.Now())
	waitFor(t, "guest heartbeat seen", func() bool {
		for _, p := range host.State().Players {
			if p.ID == joined.Self.ID && !p.LastHeartbeat.IsZero() {
				return true
			}
		}
		return false
	})
	if len(host.OfflinePeers()) != 0 {
		t.Fatalf("fresh heartbeat must count as online")
	}

	f.clock.Advance(46 * time.Second)
	offline := host.OfflinePeers()
	if len(offline) != 1 || offline[0].ID != joined.Self.ID {
		t.Fatalf("expected guest offline, got %+v", offline)
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
