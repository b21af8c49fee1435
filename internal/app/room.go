package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/presence"
	"quiz-room-sync/internal/session"
)

// RoomController owns the room lifecycle machine for one device: which room it
// is in, the live roster and its own player entry.
type RoomController struct {
	repo     RoomRepository
	bank     QuestionBank
	bus      Bus
	sessions *session.Store
	opts     options
	clock    clockwork.Clock
	log      *zap.Logger

	mu       sync.Mutex
	state    RoomState
	sub      *roomSubscription
	starting bool
	watchers *broadcaster[RoomState]
}

// roomSubscription is the live bus subscription and heartbeat of one activation.
// Callbacks holding a subscription that is no longer current are dropped.
type roomSubscription struct {
	roomID          string
	cancel          context.CancelFunc
	wasAllFinished  bool
	refreshInFlight bool
}

func NewRoomController(repo RoomRepository, bank QuestionBank, bus Bus, sessions *session.Store, opts ...Option) *RoomController {
	o := buildOptions(opts)
	return &RoomController{
		repo:     repo,
		bank:     bank,
		bus:      bus,
		sessions: sessions,
		opts:     o,
		clock:    o.clock,
		log:      o.log.Named("room"),
		watchers: newBroadcaster[RoomState](),
	}
}

// State returns the current snapshot.
func (c *RoomController) State() RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch streams snapshots starting with the current one. Slow readers skip intermediate snapshots.
func (c *RoomController) Watch() (<-chan RoomState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchers.subscribe(c.state)
}

func (c *RoomController) dispatch(m roomMsg) RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = reduceRoom(c.state, m)
	c.watchers.publish(c.state)
	return c.state
}

// dispatchFor applies m only while sub is still the live subscription.
func (c *RoomController) dispatchFor(sub *roomSubscription, m roomMsg) (RoomState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return c.state, false
	}
	c.state = reduceRoom(c.state, m)
	c.watchers.publish(c.state)
	return c.state, true
}

func (c *RoomController) fail(err error) (RoomState, error) {
	return c.dispatch(msgLoadFailed{err: err}), err
}

// CreateRoom allocates a room with a fresh code and question set and joins it as owner.
func (c *RoomController) CreateRoom(ctx context.Context, grade, term int, deviceID, nickname string, settings domain.Settings) (RoomState, error) {
	nickname, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return c.dispatch(msgRoomError{err: err}), err
	}

	c.detach()
	c.dispatch(msgLoading{})

	now := c.clock.Now()
	room := applySettings(domain.Room{Grade: grade, Term: term}, settings, now)

	ids, err := c.drawQuestionIDs(ctx, grade, term, room.QuestionsCount)
	if err != nil {
		return c.fail(err)
	}
	room.QuestionIDs = ids

	code, err := c.uniqueCode(ctx)
	if err != nil {
		return c.fail(err)
	}
	room.Code = code
	room.Status = domain.StatusWaiting
	room.CreatedAt = now
	room.ExpiresAt = now.Add(c.opts.roomTTL)

	room, err = c.repo.CreateRoom(ctx, room)
	if err != nil {
		return c.fail(domain.Collaborator("create room", err))
	}

	owner, err := c.repo.InsertPlayer(ctx, domain.Player{
		RoomID:        room.ID,
		DeviceID:      deviceID,
		Nickname:      nickname,
		IsOwner:       true,
		JoinedAt:      now,
		LastHeartbeat: now,
	})
	if err != nil {
		return c.fail(domain.Collaborator("join room as owner", err))
	}

	c.log.Info("room created", zap.String("room_id", room.ID), zap.String("code", room.Code),
		zap.Int("grade", grade), zap.Int("term", term))
	return c.activate(ctx, room, []domain.Player{owner}, owner), nil
}

func applySettings(room domain.Room, s domain.Settings, now time.Time) domain.Room {
	room.QuestionsCount = orDefault(s.QuestionsCount, domain.DefaultQuestionsCount)
	room.TimePerQuestionSec = orDefault(s.TimePerQuestionSec, domain.DefaultTimePerQuestionSec)
	room.MaxPlayers = orDefault(s.MaxPlayers, domain.DefaultMaxPlayers)
	room.IsPublic = s.IsPublic == nil || *s.IsPublic
	room.Name = s.Name
	if room.Name == "" {
		room.Name = fmt.Sprintf("P%d Challenge - %s", room.Grade, now.Format("Jan 2, 3:04 PM"))
	}
	return room
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// drawQuestionIDs picks count random question ids for a grade and term.
func (c *RoomController) drawQuestionIDs(ctx context.Context, grade, term, count int) ([]string, error) {
	pool, err := c.bank.QuestionIDs(ctx, grade, term)
	if err != nil {
		return nil, domain.Collaborator("fetch question ids", err)
	}
	if len(pool) < count {
		return nil, &domain.CreationError{Grade: grade, Term: term, Found: len(pool), Need: count}
	}
	ids := append([]string(nil), pool...)
	c.opts.rnd.shuffle(ids)
	return ids[:count], nil
}

func (c *RoomController) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := domain.GenerateRoomCode()
		if err != nil {
			return "", err
		}
		taken, err := c.repo.RoomCodeExists(ctx, code)
		if err != nil {
			return "", domain.Collaborator("check room code", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", &domain.CreationError{Reason: "failed to generate a unique room code"}
}

// JoinRoom joins the room with the given code. A device already in the roster gets its
// existing entry back regardless of room status.
func (c *RoomController) JoinRoom(ctx context.Context, code, deviceID, nickname string) (RoomState, error) {
	code, err := domain.NormalizeRoomCode(code)
	if err != nil {
		return c.dispatch(msgRoomError{err: err}), err
	}
	nickname, err = domain.NormalizeNickname(nickname)
	if err != nil {
		return c.dispatch(msgRoomError{err: err}), err
	}

	c.detach()
	c.dispatch(msgLoading{})

	room, err := c.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return c.fail(domain.Collaborator("find room", err))
	}
	return c.join(ctx, room, deviceID, nickname)
}

// JoinRoomByID joins a room picked from the lobby.
func (c *RoomController) JoinRoomByID(ctx context.Context, roomID, deviceID, nickname string) (RoomState, error) {
	nickname, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return c.dispatch(msgRoomError{err: err}), err
	}

	c.detach()
	c.dispatch(msgLoading{})

	room, err := c.repo.GetRoom(ctx, roomID)
	if err != nil {
		return c.fail(domain.Collaborator("get room", err))
	}
	return c.join(ctx, room, deviceID, nickname)
}

func (c *RoomController) join(ctx context.Context, room domain.Room, deviceID, nickname string) (RoomState, error) {
	if room.IsExpired(c.clock.Now()) {
		return c.fail(domain.ErrRoomNotFound)
	}

	self, err := c.repo.FindPlayer(ctx, room.ID, deviceID)
	switch {
	case err == nil:
		c.log.Debug("device already in roster", zap.String("room_id", room.ID), zap.String("player_id", self.ID))
	case errors.Is(err, domain.ErrPlayerNotFound):
		self, err = c.admit(ctx, room, deviceID, nickname)
		if err != nil {
			return c.fail(err)
		}
	default:
		return c.fail(domain.Collaborator("find player", err))
	}

	players, err := c.repo.ListPlayers(ctx, room.ID)
	if err != nil {
		return c.fail(domain.Collaborator("list players", err))
	}
	return c.activate(ctx, room, players, self), nil
}

func (c *RoomController) admit(ctx context.Context, room domain.Room, deviceID, nickname string) (domain.Player, error) {
	if room.Status != domain.StatusWaiting {
		return domain.Player{}, domain.ErrRoomNotAcceptingPlayers
	}
	n, err := c.repo.CountPlayers(ctx, room.ID)
	if err != nil {
		return domain.Player{}, domain.Collaborator("count players", err)
	}
	if n >= room.MaxPlayers {
		return domain.Player{}, domain.ErrRoomFull
	}

	now := c.clock.Now()
	p, err := c.repo.InsertPlayer(ctx, domain.Player{
		RoomID:        room.ID,
		DeviceID:      deviceID,
		Nickname:      nickname,
		JoinedAt:      now,
		LastHeartbeat: now,
	})
	if errors.Is(err, domain.ErrDuplicatePlayer) {
		// Lost a race with another join from the same device.
		p, err = c.repo.FindPlayer(ctx, room.ID, deviceID)
	}
	if err != nil {
		return domain.Player{}, domain.Collaborator("insert player", err)
	}
	c.log.Info("player joined", zap.String("room_id", room.ID), zap.String("player_id", p.ID))
	return p, nil
}

// LoadRoom re-enters a room this device already belongs to.
func (c *RoomController) LoadRoom(ctx context.Context, roomID, deviceID string) (RoomState, error) {
	c.detach()
	c.dispatch(msgLoading{})

	room, err := c.repo.GetRoom(ctx, roomID)
	if err == nil && room.IsExpired(c.clock.Now()) {
		err = domain.ErrRoomNotFound
	}
	if err != nil {
		return c.fail(domain.Collaborator("get room", err))
	}

	players, err := c.repo.ListPlayers(ctx, room.ID)
	if err != nil {
		return c.fail(domain.Collaborator("list players", err))
	}
	for _, p := range players {
		if p.DeviceID == deviceID {
			return c.activate(ctx, room, players, p), nil
		}
	}

	c.clearSession(ctx)
	return c.fail(domain.ErrPlayerNotFound)
}

// Resume restores the persisted active room: by id first, then by rejoining with the stored code.
func (c *RoomController) Resume(ctx context.Context, deviceID string) (RoomState, error) {
	loadErr := domain.ErrRoomNotFound
	if id, ok := c.sessionValue(ctx, c.sessions.ActiveRoomID); ok {
		st, err := c.LoadRoom(ctx, id, deviceID)
		if err == nil {
			return st, nil
		}
		loadErr = err
	}
	code, ok := c.sessionValue(ctx, c.sessions.ActiveRoomCode)
	if !ok {
		return c.State(), loadErr
	}
	return c.JoinRoom(ctx, code, deviceID, "Rejoin")
}

func (c *RoomController) sessionValue(ctx context.Context, get func(context.Context) (string, bool, error)) (string, bool) {
	if c.sessions == nil {
		return "", false
	}
	v, ok, err := get(ctx)
	if err != nil {
		c.log.Warn("read session", zap.Error(err))
		return "", false
	}
	return v, ok
}

func (c *RoomController) activate(ctx context.Context, room domain.Room, players []domain.Player, self domain.Player) RoomState {
	st := c.dispatch(msgActivated{room: room, players: players, self: self})
	c.persistSession(ctx, room)
	c.attach(ctx, room.ID, st.Self.ID, domain.AllFinished(st.Players))
	return st
}

func (c *RoomController) persistSession(ctx context.Context, room domain.Room) {
	if c.sessions == nil {
		return
	}
	nonCritical(ctx, c.log, "persist session", func(ctx context.Context) error {
		return c.sessions.SetActiveRoom(ctx, room, session.ExpiresAt(room, c.clock.Now()))
	})
}

func (c *RoomController) clearSession(ctx context.Context) {
	if c.sessions == nil {
		return
	}
	nonCritical(ctx, c.log, "clear session", c.sessions.ClearActiveRoom)
}

// attach opens the bus subscription and heartbeat for an activation. Both outlive
// the caller's context and stop on detach.
func (c *RoomController) attach(ctx context.Context, roomID, selfID string, allFinished bool) {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &roomSubscription{roomID: roomID, cancel: cancel, wasAllFinished: allFinished}

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	if c.bus != nil {
		events, stop, err := c.bus.Subscribe(bg, roomID)
		if err != nil {
			c.log.Warn("subscribe to room", zap.String("room_id", roomID), zap.Error(err))
		} else {
			go func() {
				defer stop()
				c.consume(bg, sub, events)
			}()
		}
	}
	if c.opts.heartbeatInterval > 0 {
		go c.heartbeat(bg, selfID)
	}
}

// detach releases the live subscription, if any.
func (c *RoomController) detach() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

func (c *RoomController) consume(ctx context.Context, sub *roomSubscription, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, sub, ev)
		}
	}
}

func (c *RoomController) handleEvent(ctx context.Context, sub *roomSubscription, ev domain.Event) {
	if ev.RoomID() != sub.roomID {
		return
	}
	switch e := ev.(type) {
	case domain.RoomChanged:
		if st, ok := c.dispatchFor(sub, msgRoomChanged{room: e.Room}); ok {
			c.persistSession(ctx, st.Room)
		}
	case domain.PlayerChanged:
		if !containsPlayer(c.State().Players, e.Player.ID) {
			c.refreshRoster(ctx, sub)
			return
		}
		if _, ok := c.dispatchFor(sub, msgPlayerChanged{player: e.Player}); ok {
			c.detectReplay(ctx, sub)
		}
	case domain.RosterReplaced:
		if _, ok := c.dispatchFor(sub, msgRosterReplaced{players: e.Players}); ok {
			c.detectReplay(ctx, sub)
		}
	}
}

// refreshRoster refetches the whole roster after an update for a player we have never seen.
func (c *RoomController) refreshRoster(ctx context.Context, sub *roomSubscription) {
	players, err := c.repo.ListPlayers(ctx, sub.roomID)
	if err != nil {
		c.log.Warn("refresh roster", zap.String("room_id", sub.roomID), zap.Error(err))
		return
	}
	if _, ok := c.dispatchFor(sub, msgRosterReplaced{players: players}); ok {
		c.detectReplay(ctx, sub)
	}
}

// detectReplay refetches the room when the roster moves from all finished to not all
// finished, which is how a replay reset shows up on the roster stream.
func (c *RoomController) detectReplay(ctx context.Context, sub *roomSubscription) {
	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	all := domain.AllFinished(c.state.Players)
	edge := sub.wasAllFinished && !all
	sub.wasAllFinished = all
	if !edge || sub.refreshInFlight {
		c.mu.Unlock()
		return
	}
	sub.refreshInFlight = true
	c.mu.Unlock()

	go func() {
		room, err := c.repo.GetRoom(ctx, sub.roomID)

		c.mu.Lock()
		sub.refreshInFlight = false
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("refresh room after replay", zap.String("room_id", sub.roomID), zap.Error(err))
			return
		}
		c.dispatchFor(sub, msgRoomChanged{room: room})
	}()
}

func (c *RoomController) heartbeat(ctx context.Context, playerID string) {
	beat := func() {
		nonCritical(ctx, c.log, "heartbeat", func(ctx context.Context) error {
			return c.repo.TouchHeartbeat(ctx, playerID, c.clock.Now())
		})
	}
	beat()

	ticker := c.clock.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			beat()
		}
	}
}

// OfflinePeers lists roster members other than self whose heartbeat is older than
// the presence threshold.
func (c *RoomController) OfflinePeers() []domain.Player {
	st := c.State()
	if !st.Active() {
		return nil
	}
	return presence.Offline(st.Players, st.Self.ID, c.clock.Now(), presence.DefaultThreshold)
}

// SetReady flips self's ready flag locally first, then persists it.
// A failed write leaves the optimistic value in place and records the error.
func (c *RoomController) SetReady(ctx context.Context, ready bool) error {
	st := c.State()
	if !st.Active() {
		return nil
	}
	c.dispatch(msgReadySet{ready: ready})
	if err := c.repo.SetPlayerReady(ctx, st.Self.ID, ready); err != nil {
		err = domain.Collaborator("set ready", err)
		c.dispatch(msgRoomError{err: err})
		return err
	}
	return nil
}

// StartGame moves the room to playing. It is a no-op unless self is the owner, at least
// two players are all ready and no start is already in flight.
func (c *RoomController) StartGame(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	if !st.CanStart() || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	now := c.clock.Now()
	if err := c.repo.UpdateRoomStatus(ctx, st.Room.ID, domain.StatusPlaying, now); err != nil {
		err = domain.Collaborator("start game", err)
		c.dispatch(msgRoomError{err: err})
		return err
	}
	room := st.Room
	room.Status = domain.StatusPlaying
	room.StartedAt = &now
	c.dispatch(msgRoomChanged{room: room})
	c.log.Info("game started", zap.String("room_id", room.ID), zap.Int("players", len(st.Players)))
	return nil
}

// StartReplay resets a finished room with a fresh question set. Owner only.
func (c *RoomController) StartReplay(ctx context.Context) error {
	st := c.State()
	if !st.Active() || !st.Self.IsOwner {
		return nil
	}
	room := st.Room
	if room.Status != domain.StatusFinished {
		// The finish may not have reached this client yet.
		fresh, err := c.repo.GetRoom(ctx, room.ID)
		if err != nil {
			err = domain.Collaborator("fetch room", err)
			c.dispatch(msgRoomError{err: err})
			return err
		}
		room = fresh
	}
	if room.Status != domain.StatusFinished {
		return &domain.ValidationError{Field: "status", Reason: "replay needs a finished room, got " + string(room.Status)}
	}
	ids, err := c.drawQuestionIDs(ctx, room.Grade, room.Term, room.QuestionsCount)
	if err == nil {
		err = domain.Collaborator("reset room", c.repo.ResetForReplay(ctx, room.ID, ids))
	}
	if err != nil {
		c.dispatch(msgRoomError{err: err})
		return err
	}
	c.log.Info("replay started", zap.String("room_id", room.ID))
	return nil
}

// LeaveRoom removes self from the roster, best effort, and returns to idle.
func (c *RoomController) LeaveRoom(ctx context.Context) {
	st := c.State()
	c.detach()
	if st.Active() {
		nonCritical(ctx, c.log, "leave room", func(ctx context.Context) error {
			return c.repo.DeletePlayer(ctx, st.Self.ID)
		})
	}
	c.clearSession(ctx)
	c.dispatch(msgRoomCleared{})
}

// Reset drops all local room state without touching the roster.
func (c *RoomController) Reset(ctx context.Context) {
	c.detach()
	c.clearSession(ctx)
	c.dispatch(msgRoomCleared{})
}

// Close stops the subscription and heartbeat but keeps the session for a later Resume.
func (c *RoomController) Close() {
	c.detach()
}
