package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
)

// MatchTimer runs the per-question countdown for one player and the room-wide cutoff.
//
// The countdown synthesizes a timeout submission when it reaches zero and advances
// without the result pause. The cutoff force-finishes every unfinished player once
// per match, no matter how many clients or checks observe the overrun.
type MatchTimer struct {
	game  *GameController
	repo  RoomRepository
	clock clockwork.Clock
	log   *zap.Logger

	resultPause    time.Duration
	cutoffInterval time.Duration
	tickInterval   time.Duration

	mu            sync.Mutex
	room          domain.Room
	playerID      string
	gen           uint64
	stopped       bool
	counting      bool
	secondsLeft   int
	questionStart time.Time
	pending       clockwork.Timer
	cutoffFired   bool
	cutoffMatch   time.Time
}

func NewMatchTimer(game *GameController, repo RoomRepository, room domain.Room, playerID string, opts ...Option) *MatchTimer {
	o := buildOptions(opts)
	t := &MatchTimer{
		game:           game,
		repo:           repo,
		clock:          o.clock,
		log:            o.log.Named("timer").With(zap.String("room_id", room.ID), zap.String("player_id", playerID)),
		resultPause:    o.resultPause,
		cutoffInterval: o.cutoffCheckInterval,
		tickInterval:   o.countdownTick,
		playerID:       playerID,
	}
	t.setRoomLocked(room)
	return t
}

// SetRoom feeds a fresh room record. A new startedAt starts a new match and re-arms the cutoff.
func (t *MatchTimer) SetRoom(room domain.Room) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRoomLocked(room)
}

func (t *MatchTimer) setRoomLocked(room domain.Room) {
	var started time.Time
	if room.StartedAt != nil {
		started = *room.StartedAt
	}
	if !started.Equal(t.cutoffMatch) {
		t.cutoffMatch = started
		t.cutoffFired = false
	}
	t.room = room
}

// BeginQuestion restarts the countdown for the question now current in the game.
func (t *MatchTimer) BeginQuestion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.gen++
	t.counting = true
	t.secondsLeft = t.room.TimePerQuestionSec
	t.questionStart = t.clock.Now()
}

// SecondsLeft is the countdown value shown to the player.
func (t *MatchTimer) SecondsLeft() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.secondsLeft
}

// Tick moves the countdown by one step and submits a timeout when it runs out.
func (t *MatchTimer) Tick(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || !t.counting {
		t.mu.Unlock()
		return
	}
	if t.secondsLeft > 0 {
		t.secondsLeft--
	}
	expired := t.secondsLeft == 0
	gen := t.gen
	t.mu.Unlock()

	if expired {
		if _, err := t.submit(ctx, gen, nil, nil, true); err != nil {
			t.log.Warn("timeout submission failed", zap.Error(err))
		}
	}
}

// Answer submits the player's choice for the current question. Answers after the
// match cutoff are dropped.
func (t *MatchTimer) Answer(ctx context.Context, selected *int, text *string) (bool, error) {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()
	return t.submit(ctx, gen, selected, text, false)
}

func (t *MatchTimer) submit(ctx context.Context, gen uint64, selected *int, text *string, timeout bool) (bool, error) {
	now := t.clock.Now()

	t.mu.Lock()
	if t.stopped || gen != t.gen || !t.counting {
		t.mu.Unlock()
		return false, nil
	}
	room := t.room
	if cutoff, ok := room.Cutoff(); ok && !now.Before(cutoff) {
		t.mu.Unlock()
		return false, nil
	}
	t.counting = false
	elapsed := min(now.Sub(t.questionStart), room.TimePerQuestion())
	t.mu.Unlock()

	before := t.game.State()
	if before.Submission == SubmissionSubmitted {
		// Answered before a reload; only the advance is missing.
		t.advance(context.WithoutCancel(ctx), gen)
		return false, nil
	}
	if before.Submission != SubmissionIdle {
		return false, nil
	}

	correct, err := t.game.SubmitAnswer(ctx, room.ID, t.playerID, selected, text, elapsed.Milliseconds())
	if err != nil {
		t.mu.Lock()
		if gen == t.gen {
			t.counting = true
		}
		t.mu.Unlock()
		return false, err
	}
	if t.game.State().Submission != SubmissionSubmitted {
		return false, nil
	}

	bg := context.WithoutCancel(ctx)
	if timeout {
		t.advance(bg, gen)
		return correct, nil
	}

	t.mu.Lock()
	if gen == t.gen && !t.stopped {
		t.pending = t.clock.AfterFunc(t.resultPause, func() { t.advance(bg, gen) })
	}
	t.mu.Unlock()
	return correct, nil
}

// advance moves to the next question or finishes the game on the last one.
func (t *MatchTimer) advance(ctx context.Context, gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	room := t.room
	t.mu.Unlock()

	if t.game.State().IsLast() {
		if err := t.game.FinishGame(ctx, room.ID, t.playerID); err != nil {
			t.log.Warn("finish game", zap.Error(err))
		}
		return
	}
	// Re-arm first so an answer racing the pointer move sees the new generation.
	t.BeginQuestion()
	t.game.NextQuestion()
}

// CheckCutoff force-finishes the room when the match overran. It reports whether
// this call fired the force-finish. The stored room is consulted before firing, so
// a match that already finished keeps its finishedAt even without SetRoom.
func (t *MatchTimer) CheckCutoff(ctx context.Context) bool {
	now := t.clock.Now()

	t.mu.Lock()
	room := t.room
	if t.cutoffFired || room.Status != domain.StatusPlaying {
		t.mu.Unlock()
		return false
	}
	cutoff, ok := room.Cutoff()
	t.mu.Unlock()
	if !ok || now.Before(cutoff) {
		return false
	}

	stored, err := t.repo.GetRoom(ctx, room.ID)
	if err != nil {
		t.log.Warn("fetch room for cutoff", zap.Error(err))
		return false
	}

	t.mu.Lock()
	if stored.Status != domain.StatusPlaying {
		// Later checks short-circuit on the cached status until SetRoom brings a new match.
		t.room = stored
		t.mu.Unlock()
		return false
	}
	if t.cutoffFired {
		t.mu.Unlock()
		return false
	}
	t.cutoffFired = true
	t.mu.Unlock()

	t.log.Info("match cutoff reached", zap.Time("cutoff", cutoff))
	err = t.repo.ForceFinishUnfinished(ctx, room.ID, room.QuestionsCount, room.TimePerQuestionSec, now)
	if err == nil {
		err = t.repo.UpdateRoomStatus(ctx, room.ID, domain.StatusFinished, now)
	}
	if err != nil {
		t.log.Warn("force finish", zap.Error(err))
	}
	return true
}

// Run drives the countdown and the cutoff check until ctx ends or Stop is called.
func (t *MatchTimer) Run(ctx context.Context) {
	tick := t.clock.NewTicker(t.tickInterval)
	defer tick.Stop()
	cutoff := t.clock.NewTicker(t.cutoffInterval)
	defer cutoff.Stop()

	t.CheckCutoff(ctx)
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-tick.Chan():
			if t.isStopped() {
				return
			}
			t.Tick(ctx)
		case <-cutoff.Chan():
			if t.isStopped() {
				return
			}
			t.CheckCutoff(ctx)
		}
	}
}

func (t *MatchTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stop cancels the countdown and any pending advance. Callbacks already scheduled become no-ops.
func (t *MatchTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.gen++
	t.counting = false
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
