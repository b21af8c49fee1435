package app

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/answer"
	"quiz-room-sync/internal/domain"
)

// GameController drives one player's question pointer, score and finish state.
type GameController struct {
	repo  RoomRepository
	bank  QuestionBank
	bus   Bus
	clock clockwork.Clock
	log   *zap.Logger

	mu       sync.Mutex
	state    GameState
	sub      *progressSubscription
	watchers *broadcaster[GameState]
}

type progressSubscription struct {
	roomID string
	cancel context.CancelFunc
}

func NewGameController(repo RoomRepository, bank QuestionBank, bus Bus, opts ...Option) *GameController {
	o := buildOptions(opts)
	return &GameController{
		repo:     repo,
		bank:     bank,
		bus:      bus,
		clock:    o.clock,
		log:      o.log.Named("game"),
		watchers: newBroadcaster[GameState](),
	}
}

func (c *GameController) State() GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch streams snapshots starting with the current one.
func (c *GameController) Watch() (<-chan GameState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchers.subscribe(c.state)
}

func (c *GameController) dispatch(m gameMsg) GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = reduceGame(c.state, m)
	c.watchers.publish(c.state)
	return c.state
}

// LoadQuestions fetches question content ordered by ids. Ids the bank does not know are skipped.
func (c *GameController) LoadQuestions(ctx context.Context, ids []string) error {
	found, err := c.bank.QuestionsByIDs(ctx, ids)
	if err != nil {
		err = domain.Collaborator("fetch questions", err)
		c.dispatch(msgGameError{err: err})
		return err
	}
	c.dispatch(msgQuestionsLoaded{questions: orderQuestions(ids, found)})
	return nil
}

func orderQuestions(ids []string, found []domain.Question) []domain.Question {
	byID := make(map[string]domain.Question, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// HydrateFromPlayer seeds progress from a persisted player row after a reload.
func (c *GameController) HydrateFromPlayer(p domain.Player) {
	c.dispatch(msgHydrated{player: p})
}

// beginSubmit moves the guard from idle to submitting and returns the question it claimed.
func (c *GameController) beginSubmit() (domain.Question, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.state.Submission
	c.state = reduceGame(c.state, msgSubmitBegin{})
	if before != SubmissionIdle || c.state.Submission != SubmissionSubmitting {
		return domain.Question{}, 0, false
	}
	c.watchers.publish(c.state)
	q, _ := c.state.Current()
	return q, c.state.Index, true
}

// SubmitAnswer scores and records one answer for the current question. It reports
// false without side effects when there is no current question or a submission
// for it already happened. Both selected and text nil records a timeout.
func (c *GameController) SubmitAnswer(ctx context.Context, roomID, playerID string, selected *int, text *string, answerTimeMs int64) (bool, error) {
	q, idx, ok := c.beginSubmit()
	if !ok {
		return false, nil
	}

	correct := answer.Validate(q, selected, text)
	fail := func(op string, err error) (bool, error) {
		err = domain.Collaborator(op, err)
		c.dispatch(msgSubmitFailed{err: err})
		return false, err
	}

	// Read-then-write: a concurrent writer to the same row is overwritten.
	p, err := c.repo.GetPlayer(ctx, playerID)
	if err != nil {
		return fail("fetch player state", err)
	}
	if p.CurrentQuestionIndex > idx {
		// Recorded before a reload; the stored result stands.
		c.dispatch(msgAlreadyAnswered{score: p.Score, totalTimeMs: p.TotalTimeMs})
		return false, nil
	}

	if _, err := c.repo.InsertAnswer(ctx, domain.Answer{
		RoomID:              roomID,
		PlayerID:            playerID,
		QuestionID:          q.ID,
		QuestionIndex:       idx,
		SelectedOptionIndex: selected,
		AnswerText:          text,
		IsCorrect:           correct,
		AnswerTimeMs:        answerTimeMs,
		AnsweredAt:          c.clock.Now(),
	}); err != nil {
		return fail("record answer", err)
	}
	score := p.Score
	if correct {
		score++
	}
	total := p.TotalTimeMs + answerTimeMs
	if err := c.repo.UpdatePlayerProgress(ctx, playerID, idx+1, score, total); err != nil {
		return fail("update progress", err)
	}

	c.dispatch(msgSubmitDone{correct: correct, score: score, totalTimeMs: total})
	c.log.Debug("answer submitted", zap.String("player_id", playerID), zap.Int("index", idx),
		zap.Bool("correct", correct), zap.Int64("answer_time_ms", answerTimeMs))
	return correct, nil
}

// NextQuestion advances the pointer; it stops at the final question.
func (c *GameController) NextQuestion() {
	c.dispatch(msgNext{})
}

// FinishGame marks the player finished and, when the whole roster is done, the room too.
func (c *GameController) FinishGame(ctx context.Context, roomID, playerID string) error {
	c.dispatch(msgFinishing{})
	if err := c.repo.MarkPlayerFinished(ctx, playerID, c.clock.Now()); err != nil {
		err = domain.Collaborator("mark player finished", err)
		c.dispatch(msgFinishFailed{err: err})
		return err
	}
	c.dispatch(msgFinished{})

	players, err := c.repo.ListPlayers(ctx, roomID)
	if err != nil {
		err = domain.Collaborator("check players finished", err)
		c.dispatch(msgGameError{err: err})
		return err
	}
	if !domain.AllFinished(players) {
		c.dispatch(msgRoster{players: players})
		return nil
	}
	if err := c.repo.UpdateRoomStatus(ctx, roomID, domain.StatusFinished, c.clock.Now()); err != nil {
		err = domain.Collaborator("mark room finished", err)
		c.dispatch(msgGameError{err: err})
		return err
	}
	c.dispatch(msgRoster{players: players})
	c.dispatch(msgAllFinished{})
	c.log.Info("all players finished", zap.String("room_id", roomID))
	return nil
}

// SubscribeToProgress follows the room's roster so the wait for others ends as soon
// as everyone is finished. It replaces any previous subscription.
func (c *GameController) SubscribeToProgress(ctx context.Context, roomID string) (func(), error) {
	c.Unsubscribe()

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &progressSubscription{roomID: roomID, cancel: cancel}

	events, stop, err := c.bus.Subscribe(bg, roomID)
	if err != nil {
		cancel()
		return func() {}, domain.Collaborator("subscribe to progress", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go func() {
		defer stop()
		c.refetchRoster(bg, sub)
		for {
			select {
			case <-bg.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.handleEvent(bg, sub, ev)
			}
		}
	}()

	return func() { c.release(sub) }, nil
}

func (c *GameController) handleEvent(ctx context.Context, sub *progressSubscription, ev domain.Event) {
	switch e := ev.(type) {
	case domain.RosterReplaced:
		c.applyRoster(sub, e.Players)
	case domain.PlayerChanged:
		roster := c.State().Players
		if !containsPlayer(roster, e.Player.ID) {
			c.refetchRoster(ctx, sub)
			return
		}
		c.applyRoster(sub, replacePlayer(roster, e.Player))
	case domain.RoomChanged:
		// Room rows carry no per-player progress.
	}
}

func (c *GameController) refetchRoster(ctx context.Context, sub *progressSubscription) {
	players, err := c.repo.ListPlayers(ctx, sub.roomID)
	if err != nil {
		c.log.Warn("fetch roster", zap.String("room_id", sub.roomID), zap.Error(err))
		return
	}
	c.applyRoster(sub, players)
}

func (c *GameController) applyRoster(sub *progressSubscription, players []domain.Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return
	}
	c.state = reduceGame(c.state, msgRoster{players: players})
	c.watchers.publish(c.state)
}

func (c *GameController) release(sub *progressSubscription) {
	c.mu.Lock()
	if c.sub == sub {
		c.sub = nil
	}
	c.mu.Unlock()
	sub.cancel()
}

// Unsubscribe stops the progress feed, if any.
func (c *GameController) Unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

// Reset drops the progress feed and all local game state.
func (c *GameController) Reset() {
	c.Unsubscribe()
	c.dispatch(msgGameReset{})
}
