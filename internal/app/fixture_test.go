package app_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/infra/memory"
	"quiz-room-sync/internal/realtime"
	"quiz-room-sync/internal/session"
)

type fixture struct {
	ctx   context.Context
	clock *clockwork.FakeClock
	raw   *memory.RoomRepository
	bus   *memory.Bus
	repo  app.RoomRepository
	bank  app.QuestionBank
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	raw := memory.NewRoomRepository()
	bus := memory.NewBus()
	return &fixture{
		ctx:   ctx,
		clock: clock,
		raw:   raw,
		bus:   bus,
		repo:  realtime.NewNotifyingRepository(raw, bus, nil),
		bank:  memory.NewQuestionBank(memory.NewStaticQuestionLoader(gradeThreeQuestions(12)), time.Minute, clock),
	}
}

func (f *fixture) opts(extra ...app.Option) []app.Option {
	return append([]app.Option{
		app.WithClock(f.clock),
		app.WithRand(rand.New(rand.NewSource(7))),
		app.WithHeartbeatInterval(0),
	}, extra...)
}

// device returns a room controller with its own session storage, like a separate browser.
func (f *fixture) device(t *testing.T, extra ...app.Option) (*app.RoomController, *session.Store) {
	t.Helper()
	store := session.NewStore(memory.NewKV(), session.WithClock(f.clock))
	c := app.NewRoomController(f.repo, f.bank, f.bus, store, f.opts(extra...)...)
	t.Cleanup(c.Close)
	return c, store
}

// gradeThreeQuestions builds n multiple-choice questions whose correct option is 1.
func gradeThreeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		correct := 1
		qs[i] = domain.Question{
			ID:                 fmt.Sprintf("q%02d", i),
			Grade:              3,
			Term:               1,
			Text:               fmt.Sprintf("%d + 1?", i),
			Type:               domain.MultipleChoice,
			Options:            []string{"wrong", "right"},
			CorrectOptionIndex: &correct,
		}
	}
	return qs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func intPtr(v int) *int { return &v }
