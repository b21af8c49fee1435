package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/infra/memory"
	"quiz-room-sync/internal/session"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestQuestionCacheCachesInRedis(t *testing.T) {
	client, mr := newClient(t)
	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions())}
	cache := NewQuestionCache(client, loader, time.Minute, nil)
	ctx := context.Background()

	ids, err := cache.QuestionIDs(ctx, 5, 0)
	if err != nil {
		t.Fatalf("question ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "q1" || ids[1] != "q2" {
		t.Fatalf("unexpected pool %v", ids)
	}
	// Second call should hit cache, loader not incremented.
	if _, err := cache.QuestionIDs(ctx, 5, 0); err != nil || loader.idCalls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d err=%v", loader.idCalls, err)
	}
	if !mr.Exists(poolKey(5, 0)) {
		t.Fatalf("expected pool key in redis")
	}

	qs, err := cache.QuestionsByIDs(ctx, []string{"q1", "q2"})
	if err != nil || len(qs) != 2 {
		t.Fatalf("questions: %v %v", qs, err)
	}
	qs, err = cache.QuestionsByIDs(ctx, []string{"q2", "q1"})
	if err != nil || len(qs) != 2 || loader.questionCalls != 1 {
		t.Fatalf("expected cached content, loader calls=%d err=%v", loader.questionCalls, err)
	}
	for _, q := range qs {
		if q.ID == "q1" && (q.CorrectAnswer == nil || *q.CorrectAnswer != "1/2" || q.AnswerType != domain.AnswerFraction) {
			t.Fatalf("question did not survive the cache: %+v", q)
		}
	}
}

func TestKVBacksSessionStore(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()
	store := session.NewStore(NewKV(client, "dev-1", time.Hour))

	room := domain.Room{ID: "room-1", Code: "ABCDEF"}
	if err := store.SetActiveRoom(ctx, room, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("session:dev-1:" + session.KeyActiveRoomID) {
		t.Fatalf("expected prefixed key in redis")
	}
	if id, ok, err := store.ActiveRoomID(ctx); err != nil || !ok || id != "room-1" {
		t.Fatalf("expected room-1, got %q %v %v", id, ok, err)
	}
	if err := store.ClearActiveRoom(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.ActiveRoomCode(ctx); ok {
		t.Fatalf("expected code cleared")
	}
}

func TestBusRoundTripsEvents(t *testing.T) {
	client, _ := newClient(t)
	bus := NewBus(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := bus.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := bus.Publish(ctx, domain.PlayerChanged{Player: domain.Player{ID: "p1", RoomID: "room-1", Score: 3}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-events:
		pc, ok := ev.(domain.PlayerChanged)
		if !ok || pc.Player.Score != 3 {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}

	stop()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not closed")
	}
}

type countingLoader struct {
	memory.QuestionLoader
	idCalls       int
	questionCalls int
}

func (l *countingLoader) LoadQuestionIDs(ctx context.Context, grade, term int) ([]string, error) {
	l.idCalls++
	return l.QuestionLoader.LoadQuestionIDs(ctx, grade, term)
}

func (l *countingLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	l.questionCalls++
	return l.QuestionLoader.LoadQuestions(ctx, ids)
}

func sampleQuestions() []domain.Question {
	half := "1/2"
	return []domain.Question{
		{ID: "q1", Grade: 5, Term: 1, Text: "Half of one?", Type: domain.FreeForm, AnswerType: domain.AnswerFraction, CorrectAnswer: &half},
		{ID: "q2", Grade: 5, Term: 2, Text: "Half of two?", Type: domain.FreeForm, AnswerType: domain.AnswerInteger, CorrectAnswer: new(string)},
	}
}
