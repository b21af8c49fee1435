package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/infra/memory"
	"quiz-room-sync/internal/session"
)

func newTestStore() (*session.Store, *memory.KV, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	kv := memory.NewKV()
	return session.NewStore(kv, session.WithClock(clock)), kv, clock
}

func TestStoreReadsActiveRoomUntilExpiry(t *testing.T) {
	ctx := context.Background()
	store, kv, clock := newTestStore()

	expires := clock.Now().Add(time.Second)
	if err := store.SetActiveRoom(ctx, domain.Room{ID: "room-1", Code: "ABCDEF"}, expires); err != nil {
		t.Fatalf("set: %v", err)
	}
	if id, ok, _ := store.ActiveRoomID(ctx); !ok || id != "room-1" {
		t.Fatalf("expected room-1, got %q %v", id, ok)
	}
	if code, ok, _ := store.ActiveRoomCode(ctx); !ok || code != "ABCDEF" {
		t.Fatalf("expected ABCDEF, got %q %v", code, ok)
	}

	clock.Advance(time.Second + time.Millisecond)
	if _, ok, _ := store.ActiveRoomID(ctx); ok {
		t.Fatalf("expected expired entry to be absent")
	}
	if _, ok, _ := kv.Get(ctx, session.KeyActiveRoomID); ok {
		t.Fatalf("expected expired entry to be evicted")
	}
}

func TestStoreMigratesLegacyValues(t *testing.T) {
	ctx := context.Background()
	store, kv, _ := newTestStore()

	_ = kv.Set(ctx, session.KeyActiveRoomCode, "ZZZZZZ")
	code, ok, err := store.ActiveRoomCode(ctx)
	if err != nil || !ok || code != "ZZZZZZ" {
		t.Fatalf("expected legacy value, got %q %v %v", code, ok, err)
	}
	raw, _, _ := kv.Get(ctx, session.KeyActiveRoomCode)
	if !strings.Contains(raw, `"value":"ZZZZZZ"`) || !strings.Contains(raw, `"expiresAtMs"`) {
		t.Fatalf("expected wrapped record, got %s", raw)
	}
}

func TestStoreEvictsRecordsWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	store, kv, _ := newTestStore()

	_ = kv.Set(ctx, session.KeyActiveRoomID, `{"value":"room-9"}`)
	if _, ok, _ := store.ActiveRoomID(ctx); ok {
		t.Fatalf("expected record without expiry to be treated as absent")
	}
	_ = kv.Set(ctx, session.KeyActiveRoomID, `{"value":"room-9","expiresAtMs":-5}`)
	if _, ok, _ := store.ActiveRoomID(ctx); ok {
		t.Fatalf("expected non-positive expiry to be treated as absent")
	}
}

func TestStoreDefaultTTL(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore()

	if err := store.Set(ctx, "k", "v", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(99 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected value inside default ttl")
	}
	clock.Advance(time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected value gone after default ttl")
	}
}

func TestStoreClearActiveRoom(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	_ = store.SetActiveRoom(ctx, domain.Room{ID: "room-3", Code: "AAAAAA"}, time.Time{})
	if err := store.ClearActiveRoom(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.ActiveRoomID(ctx); ok {
		t.Fatalf("expected id cleared")
	}
	if _, ok, _ := store.ActiveRoomCode(ctx); ok {
		t.Fatalf("expected code cleared")
	}
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.Room{QuestionsCount: 10, TimePerQuestionSec: 3}

	if got := session.ExpiresAt(room, now); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("fallback: got %v", got)
	}
	room.ExpiresAt = now.Add(time.Minute)
	if got := session.ExpiresAt(room, now); !got.Equal(room.ExpiresAt) {
		t.Fatalf("expires_at: got %v", got)
	}
	started := now.Add(10 * time.Second)
	room.StartedAt = &started
	if got := session.ExpiresAt(room, now); !got.Equal(started.Add(30 * time.Second)) {
		t.Fatalf("started_at: got %v", got)
	}
}
