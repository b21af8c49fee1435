// Package session keeps the active room across reloads in an expiring key/value cache.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/domain"
)

// Logical keys of the active room.
const (
	KeyActiveRoomID   = "bb_active_room_id"
	KeyActiveRoomCode = "bb_active_room_code"
)

// Backend is the raw string store underneath the session cache.
// Get reports ok=false for a missing key.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type record struct {
	Value       string `json:"value"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// DefaultTTL is the time budget of a match with the given settings.
func DefaultTTL(questionsCount, timePerQuestionSec int) time.Duration {
	return time.Duration(questionsCount) * time.Duration(timePerQuestionSec) * time.Second
}

// ExpiresAt derives how long a room should stay resumable: the match cutoff once
// started, else the room's own expiry, else now plus the match duration.
func ExpiresAt(room domain.Room, now time.Time) time.Time {
	if cutoff, ok := room.Cutoff(); ok {
		return cutoff
	}
	if !room.ExpiresAt.IsZero() {
		return room.ExpiresAt
	}
	return now.Add(room.MatchDuration())
}

// Store wraps each value with its expiry. It has a single writer per client.
type Store struct {
	backend    Backend
	clock      clockwork.Clock
	defaultTTL time.Duration
	log        *zap.Logger
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func WithDefaultTTL(d time.Duration) Option { return func(s *Store) { s.defaultTTL = d } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		clock:      clockwork.NewRealClock(),
		defaultTTL: DefaultTTL(domain.DefaultQuestionsCount, domain.DefaultTimePerQuestionSec),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value for key. Expired or malformed entries are evicted;
// legacy bare strings are rewrapped with the default TTL.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	now := s.clock.Now()
	rec, wrapped := decode(raw)
	if !wrapped {
		// legacy entry written before expiries existed
		if err := s.Set(ctx, key, raw, now.Add(s.defaultTTL)); err != nil {
			return "", false, err
		}
		s.log.Debug("migrated legacy session entry", zap.String("key", key))
		return raw, true, nil
	}

	if rec.ExpiresAtMs <= 0 || rec.ExpiresAtMs <= now.UnixMilli() {
		if err := s.backend.Delete(ctx, key); err != nil {
			return "", false, fmt.Errorf("evict %s: %w", key, err)
		}
		return "", false, nil
	}
	return rec.Value, true, nil
}

// Set stores value until expiresAt; a zero expiresAt applies the default TTL.
func (s *Store) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		expiresAt = s.clock.Now().Add(s.defaultTTL)
	}
	raw, err := json.Marshal(record{Value: value, ExpiresAtMs: expiresAt.UnixMilli()})
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SetActiveRoom remembers room id and code until expiresAt.
func (s *Store) SetActiveRoom(ctx context.Context, room domain.Room, expiresAt time.Time) error {
	if err := s.Set(ctx, KeyActiveRoomID, room.ID, expiresAt); err != nil {
		return err
	}
	return s.Set(ctx, KeyActiveRoomCode, room.Code, expiresAt)
}

func (s *Store) ActiveRoomID(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, KeyActiveRoomID)
}

func (s *Store) ActiveRoomCode(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, KeyActiveRoomCode)
}

// ClearActiveRoom forgets both keys; the first failure is returned after trying both.
func (s *Store) ClearActiveRoom(ctx context.Context) error {
	errID := s.Delete(ctx, KeyActiveRoomID)
	errCode := s.Delete(ctx, KeyActiveRoomCode)
	if errID != nil {
		return errID
	}
	return errCode
}

// decode reports wrapped=false for bare legacy strings. A JSON object without
// an expiry decodes with ExpiresAtMs 0 and is later treated as expired.
func decode(raw string) (record, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return record{}, false
	}
	return rec, true
}
