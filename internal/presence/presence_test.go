package presence

import (
	"testing"
	"time"

	"quiz-room-sync/internal/domain"
)

func TestIsOnlineBoundary(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	threshold := 45 * time.Second

	atEdge := domain.Player{LastHeartbeat: now.Add(-threshold)}
	if !IsOnline(atEdge, now, threshold) {
		t.Fatalf("expected online exactly at threshold")
	}
	pastEdge := domain.Player{LastHeartbeat: now.Add(-threshold - time.Millisecond)}
	if IsOnline(pastEdge, now, threshold) {
		t.Fatalf("expected offline one millisecond past threshold")
	}
}

func TestIsOnlineZeroHeartbeatIsOffline(t *testing.T) {
	if IsPlayerOnline(domain.Player{}, time.Now()) {
		t.Fatalf("expected unknown heartbeat to be offline")
	}
}

func TestWatcherReportsDisconnectAfterMissedHeartbeats(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	self := domain.Player{ID: "p1", Nickname: "Alice", LastHeartbeat: start}
	peer := domain.Player{ID: "p2", Nickname: "Bob", LastHeartbeat: start}
	w := NewWatcher("p1", 0)

	if changes := w.Observe([]domain.Player{self, peer}, start); len(changes) != 0 {
		t.Fatalf("first sighting must not report, got %+v", changes)
	}

	later := start.Add(46 * time.Second)
	self.LastHeartbeat = later
	changes := w.Observe([]domain.Player{self, peer}, later)
	if len(changes) != 1 || changes[0].Online || changes[0].Player.ID != "p2" {
		t.Fatalf("expected Bob disconnected, got %+v", changes)
	}
	if changes[0].Message() != "Bob disconnected" {
		t.Fatalf("unexpected message %q", changes[0].Message())
	}

	peer.LastHeartbeat = later
	changes = w.Observe([]domain.Player{self, peer}, later)
	if len(changes) != 1 || !changes[0].Online {
		t.Fatalf("expected Bob re-joined, got %+v", changes)
	}

	offline := Offline([]domain.Player{self, peer}, "p1", later.Add(time.Minute), DefaultThreshold)
	if len(offline) != 1 || offline[0].ID != "p2" {
		t.Fatalf("expected only the peer offline, got %+v", offline)
	}
}
