// Package presence derives online/offline status from heartbeat recency.
package presence

import (
	"time"

	"quiz-room-sync/internal/domain"
)

const (
	// DefaultThreshold is the liveness window, about three missed heartbeats.
	DefaultThreshold = 45 * time.Second
	// HeartbeatInterval is how often each client pushes its own heartbeat.
	HeartbeatInterval = 15 * time.Second
)

// IsOnline reports whether the player's last heartbeat is within threshold of now.
// A zero heartbeat counts as unparsable and yields offline.
func IsOnline(p domain.Player, now time.Time, threshold time.Duration) bool {
	if p.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(p.LastHeartbeat) <= threshold
}

// IsPlayerOnline applies the default threshold.
func IsPlayerOnline(p domain.Player, now time.Time) bool {
	return IsOnline(p, now, DefaultThreshold)
}

// Change is a presence transition of a peer.
type Change struct {
	Player domain.Player
	Online bool
}

// Message renders the change the way peers show it.
func (c Change) Message() string {
	if c.Online {
		return c.Player.Nickname + " re-joined"
	}
	return c.Player.Nickname + " disconnected"
}

// Watcher remembers the last observed status of each peer and reports flips.
// It is not safe for concurrent use.
type Watcher struct {
	selfID    string
	threshold time.Duration
	last      map[string]bool
}

func NewWatcher(selfID string, threshold time.Duration) *Watcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Watcher{selfID: selfID, threshold: threshold, last: make(map[string]bool)}
}

// Observe evaluates the roster at now and returns the peers whose status flipped
// since the previous observation. The first sighting of a peer is never a change.
func (w *Watcher) Observe(players []domain.Player, now time.Time) []Change {
	var changes []Change
	for _, p := range players {
		if p.ID == w.selfID {
			continue
		}
		online := IsOnline(p, now, w.threshold)
		prev, seen := w.last[p.ID]
		w.last[p.ID] = online
		if !seen || prev == online {
			continue
		}
		changes = append(changes, Change{Player: p, Online: online})
	}
	return changes
}

// Offline returns the peers currently considered offline.
func Offline(players []domain.Player, selfID string, now time.Time, threshold time.Duration) []domain.Player {
	var out []domain.Player
	for _, p := range players {
		if p.ID != selfID && !IsOnline(p, now, threshold) {
			out = append(out, p)
		}
	}
	return out
}
