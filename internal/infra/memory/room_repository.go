package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-room-sync/internal/domain"
)

// RoomRepository keeps rooms, players, answers and reports in process memory.
// Every method works on copies, so callers never share rows with the store.
type RoomRepository struct {
	mu      sync.RWMutex
	rooms   map[string]domain.Room
	players map[string]domain.Player
	answers []domain.Answer
	reports []domain.Report
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{
		rooms:   make(map[string]domain.Room),
		players: make(map[string]domain.Player),
	}
}

func cloneRoom(r domain.Room) domain.Room {
	r.QuestionIDs = append([]string(nil), r.QuestionIDs...)
	return r
}

func (r *RoomRepository) CreateRoom(_ context.Context, room domain.Room) (domain.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = cloneRoom(room)
	return cloneRoom(room), nil
}

func (r *RoomRepository) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *RoomRepository) GetRoomByCode(_ context.Context, code string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		if room.Code == code {
			return cloneRoom(room), nil
		}
	}
	return domain.Room{}, domain.ErrRoomNotFound
}

func (r *RoomRepository) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.GetRoomByCode(ctx, code)
	if err == domain.ErrRoomNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *RoomRepository) ListPublicRooms(_ context.Context, grade *int, now time.Time) ([]domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Room
	for _, room := range r.rooms {
		if !room.IsPublic || room.Status != domain.StatusWaiting || !room.ExpiresAt.After(now) {
			continue
		}
		if grade != nil && room.Grade != *grade {
			continue
		}
		out = append(out, cloneRoom(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *RoomRepository) UpdateRoomStatus(_ context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Status = status
	switch status {
	case domain.StatusPlaying:
		room.StartedAt = &at
	case domain.StatusFinished:
		room.FinishedAt = &at
	}
	r.rooms[roomID] = room
	return nil
}

func (r *RoomRepository) ResetForReplay(_ context.Context, roomID string, questionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Status = domain.StatusWaiting
	room.QuestionIDs = append([]string(nil), questionIDs...)
	room.StartedAt = nil
	room.FinishedAt = nil
	r.rooms[roomID] = room

	for id, p := range r.players {
		if p.RoomID != roomID {
			continue
		}
		p.IsReady = false
		p.IsFinished = false
		p.Score = 0
		p.CurrentQuestionIndex = 0
		p.TotalTimeMs = 0
		p.FinishedAt = nil
		r.players[id] = p
	}

	kept := r.answers[:0]
	for _, a := range r.answers {
		if a.RoomID != roomID {
			kept = append(kept, a)
		}
	}
	r.answers = kept
	return nil
}

func (r *RoomRepository) InsertPlayer(_ context.Context, player domain.Player) (domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[player.RoomID]; !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	for _, p := range r.players {
		if p.RoomID == player.RoomID && p.DeviceID == player.DeviceID {
			return domain.Player{}, domain.ErrDuplicatePlayer
		}
	}
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	r.players[player.ID] = player
	return player, nil
}

func (r *RoomRepository) GetPlayer(_ context.Context, playerID string) (domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return p, nil
}

func (r *RoomRepository) FindPlayer(_ context.Context, roomID, deviceID string) (domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.RoomID == roomID && p.DeviceID == deviceID {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (r *RoomRepository) ListPlayers(_ context.Context, roomID string) ([]domain.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster(roomID), nil
}

func (r *RoomRepository) roster(roomID string) []domain.Player {
	var out []domain.Player
	for _, p := range r.players {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *RoomRepository) CountPlayers(_ context.Context, roomID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roster(roomID)), nil
}

// update applies fn to one player row under the write lock.
func (r *RoomRepository) update(playerID string, fn func(*domain.Player)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	fn(&p)
	r.players[playerID] = p
	return nil
}

func (r *RoomRepository) SetPlayerReady(_ context.Context, playerID string, ready bool) error {
	return r.update(playerID, func(p *domain.Player) { p.IsReady = ready })
}

func (r *RoomRepository) UpdatePlayerProgress(_ context.Context, playerID string, questionIndex, score int, totalTimeMs int64) error {
	return r.update(playerID, func(p *domain.Player) {
		p.CurrentQuestionIndex = questionIndex
		p.Score = score
		p.TotalTimeMs = totalTimeMs
	})
}

func (r *RoomRepository) MarkPlayerFinished(_ context.Context, playerID string, at time.Time) error {
	return r.update(playerID, func(p *domain.Player) {
		p.IsFinished = true
		p.FinishedAt = &at
	})
}

func (r *RoomRepository) TouchHeartbeat(_ context.Context, playerID string, at time.Time) error {
	return r.update(playerID, func(p *domain.Player) { p.LastHeartbeat = at })
}

func (r *RoomRepository) DeletePlayer(_ context.Context, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[playerID]; !ok {
		return domain.ErrPlayerNotFound
	}
	delete(r.players, playerID)
	return nil
}

func (r *RoomRepository) ForceFinishUnfinished(_ context.Context, roomID string, questionsCount, timePerQuestionSec int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	perQuestionMs := int64(timePerQuestionSec) * 1000
	for id, p := range r.players {
		if p.RoomID != roomID || p.IsFinished {
			continue
		}
		remaining := max(questionsCount-p.CurrentQuestionIndex, 0)
		p.TotalTimeMs += int64(remaining) * perQuestionMs
		p.CurrentQuestionIndex = questionsCount
		p.IsFinished = true
		p.FinishedAt = &at
		r.players[id] = p
	}
	return nil
}

func (r *RoomRepository) InsertAnswer(_ context.Context, answer domain.Answer) (domain.Answer, error) {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, answer)
	return answer, nil
}

func (r *RoomRepository) ListAnswers(_ context.Context, roomID, playerID string) ([]domain.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Answer
	for _, a := range r.answers {
		if a.RoomID == roomID && (playerID == "" || a.PlayerID == playerID) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out, nil
}

func (r *RoomRepository) InsertReport(_ context.Context, report domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// Reports returns every filed report.
func (r *RoomRepository) Reports() []domain.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Report(nil), r.reports...)
}
