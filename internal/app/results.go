package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"quiz-room-sync/internal/domain"
)

// PlayerStats summarizes one player's answers after a match.
type PlayerStats struct {
	TotalQuestions  int `json:"totalQuestions"`
	CorrectCount    int `json:"correctCount"`
	WrongCount      int `json:"wrongCount"`
	TimeoutCount    int `json:"timeoutCount"`
	AccuracyPercent int `json:"accuracyPercent"`
}

// ComputeStats counts correct, wrong and timed-out answers.
func ComputeStats(answers []domain.Answer) PlayerStats {
	s := PlayerStats{TotalQuestions: len(answers)}
	if s.TotalQuestions == 0 {
		return s
	}
	for _, a := range answers {
		switch {
		case a.IsCorrect:
			s.CorrectCount++
		case a.IsTimeout():
			s.TimeoutCount++
		default:
			s.WrongCount++
		}
	}
	s.AccuracyPercent = int(math.Round(float64(s.CorrectCount) / float64(s.TotalQuestions) * 100))
	return s
}

// Standing is one leaderboard row.
type Standing struct {
	domain.Player
	Stats PlayerStats `json:"stats"`
}

// SortStandings orders by score descending, then total time ascending.
func SortStandings(players []domain.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].TotalTimeMs < players[j].TotalTimeMs
	})
}

// ReviewItem pairs a question with the player's answer to it.
type ReviewItem struct {
	Question domain.Question `json:"question"`
	Answer   domain.Answer   `json:"answer"`
}

// Results reads the outcome of a finished match.
type Results struct {
	repo RoomRepository
	bank QuestionBank
	opts options
}

func NewResults(repo RoomRepository, bank QuestionBank, opts ...Option) *Results {
	return &Results{repo: repo, bank: bank, opts: buildOptions(opts)}
}

// Standings returns the leaderboard with per-player stats.
func (r *Results) Standings(ctx context.Context, roomID string) ([]Standing, error) {
	players, err := r.repo.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, domain.Collaborator("fetch results", err)
	}
	answers, err := r.repo.ListAnswers(ctx, roomID, "")
	if err != nil {
		return nil, domain.Collaborator("fetch answers", err)
	}

	byPlayer := make(map[string][]domain.Answer)
	for _, a := range answers {
		byPlayer[a.PlayerID] = append(byPlayer[a.PlayerID], a)
	}

	SortStandings(players)
	out := make([]Standing, 0, len(players))
	for _, p := range players {
		out = append(out, Standing{Player: p, Stats: ComputeStats(byPlayer[p.ID])})
	}
	return out, nil
}

// Review returns one item per question of the room in match order. Questions the
// player never answered show up as timeouts costing the full question time.
func (r *Results) Review(ctx context.Context, room domain.Room, playerID string) ([]ReviewItem, error) {
	found, err := r.bank.QuestionsByIDs(ctx, room.QuestionIDs)
	if err != nil {
		return nil, domain.Collaborator("fetch questions", err)
	}
	answers, err := r.repo.ListAnswers(ctx, room.ID, playerID)
	if err != nil {
		return nil, domain.Collaborator("fetch answers", err)
	}

	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	now := r.opts.clock.Now()
	questions := orderQuestions(room.QuestionIDs, found)
	items := make([]ReviewItem, 0, len(questions))
	for i, q := range questions {
		a, ok := byQuestion[q.ID]
		if !ok {
			a = domain.Answer{
				ID:            fmt.Sprintf("missing:%s:%s:%d", room.ID, playerID, i),
				RoomID:        room.ID,
				PlayerID:      playerID,
				QuestionID:    q.ID,
				QuestionIndex: i,
				AnswerTimeMs:  room.TimePerQuestion().Milliseconds(),
				AnsweredAt:    now,
			}
		}
		items = append(items, ReviewItem{Question: q, Answer: a})
	}
	return items, nil
}
