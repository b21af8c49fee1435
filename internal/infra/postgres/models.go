package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"quiz-room-sync/internal/domain"
)

type roomModel struct {
	bun.BaseModel `bun:"table:rooms,alias:r"`

	ID                 string     `bun:"id,pk,type:uuid"`
	Code               string     `bun:"code,notnull"`
	Grade              int        `bun:"grade,notnull"`
	Term               int        `bun:"term,notnull"`
	MaxPlayers         int        `bun:"max_players,notnull"`
	QuestionsCount     int        `bun:"questions_count,notnull"`
	TimePerQuestionSec int        `bun:"time_per_question_sec,notnull"`
	QuestionIDs        []string   `bun:"question_ids,array"`
	Status             string     `bun:"status,notnull"`
	CreatedAt          time.Time  `bun:"created_at,notnull"`
	StartedAt          *time.Time `bun:"started_at"`
	FinishedAt         *time.Time `bun:"finished_at"`
	ExpiresAt          time.Time  `bun:"expires_at,notnull"`
	IsPublic           bool       `bun:"is_public,notnull"`
	Name               string     `bun:"name,notnull"`
}

func roomFromDomain(r domain.Room) *roomModel {
	return &roomModel{
		ID:                 r.ID,
		Code:               r.Code,
		Grade:              r.Grade,
		Term:               r.Term,
		MaxPlayers:         r.MaxPlayers,
		QuestionsCount:     r.QuestionsCount,
		TimePerQuestionSec: r.TimePerQuestionSec,
		QuestionIDs:        r.QuestionIDs,
		Status:             string(r.Status),
		CreatedAt:          r.CreatedAt,
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
		ExpiresAt:          r.ExpiresAt,
		IsPublic:           r.IsPublic,
		Name:               r.Name,
	}
}

func (m *roomModel) toDomain() domain.Room {
	return domain.Room{
		ID:                 m.ID,
		Code:               m.Code,
		Grade:              m.Grade,
		Term:               m.Term,
		MaxPlayers:         m.MaxPlayers,
		QuestionsCount:     m.QuestionsCount,
		TimePerQuestionSec: m.TimePerQuestionSec,
		QuestionIDs:        m.QuestionIDs,
		Status:             domain.RoomStatus(m.Status),
		CreatedAt:          m.CreatedAt,
		StartedAt:          m.StartedAt,
		FinishedAt:         m.FinishedAt,
		ExpiresAt:          m.ExpiresAt,
		IsPublic:           m.IsPublic,
		Name:               m.Name,
	}
}

type playerModel struct {
	bun.BaseModel `bun:"table:room_players,alias:p"`

	ID                   string     `bun:"id,pk,type:uuid"`
	RoomID               string     `bun:"room_id,type:uuid,notnull"`
	DeviceID             string     `bun:"device_id,notnull"`
	Nickname             string     `bun:"nickname,notnull"`
	IsReady              bool       `bun:"is_ready,notnull"`
	IsFinished           bool       `bun:"is_finished,notnull"`
	CurrentQuestionIndex int        `bun:"current_question_index,notnull"`
	Score                int        `bun:"score,notnull"`
	TotalTimeMs          int64      `bun:"total_time_ms,notnull"`
	JoinedAt             time.Time  `bun:"joined_at,notnull"`
	FinishedAt           *time.Time `bun:"finished_at"`
	// NULL until the first heartbeat; read back as the zero time.
	LastHeartbeat time.Time `bun:"last_heartbeat,nullzero"`
	IsOwner       bool      `bun:"is_owner,notnull"`
}

func playerFromDomain(p domain.Player) *playerModel {
	return &playerModel{
		ID:                   p.ID,
		RoomID:               p.RoomID,
		DeviceID:             p.DeviceID,
		Nickname:             p.Nickname,
		IsReady:              p.IsReady,
		IsFinished:           p.IsFinished,
		CurrentQuestionIndex: p.CurrentQuestionIndex,
		Score:                p.Score,
		TotalTimeMs:          p.TotalTimeMs,
		JoinedAt:             p.JoinedAt,
		FinishedAt:           p.FinishedAt,
		LastHeartbeat:        p.LastHeartbeat,
		IsOwner:              p.IsOwner,
	}
}

func (m *playerModel) toDomain() domain.Player {
	return domain.Player{
		ID:                   m.ID,
		RoomID:               m.RoomID,
		DeviceID:             m.DeviceID,
		Nickname:             m.Nickname,
		IsReady:              m.IsReady,
		IsFinished:           m.IsFinished,
		CurrentQuestionIndex: m.CurrentQuestionIndex,
		Score:                m.Score,
		TotalTimeMs:          m.TotalTimeMs,
		JoinedAt:             m.JoinedAt,
		FinishedAt:           m.FinishedAt,
		LastHeartbeat:        m.LastHeartbeat,
		IsOwner:              m.IsOwner,
	}
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID                  string    `bun:"id,pk,type:uuid"`
	RoomID              string    `bun:"room_id,type:uuid,notnull"`
	PlayerID            string    `bun:"player_id,type:uuid,notnull"`
	QuestionID          string    `bun:"question_id,notnull"`
	QuestionIndex       int       `bun:"question_index,notnull"`
	SelectedOptionIndex *int      `bun:"selected_option_index"`
	AnswerText          *string   `bun:"answer_text"`
	IsCorrect           bool      `bun:"is_correct,notnull"`
	AnswerTimeMs        int64     `bun:"answer_time_ms,notnull"`
	AnsweredAt          time.Time `bun:"answered_at,notnull"`
}

func answerFromDomain(a domain.Answer) *answerModel {
	return &answerModel{
		ID:                  a.ID,
		RoomID:              a.RoomID,
		PlayerID:            a.PlayerID,
		QuestionID:          a.QuestionID,
		QuestionIndex:       a.QuestionIndex,
		SelectedOptionIndex: a.SelectedOptionIndex,
		AnswerText:          a.AnswerText,
		IsCorrect:           a.IsCorrect,
		AnswerTimeMs:        a.AnswerTimeMs,
		AnsweredAt:          a.AnsweredAt,
	}
}

func (m *answerModel) toDomain() domain.Answer {
	return domain.Answer{
		ID:                  m.ID,
		RoomID:              m.RoomID,
		PlayerID:            m.PlayerID,
		QuestionID:          m.QuestionID,
		QuestionIndex:       m.QuestionIndex,
		SelectedOptionIndex: m.SelectedOptionIndex,
		AnswerText:          m.AnswerText,
		IsCorrect:           m.IsCorrect,
		AnswerTimeMs:        m.AnswerTimeMs,
		AnsweredAt:          m.AnsweredAt,
	}
}

type reportModel struct {
	bun.BaseModel `bun:"table:question_reports,alias:qr"`

	ID                  string    `bun:"id,pk,type:uuid"`
	QuestionID          string    `bun:"question_id,notnull"`
	RoomID              string    `bun:"room_id,type:uuid,nullzero"`
	PlayerID            string    `bun:"player_id,type:uuid,nullzero"`
	ReportType          string    `bun:"report_type,notnull"`
	ReportText          string    `bun:"report_text,nullzero"`
	SelectedOptionIndex *int      `bun:"selected_option_index"`
	AnswerText          *string   `bun:"answer_text"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
}
