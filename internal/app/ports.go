package app

import (
	"context"
	"time"

	"quiz-room-sync/internal/domain"
)

// RoomStore covers room-row operations of the room repository.
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) (domain.Room, error)
	// GetRoom returns domain.ErrRoomNotFound for unknown ids.
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	// GetRoomByCode returns domain.ErrRoomNotFound for unknown codes.
	GetRoomByCode(ctx context.Context, code string) (domain.Room, error)
	RoomCodeExists(ctx context.Context, code string) (bool, error)
	// ListPublicRooms returns public waiting rooms that expire after now, newest first.
	ListPublicRooms(ctx context.Context, grade *int, now time.Time) ([]domain.Room, error)
	// UpdateRoomStatus stamps startedAt when moving to playing and finishedAt when moving to finished.
	UpdateRoomStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error
	// ResetForReplay puts the room back to waiting with a new question set, zeroes every
	// player's progress and deletes the room's answers.
	ResetForReplay(ctx context.Context, roomID string, questionIDs []string) error
}

// PlayerStore covers roster operations of the room repository.
type PlayerStore interface {
	// InsertPlayer returns domain.ErrDuplicatePlayer if (roomId, deviceId) exists.
	InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (domain.Player, error)
	// FindPlayer returns domain.ErrPlayerNotFound when the device has no row in the room.
	FindPlayer(ctx context.Context, roomID, deviceID string) (domain.Player, error)
	// ListPlayers returns the roster ordered by join time.
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)
	CountPlayers(ctx context.Context, roomID string) (int, error)
	SetPlayerReady(ctx context.Context, playerID string, ready bool) error
	UpdatePlayerProgress(ctx context.Context, playerID string, questionIndex, score int, totalTimeMs int64) error
	MarkPlayerFinished(ctx context.Context, playerID string, at time.Time) error
	TouchHeartbeat(ctx context.Context, playerID string, at time.Time) error
	DeletePlayer(ctx context.Context, playerID string) error
	// ForceFinishUnfinished marks every unfinished player finished at questionsCount, adding
	// (questionsCount - currentQuestionIndex) * timePerQuestionSec seconds to their total time.
	ForceFinishUnfinished(ctx context.Context, roomID string, questionsCount, timePerQuestionSec int, at time.Time) error
}

// AnswerStore records answers and question reports.
type AnswerStore interface {
	InsertAnswer(ctx context.Context, answer domain.Answer) (domain.Answer, error)
	// ListAnswers returns answers ordered by question index; an empty playerID lists the whole room.
	ListAnswers(ctx context.Context, roomID, playerID string) ([]domain.Answer, error)
	InsertReport(ctx context.Context, report domain.Report) error
}

// RoomRepository is the durable store of rooms, players and answers.
// Single-row updates are atomic; nothing spans rows except ResetForReplay.
type RoomRepository interface {
	RoomStore
	PlayerStore
	AnswerStore
}

// QuestionBank supplies question content.
type QuestionBank interface {
	// QuestionIDs lists every question id for a grade; term 0 means all terms.
	QuestionIDs(ctx context.Context, grade, term int) ([]string, error)
	// QuestionsByIDs returns the known questions in no particular order.
	QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error)
}

// Bus delivers room and roster changes for one room.
// The returned cancel func must be called to release the subscription.
type Bus interface {
	Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error)
}

// Publisher emits change events onto a bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
