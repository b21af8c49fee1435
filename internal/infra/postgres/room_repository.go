package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-room-sync/internal/domain"
)

// RoomRepository stores rooms, rosters, answers and reports in Postgres through bun.
type RoomRepository struct {
	db *bun.DB
}

func NewRoomRepository(db *bun.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if _, err := r.db.NewInsert().Model(roomFromDomain(room)).Exec(ctx); err != nil {
		return domain.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return r.findRoom(ctx, "id = ?", roomID)
}

func (r *RoomRepository) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	return r.findRoom(ctx, "code = ?", code)
}

func (r *RoomRepository) findRoom(ctx context.Context, where string, arg any) (domain.Room, error) {
	var m roomModel
	err := r.db.NewSelect().Model(&m).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("select room: %w", err)
	}
	return m.toDomain(), nil
}

func (r *RoomRepository) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	exists, err := r.db.NewSelect().Model((*roomModel)(nil)).Where("code = ?", code).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("room code exists: %w", err)
	}
	return exists, nil
}

func (r *RoomRepository) ListPublicRooms(ctx context.Context, grade *int, now time.Time) ([]domain.Room, error) {
	var rows []roomModel
	q := r.db.NewSelect().Model(&rows).
		Where("is_public").
		Where("status = ?", string(domain.StatusWaiting)).
		Where("expires_at > ?", now).
		Order("created_at DESC")
	if grade != nil {
		q = q.Where("grade = ?", *grade)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	out := make([]domain.Room, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *RoomRepository) UpdateRoomStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	q := r.db.NewUpdate().Model((*roomModel)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", roomID)
	switch status {
	case domain.StatusPlaying:
		q = q.Set("started_at = ?", at)
	case domain.StatusFinished:
		q = q.Set("finished_at = ?", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	return affected(res, domain.ErrRoomNotFound)
}

func (r *RoomRepository) ResetForReplay(ctx context.Context, roomID string, questionIDs []string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*roomModel)(nil)).
			Set("status = ?", string(domain.StatusWaiting)).
			Set("question_ids = ?", pgdialect.Array(questionIDs)).
			Set("started_at = NULL").
			Set("finished_at = NULL").
			Where("id = ?", roomID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reset room: %w", err)
		}
		if err := affected(res, domain.ErrRoomNotFound); err != nil {
			return err
		}
		_, err = tx.NewUpdate().Model((*playerModel)(nil)).
			Set("is_ready = FALSE").
			Set("is_finished = FALSE").
			Set("score = 0").
			Set("current_question_index = 0").
			Set("total_time_ms = 0").
			Set("finished_at = NULL").
			Where("room_id = ?", roomID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reset players: %w", err)
		}
		if _, err := tx.NewDelete().Model((*answerModel)(nil)).Where("room_id = ?", roomID).Exec(ctx); err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		return nil
	})
}

func (r *RoomRepository) InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().Model(playerFromDomain(player)).Exec(ctx)
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case uniqueViolation:
			return domain.Player{}, domain.ErrDuplicatePlayer
		case foreignKeyViolation:
			return domain.Player{}, domain.ErrRoomNotFound
		}
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("insert player: %w", err)
	}
	return player, nil
}

func (r *RoomRepository) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	if _, err := uuid.Parse(playerID); err != nil {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return r.findPlayer(ctx, r.db.NewSelect().Where("id = ?", playerID))
}

func (r *RoomRepository) FindPlayer(ctx context.Context, roomID, deviceID string) (domain.Player, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return r.findPlayer(ctx, r.db.NewSelect().Where("room_id = ?", roomID).Where("device_id = ?", deviceID))
}

func (r *RoomRepository) findPlayer(ctx context.Context, q *bun.SelectQuery) (domain.Player, error) {
	var m playerModel
	err := q.Model(&m).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("select player: %w", err)
	}
	return m.toDomain(), nil
}

func (r *RoomRepository) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	var rows []playerModel
	err := r.db.NewSelect().Model(&rows).
		Where("room_id = ?", roomID).
		Order("joined_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	out := make([]domain.Player, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *RoomRepository) CountPlayers(ctx context.Context, roomID string) (int, error) {
	n, err := r.db.NewSelect().Model((*playerModel)(nil)).Where("room_id = ?", roomID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

func (r *RoomRepository) updatePlayer(ctx context.Context, playerID string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	res, err := set(r.db.NewUpdate().Model((*playerModel)(nil))).Where("id = ?", playerID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return affected(res, domain.ErrPlayerNotFound)
}

func (r *RoomRepository) SetPlayerReady(ctx context.Context, playerID string, ready bool) error {
	return r.updatePlayer(ctx, playerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("is_ready = ?", ready)
	})
}

func (r *RoomRepository) UpdatePlayerProgress(ctx context.Context, playerID string, questionIndex, score int, totalTimeMs int64) error {
	return r.updatePlayer(ctx, playerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("current_question_index = ?", questionIndex).
			Set("score = ?", score).
			Set("total_time_ms = ?", totalTimeMs)
	})
}

func (r *RoomRepository) MarkPlayerFinished(ctx context.Context, playerID string, at time.Time) error {
	return r.updatePlayer(ctx, playerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("is_finished = TRUE").Set("finished_at = ?", at)
	})
}

func (r *RoomRepository) TouchHeartbeat(ctx context.Context, playerID string, at time.Time) error {
	return r.updatePlayer(ctx, playerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("last_heartbeat = ?", at)
	})
}

func (r *RoomRepository) DeletePlayer(ctx context.Context, playerID string) error {
	res, err := r.db.NewDelete().Model((*playerModel)(nil)).Where("id = ?", playerID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return affected(res, domain.ErrPlayerNotFound)
}

// ForceFinishUnfinished runs as one statement so concurrent cutoffs cannot double-charge a player.
func (r *RoomRepository) ForceFinishUnfinished(ctx context.Context, roomID string, questionsCount, timePerQuestionSec int, at time.Time) error {
	_, err := r.db.NewUpdate().Model((*playerModel)(nil)).
		Set("total_time_ms = total_time_ms + GREATEST(? - current_question_index, 0) * ?",
			questionsCount, int64(timePerQuestionSec)*1000).
		Set("current_question_index = ?", questionsCount).
		Set("is_finished = TRUE").
		Set("finished_at = ?", at).
		Where("room_id = ?", roomID).
		Where("NOT is_finished").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("force finish: %w", err)
	}
	return nil
}

func (r *RoomRepository) InsertAnswer(ctx context.Context, answer domain.Answer) (domain.Answer, error) {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if _, err := r.db.NewInsert().Model(answerFromDomain(answer)).Exec(ctx); err != nil {
		return domain.Answer{}, fmt.Errorf("insert answer: %w", err)
	}
	return answer, nil
}

func (r *RoomRepository) ListAnswers(ctx context.Context, roomID, playerID string) ([]domain.Answer, error) {
	var rows []answerModel
	q := r.db.NewSelect().Model(&rows).
		Where("room_id = ?", roomID).
		Order("question_index ASC", "answered_at ASC")
	if playerID != "" {
		q = q.Where("player_id = ?", playerID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]domain.Answer, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *RoomRepository) InsertReport(ctx context.Context, report domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	m := &reportModel{
		ID:                  report.ID,
		QuestionID:          report.QuestionID,
		RoomID:              report.RoomID,
		PlayerID:            report.PlayerID,
		ReportType:          report.ReportType,
		ReportText:          report.ReportText,
		SelectedOptionIndex: report.SelectedOptionIndex,
		AnswerText:          report.AnswerText,
		CreatedAt:           report.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
