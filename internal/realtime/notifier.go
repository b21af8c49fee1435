package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/domain"
)

// NotifyingRepository publishes a change event after every successful write, the
// way row-change notifications would. Publish failures are logged and never fail
// the write.
type NotifyingRepository struct {
	app.RoomRepository
	pub app.Publisher
	log *zap.Logger
}

func NewNotifyingRepository(repo app.RoomRepository, pub app.Publisher, log *zap.Logger) *NotifyingRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotifyingRepository{RoomRepository: repo, pub: pub, log: log.Named("notify")}
}

func (r *NotifyingRepository) publish(ctx context.Context, ev domain.Event) {
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Warn("publish event", zap.String("room_id", ev.RoomID()), zap.Error(err))
	}
}

func (r *NotifyingRepository) roomChanged(ctx context.Context, roomID string) {
	room, err := r.RoomRepository.GetRoom(ctx, roomID)
	if err != nil {
		r.log.Warn("reload room for event", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	r.publish(ctx, domain.RoomChanged{Room: room})
}

func (r *NotifyingRepository) rosterChanged(ctx context.Context, roomID string) {
	players, err := r.RoomRepository.ListPlayers(ctx, roomID)
	if err != nil {
		r.log.Warn("reload roster for event", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	r.publish(ctx, domain.RosterReplaced{Room: roomID, Players: players})
}

func (r *NotifyingRepository) playerChanged(ctx context.Context, playerID string) {
	p, err := r.RoomRepository.GetPlayer(ctx, playerID)
	if err != nil {
		r.log.Warn("reload player for event", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	r.publish(ctx, domain.PlayerChanged{Player: p})
}

func (r *NotifyingRepository) CreateRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	room, err := r.RoomRepository.CreateRoom(ctx, room)
	if err == nil {
		r.publish(ctx, domain.RoomChanged{Room: room})
	}
	return room, err
}

func (r *NotifyingRepository) UpdateRoomStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	if err := r.RoomRepository.UpdateRoomStatus(ctx, roomID, status, at); err != nil {
		return err
	}
	r.roomChanged(ctx, roomID)
	return nil
}

// ResetForReplay only emits the roster: room fields of a replay reach subscribers
// through their own refetch.
func (r *NotifyingRepository) ResetForReplay(ctx context.Context, roomID string, questionIDs []string) error {
	if err := r.RoomRepository.ResetForReplay(ctx, roomID, questionIDs); err != nil {
		return err
	}
	r.rosterChanged(ctx, roomID)
	return nil
}

func (r *NotifyingRepository) InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	p, err := r.RoomRepository.InsertPlayer(ctx, player)
	if err == nil {
		r.rosterChanged(ctx, p.RoomID)
	}
	return p, err
}

func (r *NotifyingRepository) DeletePlayer(ctx context.Context, playerID string) error {
	p, err := r.RoomRepository.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if err := r.RoomRepository.DeletePlayer(ctx, playerID); err != nil {
		return err
	}
	r.rosterChanged(ctx, p.RoomID)
	return nil
}

func (r *NotifyingRepository) SetPlayerReady(ctx context.Context, playerID string, ready bool) error {
	if err := r.RoomRepository.SetPlayerReady(ctx, playerID, ready); err != nil {
		return err
	}
	r.playerChanged(ctx, playerID)
	return nil
}

func (r *NotifyingRepository) UpdatePlayerProgress(ctx context.Context, playerID string, questionIndex, score int, totalTimeMs int64) error {
	if err := r.RoomRepository.UpdatePlayerProgress(ctx, playerID, questionIndex, score, totalTimeMs); err != nil {
		return err
	}
	r.playerChanged(ctx, playerID)
	return nil
}

func (r *NotifyingRepository) MarkPlayerFinished(ctx context.Context, playerID string, at time.Time) error {
	if err := r.RoomRepository.MarkPlayerFinished(ctx, playerID, at); err != nil {
		return err
	}
	r.playerChanged(ctx, playerID)
	return nil
}

func (r *NotifyingRepository) TouchHeartbeat(ctx context.Context, playerID string, at time.Time) error {
	if err := r.RoomRepository.TouchHeartbeat(ctx, playerID, at); err != nil {
		return err
	}
	r.playerChanged(ctx, playerID)
	return nil
}

func (r *NotifyingRepository) ForceFinishUnfinished(ctx context.Context, roomID string, questionsCount, timePerQuestionSec int, at time.Time) error {
	if err := r.RoomRepository.ForceFinishUnfinished(ctx, roomID, questionsCount, timePerQuestionSec, at); err != nil {
		return err
	}
	r.rosterChanged(ctx, roomID)
	return nil
}
