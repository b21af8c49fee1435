package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/config"
	"quiz-room-sync/internal/infra/memory"
	infranats "quiz-room-sync/internal/infra/nats"
	"quiz-room-sync/internal/infra/postgres"
	infraredis "quiz-room-sync/internal/infra/redis"
	"quiz-room-sync/internal/presence"
	"quiz-room-sync/internal/session"
	transport "quiz-room-sync/internal/transport/http"
)

// stack is the set of collaborators picked from config. Anything not configured
// falls back to its in-process implementation.
type stack struct {
	cfg    config.Config
	log    *zap.Logger
	clock  clockwork.Clock
	repo   app.RoomRepository
	bank   app.QuestionBank
	broker transport.Broker
	redis  *redis.Client

	closers []func()
}

func buildStack(ctx context.Context, cfg config.Config, log *zap.Logger) (*stack, error) {
	s := &stack{cfg: cfg, log: log, clock: clockwork.NewRealClock()}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var (
		loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
		db     *bun.DB
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		loader = postgres.NewQuestionLoader(pool)

		db = postgres.OpenDB(cfg.Postgres.URL)
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.repo = postgres.NewRoomRepository(db)
	} else {
		s.repo = memory.NewRoomRepository()
	}

	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = s.redis.Close() })
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	if s.redis != nil {
		s.bank = infraredis.NewQuestionCache(s.redis, loader, questionTTL, log)
	} else {
		s.bank = memory.NewQuestionBank(loader, questionTTL, s.clock)
	}

	switch driver := cfg.BusDriver(); driver {
	case config.BusMemory:
		s.broker = memory.NewBus()
	case config.BusRedis:
		if s.redis == nil {
			return nil, fmt.Errorf("bus driver %q needs redis.addr", driver)
		}
		s.broker = infraredis.NewBus(s.redis, log)
	case config.BusNATS:
		url := cfg.NATS.URL
		if url == "" {
			url = natsgo.DefaultURL
		}
		nc, err := infranats.Connect(url, log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, nc.Close)
		s.broker = infranats.NewBus(nc, log)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", driver)
	}

	ok = true
	return s, nil
}

// sessions returns the device's session store: Redis-backed when Redis is configured.
func (s *stack) sessions(deviceID string) *session.Store {
	opts := []session.Option{session.WithLogger(s.log), session.WithClock(s.clock)}
	if s.redis != nil {
		ttl := config.TTLDuration(s.cfg.Redis.TTL, 24*time.Hour)
		return session.NewStore(infraredis.NewKV(s.redis, deviceID, ttl), opts...)
	}
	return session.NewStore(memory.NewKV(), opts...)
}

// appOptions maps the room section of the config onto controller options.
func (s *stack) appOptions() []app.Option {
	return []app.Option{
		app.WithLogger(s.log),
		app.WithClock(s.clock),
		app.WithRoomTTL(config.TTLDuration(s.cfg.Room.TTL, app.DefaultRoomTTL)),
		app.WithResultPause(config.TTLDuration(s.cfg.Room.ResultPause, app.DefaultResultPause)),
		app.WithHeartbeatInterval(config.TTLDuration(s.cfg.Room.HeartbeatInterval, presence.HeartbeatInterval)),
	}
}

// Close releases connections in reverse order of acquisition.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
