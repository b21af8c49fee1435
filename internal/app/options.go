package app

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quiz-room-sync/internal/presence"
)

// Timing defaults shared by the controllers.
const (
	DefaultRoomTTL             = 24 * time.Hour
	DefaultResultPause         = 1500 * time.Millisecond
	DefaultCutoffCheckInterval = 5 * time.Second
	DefaultCountdownTick       = time.Second
	codeAttempts               = 10
)

type options struct {
	clock               clockwork.Clock
	log                 *zap.Logger
	rnd                 *lockedRand
	heartbeatInterval   time.Duration
	roomTTL             time.Duration
	resultPause         time.Duration
	cutoffCheckInterval time.Duration
	countdownTick       time.Duration
}

// Option configures a controller.
type Option func(*options)

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithRand fixes the source used to shuffle question sets.
func WithRand(r *rand.Rand) Option { return func(o *options) { o.rnd = &lockedRand{r: r} } }

// WithHeartbeatInterval sets the heartbeat period; zero disables the heartbeat loop.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

func WithRoomTTL(d time.Duration) Option { return func(o *options) { o.roomTTL = d } }

func WithResultPause(d time.Duration) Option { return func(o *options) { o.resultPause = d } }

func WithCutoffCheckInterval(d time.Duration) Option {
	return func(o *options) { o.cutoffCheckInterval = d }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:               clockwork.NewRealClock(),
		log:                 zap.NewNop(),
		heartbeatInterval:   presence.HeartbeatInterval,
		roomTTL:             DefaultRoomTTL,
		resultPause:         DefaultResultPause,
		cutoffCheckInterval: DefaultCutoffCheckInterval,
		countdownTick:       DefaultCountdownTick,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rnd == nil {
		o.rnd = &lockedRand{r: rand.New(rand.NewSource(o.clock.Now().UnixNano()))}
	}
	return o
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) shuffle(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}
