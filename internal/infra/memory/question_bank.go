package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"quiz-room-sync/internal/domain"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestionIDs(ctx context.Context, grade, term int) ([]string, error)
	LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error)
}

// QuestionBank caches question pools and question content with TTL to avoid repeated DB hits.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu        sync.RWMutex
	pools     map[string]cachedPool
	questions map[string]cachedQuestion
}

type cachedPool struct {
	ids       []string
	expiresAt time.Time
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration, clock clockwork.Clock) *QuestionBank {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuestionBank{
		loader:    loader,
		ttl:       ttl,
		clock:     clock,
		rnd:       rand.New(rand.NewSource(clock.Now().UnixNano())),
		pools:     make(map[string]cachedPool),
		questions: make(map[string]cachedQuestion),
	}
}

func poolKey(grade, term int) string { return fmt.Sprintf("%d:%d", grade, term) }

func (b *QuestionBank) QuestionIDs(ctx context.Context, grade, term int) ([]string, error) {
	key := poolKey(grade, term)
	if ids, ok := b.cachedPool(key); ok {
		return ids, nil
	}

	result, err, _ := b.sf.Do("pool:"+key, func() (interface{}, error) {
		if ids, ok := b.cachedPool(key); ok {
			return ids, nil
		}
		ids, err := b.loader.LoadQuestionIDs(ctx, grade, term)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.pools[key] = cachedPool{ids: ids, expiresAt: b.clock.Now().Add(b.ttlWithJitter())}
		b.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), result.([]string)...), nil
}

func (b *QuestionBank) cachedPool(key string) ([]string, bool) {
	now := b.clock.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if entry, ok := b.pools[key]; ok && entry.expiresAt.After(now) {
		return append([]string(nil), entry.ids...), true
	}
	return nil, false
}

// QuestionsByIDs serves cached questions and loads the rest in one call.
func (b *QuestionBank) QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	now := b.clock.Now()
	out := make([]domain.Question, 0, len(ids))
	var missing []string

	b.mu.RLock()
	for _, id := range ids {
		if entry, ok := b.questions[id]; ok && entry.expiresAt.After(now) {
			out = append(out, entry.question)
			continue
		}
		missing = append(missing, id)
	}
	b.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	result, err, _ := b.sf.Do(fmt.Sprint(sorted), func() (interface{}, error) {
		loaded, err := b.loader.LoadQuestions(ctx, missing)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		for _, q := range loaded {
			b.questions[q.ID] = cachedQuestion{question: q, expiresAt: now.Add(b.ttlWithJitter())}
		}
		b.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return append(out, result.([]domain.Question)...), nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory slice (useful for tests/demos).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestionIDs(_ context.Context, grade, term int) ([]string, error) {
	var ids []string
	for _, q := range l.questions {
		if q.Grade == grade && (term == 0 || q.Term == term) {
			ids = append(ids, q.ID)
		}
	}
	return ids, nil
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, ids []string) ([]domain.Question, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Question
	for _, q := range l.questions {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}
