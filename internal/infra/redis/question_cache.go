package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/infra/memory"
)

// QuestionCache keeps question pools and content in Redis and falls back to a loader on cache miss.
// Pools are stored as:    RPUSH questions:pool:{grade}:{term} {questionID}...
// Questions are stored as: SET question:{questionID} {json}
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    *zap.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration, log *zap.Logger) *QuestionCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log.Named("question_cache"),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) QuestionIDs(ctx context.Context, grade, term int) ([]string, error) {
	key := poolKey(grade, term)
	if ids, err := c.client.LRange(ctx, key, 0, -1).Result(); err == nil && len(ids) > 0 {
		return ids, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if ids, err := c.client.LRange(ctx, key, 0, -1).Result(); err == nil && len(ids) > 0 {
			return ids, nil
		}
		ids, err := c.loader.LoadQuestionIDs(ctx, grade, term)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return ids, nil
		}

		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		pipe := c.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, args...)
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.log.Warn("cache question pool", zap.String("key", key), zap.Error(err))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// QuestionsByIDs serves cached questions and loads the misses in one call.
func (c *QuestionCache) QuestionsByIDs(ctx context.Context, ids []string) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questionKey(id)
	}

	out := make([]domain.Question, 0, len(ids))
	var missing []string
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("read question cache", zap.Error(err))
		vals = make([]interface{}, len(ids))
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out = append(out, q)
	}
	if len(missing) == 0 {
		return out, nil
	}

	result, err, _ := c.sf.Do(fmt.Sprint(missing), func() (interface{}, error) {
		loaded, err := c.loader.LoadQuestions(ctx, missing)
		if err != nil {
			return nil, err
		}
		pipe := c.client.Pipeline()
		for _, q := range loaded {
			data, err := json.Marshal(q)
			if err != nil {
				continue
			}
			pipe.Set(ctx, questionKey(q.ID), data, c.ttlWithJitter())
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.log.Warn("cache questions", zap.Error(err))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return append(out, result.([]domain.Question)...), nil
}

func poolKey(grade, term int) string {
	return fmt.Sprintf("questions:pool:%d:%d", grade, term)
}

func questionKey(id string) string {
	return "question:" + id
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
