package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/infra/memory"
)

// QuestionCache caches question pools in Redis and falls back to a loader on
// miss. Pools are stored as: SET quiz:pool:{category}:{difficulty} {json}.
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	// warm-cache reads run on every caller's goroutine; rnd needs the lock.
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) LoadQuestions(ctx context.Context, category, difficulty string, count int) ([]domain.Question, error) {
	key := c.poolKey(category, difficulty)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		var pool []domain.Question
		if err := json.Unmarshal(raw, &pool); err == nil && len(pool) > 0 {
			return c.pick(pool, count), nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			var pool []domain.Question
			if err := json.Unmarshal(raw, &pool); err == nil && len(pool) > 0 {
				return pool, nil
			}
		}

		pool, err := c.loader.LoadPool(ctx, category, difficulty)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(pool)
		if err != nil {
			return nil, err
		}
		_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return c.pick(result.([]domain.Question), count), nil
}

func (c *QuestionCache) pick(pool []domain.Question, count int) []domain.Question {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return memory.Pick(pool, count, c.rnd)
}

func (c *QuestionCache) poolKey(category, difficulty string) string {
	if category == "" {
		category = "any"
	}
	if difficulty == "" {
		difficulty = "any"
	}
	return "quiz:pool:" + category + ":" + difficulty
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
