package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizparty-service/internal/domain"
)

// QuestionLoader fetches question pools from a backing store.
type QuestionLoader interface {
	LoadPool(ctx context.Context, category, difficulty string) ([]domain.Question, error)
}

// StaticQuestionSource serves questions from an in-memory pool, useful for
// demos and tests. It implements both the loader and the coordinator's
// QuestionSource.
type StaticQuestionSource struct {
	mu   sync.Mutex
	pool []domain.Question
	rnd  *rand.Rand
}

func NewStaticQuestionSource(pool []domain.Question) *StaticQuestionSource {
	return &StaticQuestionSource{
		pool: pool,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *StaticQuestionSource) LoadPool(_ context.Context, category, difficulty string) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Question
	for _, q := range s.pool {
		if matches(q, category, difficulty) {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return out, nil
}

func (s *StaticQuestionSource) LoadQuestions(ctx context.Context, category, difficulty string, count int) ([]domain.Question, error) {
	pool, err := s.LoadPool(ctx, category, difficulty)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pick(pool, count, s.rnd), nil
}

// Pick copies up to count questions out of pool in shuffled order.
func Pick(pool []domain.Question, count int, rnd *rand.Rand) []domain.Question {
	out := make([]domain.Question, len(pool))
	copy(out, pool)
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return out
}

func matches(q domain.Question, category, difficulty string) bool {
	if category != "" && category != "any" && q.Category != category {
		return false
	}
	if difficulty != "" && difficulty != "any" && q.Difficulty != difficulty {
		return false
	}
	return true
}
