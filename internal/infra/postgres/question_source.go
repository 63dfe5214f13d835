package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/infra/memory"
)

// QuestionSource loads question content from Postgres. Option lists are
// stored as JSONB; time limits as whole seconds.
type QuestionSource struct {
	pool *pgxpool.Pool

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionSource(pool *pgxpool.Pool) *QuestionSource {
	return &QuestionSource{
		pool: pool,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadPool returns every question matching the category/difficulty filter.
// Empty or "any" filters match everything.
func (s *QuestionSource) LoadPool(ctx context.Context, category, difficulty string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, text, options, correct_index, category, difficulty, time_limit_seconds, explanation, image_url
		FROM questions
		WHERE ($1 = '' OR $1 = 'any' OR category = $1)
		  AND ($2 = '' OR $2 = 'any' OR difficulty = $2)`,
		category, difficulty)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q       domain.Question
			rawOpts []byte
			seconds int
		)
		if err := rows.Scan(&q.ID, &q.Text, &rawOpts, &q.CorrectIndex, &q.Category, &q.Difficulty, &seconds, &q.Explanation, &q.ImageURL); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawOpts, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		q.TimeLimit = time.Duration(seconds) * time.Second
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return out, nil
}

// LoadQuestions serves the coordinator directly, sampling count questions
// from the matching pool in shuffled order.
func (s *QuestionSource) LoadQuestions(ctx context.Context, category, difficulty string, count int) ([]domain.Question, error) {
	pool, err := s.LoadPool(ctx, category, difficulty)
	if err != nil {
		return nil, err
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return memory.Pick(pool, count, s.rnd), nil
}
