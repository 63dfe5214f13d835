package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"quizparty-service/internal/domain"
)

// ResultStore persists completed-game results in Redis.
// Results are stored as: SET  quiz:result:{gameID} {json}
// Winner scores feed:    ZADD quiz:leaderboard {score} {playerID}
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) RecordResult(ctx context.Context, result domain.GameResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.resultKey(result.GameID), raw, s.ttl)
	for _, entry := range result.Rankings {
		// GT keeps each player's best score on the global board.
		pipe.ZAddGT(ctx, s.leaderboardKey(), redis.Z{
			Score:  float64(entry.Score),
			Member: entry.PlayerID,
		})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ResultStore) Get(ctx context.Context, gameID string) (domain.GameResult, error) {
	raw, err := s.client.Get(ctx, s.resultKey(gameID)).Bytes()
	if err != nil {
		return domain.GameResult{}, domain.ErrGameNotFound
	}
	var result domain.GameResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.GameResult{}, err
	}
	return result, nil
}

// TopResults reads the global leaderboard, highest score first.
func (s *ResultStore) TopResults(ctx context.Context, limit int) ([]domain.PlayerResult, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.client.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PlayerResult, 0, len(entries))
	for i, e := range entries {
		id, _ := e.Member.(string)
		out = append(out, domain.PlayerResult{
			PlayerID: id,
			Score:    int(e.Score),
			Rank:     i + 1,
		})
	}
	return out, nil
}

func (s *ResultStore) resultKey(gameID string) string {
	return "quiz:result:" + gameID
}

func (s *ResultStore) leaderboardKey() string {
	return "quiz:leaderboard"
}
