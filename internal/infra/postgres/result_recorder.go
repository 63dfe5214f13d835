package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizparty-service/internal/domain"
)

// ResultRecorder persists completed-game results as JSONB rows.
type ResultRecorder struct {
	pool *pgxpool.Pool
}

func NewResultRecorder(pool *pgxpool.Pool) *ResultRecorder {
	return &ResultRecorder{pool: pool}
}

func (r *ResultRecorder) RecordResult(ctx context.Context, result domain.GameResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO game_results (game_id, lobby_id, finished_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id) DO NOTHING`,
		result.GameID, result.LobbyID, result.FinishedAt, raw)
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	return nil
}
