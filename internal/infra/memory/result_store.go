package memory

import (
	"context"
	"sort"
	"sync"

	"quizparty-service/internal/domain"
)

// ResultStore keeps completed-game results in memory. It implements the
// coordinator's ResultRecorder and serves leaderboard reads for demos and
// tests.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.GameResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.GameResult)}
}

func (s *ResultStore) RecordResult(_ context.Context, result domain.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.GameID] = result
	return nil
}

func (s *ResultStore) Get(gameID string) (domain.GameResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[gameID]
	return r, ok
}

// TopResults returns the best recorded winner scores, highest first.
func (s *ResultStore) TopResults(_ context.Context, limit int) ([]domain.PlayerResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var winners []domain.PlayerResult
	for _, r := range s.results {
		if len(r.Rankings) > 0 {
			winners = append(winners, r.Rankings[0])
		}
	}
	sort.Slice(winners, func(i, j int) bool {
		if winners[i].Score != winners[j].Score {
			return winners[i].Score > winners[j].Score
		}
		return winners[i].PlayerID < winners[j].PlayerID
	})
	if limit > 0 && limit < len(winners) {
		winners = winners[:limit]
	}
	return winners, nil
}
