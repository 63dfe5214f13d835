package game

import (
	"time"

	"quizparty-service/internal/domain"
)

// QuestionView is the client-facing form of a question. The correct index is
// withheld until the reveal.
type QuestionView struct {
	Index     int           `json:"index"`
	Total     int           `json:"total"`
	ID        string        `json:"questionId"`
	Text      string        `json:"text"`
	Options   []string      `json:"options"`
	TimeLimit time.Duration `json:"timeLimit"`
	ImageURL  string        `json:"imageUrl,omitempty"`
}

// StartedEvent announces a new session together with its first question.
type StartedEvent struct {
	GameID   string       `json:"gameId"`
	LobbyID  string       `json:"lobbyId"`
	Question QuestionView `json:"question"`
}

// PlayerAnswerResult is one player's outcome for a revealed question.
type PlayerAnswerResult struct {
	PlayerID      string `json:"playerId"`
	Answered      bool   `json:"answered"`
	SelectedIndex int    `json:"selectedIndex"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
}

// RevealEvent closes a question: correct answer plus per-player results.
type RevealEvent struct {
	Index        int                  `json:"index"`
	QuestionID   string               `json:"questionId"`
	CorrectIndex int                  `json:"correctIndex"`
	Explanation  string               `json:"explanation,omitempty"`
	Results      []PlayerAnswerResult `json:"results"`
}

// Notifier receives session transitions, exactly once per logical event.
type Notifier interface {
	GameStarted(lobbyID string, ev StartedEvent)
	QuestionStarted(lobbyID string, ev QuestionView)
	PlayerAnswered(lobbyID, playerID string)
	QuestionEnded(lobbyID string, ev RevealEvent)
	GameEnded(lobbyID string, result domain.GameResult)
}

// SubmitOutcome is the tagged result of an answer submission. Duplicate and
// late submissions are expected traffic, so rejection is a value rather than
// a control-flow exception; Reason carries the coded cause when Accepted is
// false.
type SubmitOutcome struct {
	Accepted bool          `json:"accepted"`
	Reason   *domain.Error `json:"reason,omitempty"`
	Correct  bool          `json:"correct"`
	Points   int           `json:"points"`
	Score    int           `json:"score"`
	Streak   int           `json:"streak"`
}

func rejected(reason *domain.Error) SubmitOutcome {
	return SubmitOutcome{Accepted: false, Reason: reason}
}

// PlayerPublicState is the per-player view embedded in snapshots. The
// selected answer is withheld while the question is open.
type PlayerPublicState struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Streak      int    `json:"streak"`
	HasAnswered bool   `json:"hasAnswered"`
	Connected   bool   `json:"connected"`
}

// Snapshot is the full-state view a reconnecting client resynchronizes from.
type Snapshot struct {
	GameID        string              `json:"gameId"`
	LobbyID       string              `json:"lobbyId"`
	Status        domain.GameStatus   `json:"status"`
	QuestionIndex int                 `json:"questionIndex"`
	QuestionCount int                 `json:"questionCount"`
	Question      *QuestionView       `json:"question,omitempty"`
	Remaining     time.Duration       `json:"remaining"`
	Players       []PlayerPublicState `json:"players"`
	Result        *domain.GameResult  `json:"result,omitempty"`
}
