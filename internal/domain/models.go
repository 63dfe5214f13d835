package domain

import "time"

// ConnectionState tracks whether a player currently has a live connection.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionUnknown      ConnectionState = "unknown"
)

// LobbyStatus is the lifecycle state of a pre-game lobby.
type LobbyStatus string

const (
	LobbyWaiting   LobbyStatus = "waiting"
	LobbyStarting  LobbyStatus = "starting"
	LobbyActive    LobbyStatus = "active"
	LobbyFinished  LobbyStatus = "finished"
	LobbyAbandoned LobbyStatus = "abandoned"
)

// GameStatus is the lifecycle state of a running game session.
type GameStatus string

const (
	GamePreparing GameStatus = "preparing"
	GameQuestion  GameStatus = "question"
	GameRevealing GameStatus = "revealing"
	GameFinished  GameStatus = "finished"
	GamePaused    GameStatus = "paused"
)

// Player is a lobby member. Identity is externally issued; score and streak
// are only mutated by the game session that owns the player for a run.
type Player struct {
	ID          string          `json:"playerId"`
	DisplayName string          `json:"displayName"`
	Connection  ConnectionState `json:"connectionState"`
	IsHost      bool            `json:"isHost"`
	Ready       bool            `json:"ready"`
	JoinedAt    time.Time       `json:"joinedAt"`
}

// ScoringRules are the knobs consumed by the scoring engine.
type ScoringRules struct {
	BasePoints          int     `json:"basePoints" yaml:"basePoints"`
	MaxSpeedBonus       int     `json:"maxSpeedBonus" yaml:"maxSpeedBonus"`
	StreakEnabled       bool    `json:"streakEnabled" yaml:"streakEnabled"`
	StreakFactor        float64 `json:"streakFactor" yaml:"streakFactor"`
	MaxStreakMultiplier float64 `json:"maxStreakMultiplier" yaml:"maxStreakMultiplier"`
}

// Settings configure a lobby and the session started from it.
type Settings struct {
	Category        string        `json:"category"`
	Difficulty      string        `json:"difficulty"`
	QuestionCount   int           `json:"questionCount"`
	TimePerQuestion time.Duration `json:"timePerQuestion"`
	MaxPlayers      int           `json:"maxPlayers"`
	Scoring         ScoringRules  `json:"scoring"`
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	Category        *string        `json:"category,omitempty"`
	Difficulty      *string        `json:"difficulty,omitempty"`
	QuestionCount   *int           `json:"questionCount,omitempty"`
	TimePerQuestion *time.Duration `json:"timePerQuestion,omitempty"`
	MaxPlayers      *int           `json:"maxPlayers,omitempty"`
	Scoring         *ScoringRules  `json:"scoring,omitempty"`
}

// LobbySnapshot is the broadcast-friendly view of a lobby. Reconnecting
// clients resynchronize from a snapshot rather than replaying deltas.
type LobbySnapshot struct {
	LobbyID        string      `json:"lobbyId"`
	HostID         string      `json:"hostId"`
	Status         LobbyStatus `json:"status"`
	Players        []Player    `json:"players"`
	Settings       Settings    `json:"settings"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
}

// Question is immutable once attached to a session.
type Question struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	Options      []string      `json:"options"`
	CorrectIndex int           `json:"correctIndex"`
	Category     string        `json:"category"`
	Difficulty   string        `json:"difficulty"`
	TimeLimit    time.Duration `json:"timeLimit"`
	Explanation  string        `json:"explanation,omitempty"`
	ImageURL     string        `json:"imageUrl,omitempty"`
}

// Answer records one player's submission for one question. Created at most
// once per player per question; the first submission is authoritative.
type Answer struct {
	PlayerID      string        `json:"playerId"`
	QuestionID    string        `json:"questionId"`
	SelectedIndex int           `json:"selectedIndex"`
	ResponseTime  time.Duration `json:"responseTime"`
	Correct       bool          `json:"correct"`
	Points        int           `json:"points"`
}

// PlayerResult is a single row of the final ranking.
type PlayerResult struct {
	PlayerID     string `json:"playerId"`
	DisplayName  string `json:"displayName"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	Rank         int    `json:"rank"`
}

// GameResult is the completed-session record handed to the result recorder.
type GameResult struct {
	GameID        string         `json:"gameId"`
	LobbyID       string         `json:"lobbyId"`
	QuestionCount int            `json:"questionCount"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Rankings      []PlayerResult `json:"rankings"`
}
