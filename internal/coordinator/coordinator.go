// Package coordinator bridges the lobby registry and game sessions to the
// set of live player connections. Connections are keyed by player id, not by
// transport identity, so a reconnecting player keeps their progress.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/game"
	"quizparty-service/internal/lobby"
	"quizparty-service/internal/timer"
)

// Conn is one player's outbound channel. Delivery is at-most-once and
// best-effort; clients recover missed events with a state-sync query.
type Conn interface {
	Send(event string, payload any) error
}

// QuestionSource loads question content from an external store.
type QuestionSource interface {
	LoadQuestions(ctx context.Context, category, difficulty string, count int) ([]domain.Question, error)
}

// ResultRecorder persists completed-game results.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result domain.GameResult) error
}

// Event names on the wire.
const (
	EventLobbyUpdated    = "lobby-updated"
	EventGameStarted     = "game-started"
	EventQuestionStarted = "question-started"
	EventPlayerAnswered  = "player-answered"
	EventQuestionEnded   = "question-ended"
	EventGameEnded       = "game-ended"
)

// Config carries the coordinator's product knobs.
type Config struct {
	Lobby            lobby.Config
	Game             game.Config
	ResultsRetention time.Duration
}

// Coordinator owns the lobby registry, the active sessions, and the
// connection table.
type Coordinator struct {
	cfg       Config
	clock     clockwork.Clock
	questions QuestionSource
	recorder  ResultRecorder

	registry *lobby.Registry

	mu       sync.RWMutex
	conns    map[string]Conn
	rosters  map[string][]string      // lobby id -> member ids, maintained from lobby snapshots
	sessions map[string]*game.Session // active session per lobby
	byGameID map[string]*game.Session // retained for results retrieval
}

func New(cfg Config, clock clockwork.Clock, questions QuestionSource, recorder ResultRecorder) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		clock:     clock,
		questions: questions,
		recorder:  recorder,
		conns:     make(map[string]Conn),
		rosters:   make(map[string][]string),
		sessions:  make(map[string]*game.Session),
		byGameID:  make(map[string]*game.Session),
	}
	c.registry = lobby.NewRegistry(cfg.Lobby, clock, c)
	return c
}

// Registry exposes the lobby registry for direct command delegation.
func (c *Coordinator) Registry() *lobby.Registry { return c.registry }

// Attach registers a player's connection and re-attaches them to any lobby
// and in-flight game they belong to.
func (c *Coordinator) Attach(playerID string, conn Conn) {
	c.mu.Lock()
	c.conns[playerID] = conn
	c.mu.Unlock()

	if snap, ok := c.registry.LobbyOf(playerID); ok {
		_, _ = c.registry.MarkReconnected(snap.LobbyID, playerID)
		if sess := c.sessionFor(snap.LobbyID); sess != nil && sess.IsMember(playerID) {
			sess.SetConnected(playerID, true)
		}
	}
}

// Detach drops a player's connection. Roster membership is not touched here;
// the registry's disconnect grace decides eventual removal.
func (c *Coordinator) Detach(playerID string) {
	c.mu.Lock()
	delete(c.conns, playerID)
	c.mu.Unlock()

	if snap, ok := c.registry.LobbyOf(playerID); ok {
		if sess := c.sessionFor(snap.LobbyID); sess != nil && sess.IsMember(playerID) {
			sess.SetConnected(playerID, false)
		}
		_, _ = c.registry.MarkDisconnected(snap.LobbyID, playerID)
	}
}

// StartGame instantiates a session from a ready lobby and begins play.
func (c *Coordinator) StartGame(ctx context.Context, lobbyID, callerID string, force bool) error {
	if sess := c.sessionFor(lobbyID); sess != nil && sess.Status() != domain.GameFinished {
		return domain.ErrGameInProgress
	}

	snap, err := c.registry.BeginGame(lobbyID, callerID, force)
	if err != nil {
		return err
	}

	st := snap.Settings
	qs, err := c.questions.LoadQuestions(ctx, st.Category, st.Difficulty, st.QuestionCount)
	if err != nil || len(qs) == 0 {
		_, _ = c.registry.AbortStart(lobbyID)
		if err != nil {
			log.Error().Err(err).Str("lobby_id", lobbyID).Msg("question load failed")
			return err
		}
		return domain.ErrNoQuestions
	}

	sess := game.NewSession(snap, qs, c.cfg.Game, c.clock, c)
	c.mu.Lock()
	c.sessions[lobbyID] = sess
	c.byGameID[sess.ID()] = sess
	c.mu.Unlock()

	if _, err := c.registry.MarkActive(lobbyID); err != nil {
		return err
	}
	sess.Start()
	return nil
}

// SubmitAnswer relays an inbound answer into the lobby's active session.
func (c *Coordinator) SubmitAnswer(lobbyID, playerID, questionID string, selectedIndex int, responseTime time.Duration) (game.SubmitOutcome, error) {
	sess := c.sessionFor(lobbyID)
	if sess == nil {
		return game.SubmitOutcome{}, domain.ErrGameNotFound
	}
	return sess.SubmitAnswer(playerID, questionID, selectedIndex, responseTime), nil
}

// PauseGame suspends the lobby's active session.
func (c *Coordinator) PauseGame(lobbyID, callerID string) error {
	sess := c.sessionFor(lobbyID)
	if sess == nil {
		return domain.ErrGameNotFound
	}
	return sess.Pause(callerID)
}

// ResumeGame resumes a paused session.
func (c *Coordinator) ResumeGame(lobbyID, callerID string) error {
	sess := c.sessionFor(lobbyID)
	if sess == nil {
		return domain.ErrGameNotFound
	}
	return sess.Resume(callerID)
}

// SyncState is the full-state reply to a reconnecting client.
type SyncState struct {
	Lobby *domain.LobbySnapshot `json:"lobby,omitempty"`
	Game  *game.Snapshot        `json:"game,omitempty"`
}

// StateSync returns everything a client needs to rebuild its view.
func (c *Coordinator) StateSync(playerID string) SyncState {
	var out SyncState
	if snap, ok := c.registry.LobbyOf(playerID); ok {
		out.Lobby = &snap
		if sess := c.sessionFor(snap.LobbyID); sess != nil {
			gs := sess.Snapshot()
			out.Game = &gs
		}
	}
	return out
}

// GameResult returns a retained finished session's result by game id.
func (c *Coordinator) GameResult(gameID string) (domain.GameResult, error) {
	c.mu.RLock()
	sess, ok := c.byGameID[gameID]
	c.mu.RUnlock()
	if !ok {
		return domain.GameResult{}, domain.ErrGameNotFound
	}
	res, done := sess.Result()
	if !done {
		return domain.GameResult{}, domain.ErrGameNotFound
	}
	return res, nil
}

// LobbyUpdated implements lobby.Notifier. The roster table is refreshed here
// so game-event broadcasts never have to reach back into locked entities.
func (c *Coordinator) LobbyUpdated(snap domain.LobbySnapshot) {
	members := make([]string, 0, len(snap.Players))
	for _, p := range snap.Players {
		members = append(members, p.ID)
	}

	c.mu.Lock()
	if snap.Status == domain.LobbyAbandoned || snap.Status == domain.LobbyFinished {
		delete(c.rosters, snap.LobbyID)
	} else {
		c.rosters[snap.LobbyID] = members
	}
	c.mu.Unlock()

	for _, p := range snap.Players {
		c.sendToPlayer(p.ID, EventLobbyUpdated, snap)
	}
}

// GameStarted implements game.Notifier.
func (c *Coordinator) GameStarted(lobbyID string, ev game.StartedEvent) {
	c.broadcastToLobby(lobbyID, EventGameStarted, ev)
}

// QuestionStarted implements game.Notifier.
func (c *Coordinator) QuestionStarted(lobbyID string, ev game.QuestionView) {
	c.broadcastToLobby(lobbyID, EventQuestionStarted, ev)
}

// PlayerAnswered implements game.Notifier. Only the fact of answering is
// broadcast; the chosen option stays hidden until the reveal.
func (c *Coordinator) PlayerAnswered(lobbyID, playerID string) {
	c.broadcastToLobby(lobbyID, EventPlayerAnswered, map[string]any{
		"playerId":    playerID,
		"hasAnswered": true,
	})
}

// QuestionEnded implements game.Notifier.
func (c *Coordinator) QuestionEnded(lobbyID string, ev game.RevealEvent) {
	c.broadcastToLobby(lobbyID, EventQuestionEnded, ev)
}

// GameEnded implements game.Notifier: broadcast final standings, hand the
// result to the recorder, release the lobby, and retain the session
// read-only for the results window.
func (c *Coordinator) GameEnded(lobbyID string, result domain.GameResult) {
	c.broadcastToLobby(lobbyID, EventGameEnded, result)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.recorder.RecordResult(ctx, result); err != nil {
			log.Error().Err(err).Str("game_id", result.GameID).Msg("recording game result failed")
		}
	}()

	if _, err := c.registry.FinishGame(lobbyID); err != nil {
		log.Error().Err(err).Str("lobby_id", lobbyID).Msg("releasing lobby after game failed")
	}

	gameID := result.GameID
	timer.Start(c.clock, c.cfg.ResultsRetention, func() {
		c.mu.Lock()
		if sess, ok := c.sessions[lobbyID]; ok && sess.ID() == gameID {
			delete(c.sessions, lobbyID)
		}
		delete(c.byGameID, gameID)
		c.mu.Unlock()
	})
}

func (c *Coordinator) sessionFor(lobbyID string) *game.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[lobbyID]
}

// broadcastToLobby delivers an event to every connected lobby member, at
// most once per member per call.
func (c *Coordinator) broadcastToLobby(lobbyID, event string, payload any) {
	c.mu.RLock()
	memberIDs := c.rosters[lobbyID]
	c.mu.RUnlock()
	for _, id := range memberIDs {
		c.sendToPlayer(id, event, payload)
	}
}

func (c *Coordinator) sendToPlayer(playerID, event string, payload any) {
	c.mu.RLock()
	conn, ok := c.conns[playerID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if err := conn.Send(event, payload); err != nil {
		log.Warn().Err(err).Str("player_id", playerID).Str("event", event).Msg("send failed")
	}
}
