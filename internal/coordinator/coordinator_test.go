package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizparty-service/internal/coordinator"
	"quizparty-service/internal/domain"
	"quizparty-service/internal/game"
)

type sentEvent struct {
	Event   string
	Payload any
}

type fakeConn struct {
	mu     sync.Mutex
	events []sentEvent
}

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Event == event {
			return c.events[i].Payload, true
		}
	}
	return nil, false
}

type fakeQuestionSource struct {
	count int
	err   error
}

func (s *fakeQuestionSource) LoadQuestions(_ context.Context, _, _ string, count int) ([]domain.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := s.count
	if n == 0 {
		n = count
	}
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{
			ID:           "q" + string(rune('1'+i)),
			Text:         "pick the first option",
			Options:      []string{"right", "wrong"},
			CorrectIndex: 0,
			TimeLimit:    10 * time.Second,
		}
	}
	return qs, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []domain.GameResult
}

func (r *fakeRecorder) RecordResult(_ context.Context, result domain.GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *fakeRecorder) recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *fakeRecorder, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	recorder := &fakeRecorder{}
	cfg := coordinator.Config{
		Game:             game.Config{RevealDuration: 3 * time.Second},
		ResultsRetention: 10 * time.Minute,
	}
	cfg.Lobby.MinPlayers = 2
	cfg.Lobby.DisconnectGrace = 30 * time.Second
	cfg.Lobby.InactivityTTL = 15 * time.Minute
	cfg.Lobby.DefaultSettings = domain.Settings{
		QuestionCount:   2,
		TimePerQuestion: 10 * time.Second,
		MaxPlayers:      8,
		Scoring:         domain.ScoringRules{BasePoints: 100, MaxSpeedBonus: 50},
	}
	return coordinator.New(cfg, clock, &fakeQuestionSource{}, recorder), recorder, clock
}

func player(id string) domain.Player {
	return domain.Player{ID: id, DisplayName: "Player " + id}
}

// twoPlayerLobby creates a ready two-player lobby with both connections
// attached, and returns the lobby code.
func twoPlayerLobby(t *testing.T, c *coordinator.Coordinator, c1, c2 *fakeConn) string {
	t.Helper()
	c.Attach("p1", c1)
	c.Attach("p2", c2)

	snap, err := c.Registry().CreateLobby(player("p1"), domain.Settings{})
	require.NoError(t, err)
	_, err = c.Registry().JoinLobby(snap.LobbyID, player("p2"))
	require.NoError(t, err)
	_, err = c.Registry().SetReady(snap.LobbyID, "p1", true)
	require.NoError(t, err)
	_, err = c.Registry().SetReady(snap.LobbyID, "p2", true)
	require.NoError(t, err)
	return snap.LobbyID
}

func TestLobbyMutationsBroadcastToMembers(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	c.Attach("p1", c1)
	c.Attach("p2", c2)

	snap, err := c.Registry().CreateLobby(player("p1"), domain.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 1, c1.count(coordinator.EventLobbyUpdated))
	assert.Equal(t, 0, c2.count(coordinator.EventLobbyUpdated), "non-members hear nothing")

	_, err = c.Registry().JoinLobby(snap.LobbyID, player("p2"))
	require.NoError(t, err)
	assert.Equal(t, 2, c1.count(coordinator.EventLobbyUpdated))
	assert.Equal(t, 1, c2.count(coordinator.EventLobbyUpdated))

	payload, ok := c2.last(coordinator.EventLobbyUpdated)
	require.True(t, ok)
	ls, ok := payload.(domain.LobbySnapshot)
	require.True(t, ok)
	assert.Equal(t, snap.LobbyID, ls.LobbyID)
	assert.Len(t, ls.Players, 2)
}

func TestStartGameBroadcastsStartAndFirstQuestion(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)

	require.NoError(t, c.StartGame(context.Background(), lobbyID, "p1", false))

	for _, conn := range []*fakeConn{c1, c2} {
		assert.Equal(t, 1, conn.count(coordinator.EventGameStarted))
		assert.Equal(t, 1, conn.count(coordinator.EventQuestionStarted))
	}

	payload, ok := c1.last(coordinator.EventGameStarted)
	require.True(t, ok)
	started, ok := payload.(game.StartedEvent)
	require.True(t, ok)
	assert.Equal(t, lobbyID, started.LobbyID)
	assert.Equal(t, 2, started.Question.Total)

	// Second start against the same lobby is refused.
	assert.ErrorIs(t, c.StartGame(context.Background(), lobbyID, "p1", false), domain.ErrGameInProgress)
}

func TestStartGameReleasesLobbyWhenQuestionsUnavailable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	recorder := &fakeRecorder{}
	cfg := coordinator.Config{Game: game.Config{RevealDuration: 3 * time.Second}, ResultsRetention: time.Minute}
	cfg.Lobby.MinPlayers = 2
	cfg.Lobby.DefaultSettings = domain.Settings{QuestionCount: 2, TimePerQuestion: 10 * time.Second, MaxPlayers: 8}
	c := coordinator.New(cfg, clock, &fakeQuestionSource{err: domain.ErrNoQuestions}, recorder)

	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)

	err := c.StartGame(context.Background(), lobbyID, "p1", false)
	require.Error(t, err)

	snap, err := c.Registry().Get(lobbyID)
	require.NoError(t, err)
	assert.Equal(t, domain.LobbyWaiting, snap.Status, "failed start must not leave the lobby stuck")
}

func TestAnswerFlowBroadcasts(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)
	require.NoError(t, c.StartGame(context.Background(), lobbyID, "p1", false))

	out, err := c.SubmitAnswer(lobbyID, "p1", "q1", 0, 2*time.Second)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	// Both players learn that p1 answered, without the selected option.
	payload, ok := c2.last(coordinator.EventPlayerAnswered)
	require.True(t, ok)
	m, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "p1", m["playerId"])
	assert.Equal(t, true, m["hasAnswered"])
	assert.NotContains(t, m, "selectedIndex")

	out, err = c.SubmitAnswer(lobbyID, "p2", "q1", 1, 2*time.Second)
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.False(t, out.Correct)

	// All answers in closes the question immediately.
	assert.Equal(t, 1, c1.count(coordinator.EventQuestionEnded))
	assert.Equal(t, 1, c2.count(coordinator.EventQuestionEnded))
}

func TestSubmitWithoutGame(t *testing.T) {
	c, _, _ := newCoordinator(t)
	_, err := c.SubmitAnswer("NOPE42", "p1", "q1", 0, time.Second)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
	assert.ErrorIs(t, c.PauseGame("NOPE42", "p1"), domain.ErrGameNotFound)
	assert.ErrorIs(t, c.ResumeGame("NOPE42", "p1"), domain.ErrGameNotFound)
}

func TestGameEndRecordsResultAndReleasesLobby(t *testing.T) {
	c, recorder, clock := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)
	require.NoError(t, c.StartGame(context.Background(), lobbyID, "p1", false))

	for i, qid := range []string{"q1", "q2"} {
		out, err := c.SubmitAnswer(lobbyID, "p1", qid, 0, time.Second)
		require.NoError(t, err)
		require.True(t, out.Accepted, "q %s", qid)
		out, err = c.SubmitAnswer(lobbyID, "p2", qid, 0, 5*time.Second)
		require.NoError(t, err)
		require.True(t, out.Accepted)
		clock.Advance(3 * time.Second)
		if i == 0 {
			// Wait for the next question to open before answering it.
			require.Eventually(t, func() bool {
				return c1.count(coordinator.EventQuestionStarted) == 2
			}, time.Second, time.Millisecond)
		}
	}

	require.Eventually(t, func() bool { return c1.count(coordinator.EventGameEnded) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return recorder.recorded() == 1 }, time.Second, time.Millisecond)

	// The lobby is back to waiting with ready flags cleared.
	snap, err := c.Registry().Get(lobbyID)
	require.NoError(t, err)
	assert.Equal(t, domain.LobbyWaiting, snap.Status)
	for _, p := range snap.Players {
		assert.False(t, p.Ready)
	}

	// The result stays queryable during the retention window.
	payload, ok := c1.last(coordinator.EventGameEnded)
	require.True(t, ok)
	result, ok := payload.(domain.GameResult)
	require.True(t, ok)

	got, err := c.GameResult(result.GameID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Rankings[0].PlayerID, "faster answers win")

	// After retention expires the result is gone.
	clock.Advance(11 * time.Minute)
	require.Eventually(t, func() bool {
		_, err := c.GameResult(result.GameID)
		return err != nil
	}, time.Second, time.Millisecond)
}

func TestStateSyncReturnsLobbyAndGame(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)

	state := c.StateSync("p1")
	require.NotNil(t, state.Lobby)
	assert.Equal(t, lobbyID, state.Lobby.LobbyID)
	assert.Nil(t, state.Game, "no session before start")

	require.NoError(t, c.StartGame(context.Background(), lobbyID, "p1", false))
	out, err := c.SubmitAnswer(lobbyID, "p1", "q1", 0, 2*time.Second)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	state = c.StateSync("p1")
	require.NotNil(t, state.Game)
	assert.Equal(t, domain.GameQuestion, state.Game.Status)
	require.NotNil(t, state.Game.Question)
	assert.Equal(t, "q1", state.Game.Question.ID)
	for _, p := range state.Game.Players {
		if p.PlayerID == "p1" {
			assert.True(t, p.HasAnswered)
			assert.Equal(t, out.Score, p.Score)
		}
	}

	// A player in no lobby gets an empty reply, not an error.
	empty := c.StateSync("stranger")
	assert.Nil(t, empty.Lobby)
	assert.Nil(t, empty.Game)
}

func TestDetachMarksPlayerDisconnectedInGame(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)
	require.NoError(t, c.StartGame(context.Background(), lobbyID, "p1", false))

	c.Detach("p2")

	// Only p1 is connected now, so p1's answer alone closes the question.
	out, err := c.SubmitAnswer(lobbyID, "p1", "q1", 0, time.Second)
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Equal(t, 1, c1.count(coordinator.EventQuestionEnded))

	// Reattaching resynchronizes p2 into the running game.
	c.Attach("p2", c2)
	state := c.StateSync("p2")
	require.NotNil(t, state.Game)
	for _, p := range state.Game.Players {
		if p.PlayerID == "p2" {
			assert.True(t, p.Connected)
		}
	}
}

func TestAbandonedLobbyStopsBroadcasting(t *testing.T) {
	c, _, _ := newCoordinator(t)
	c1, c2 := &fakeConn{}, &fakeConn{}
	lobbyID := twoPlayerLobby(t, c, c1, c2)

	_, err := c.Registry().LeaveLobby(lobbyID, "p2")
	require.NoError(t, err)
	_, err = c.Registry().LeaveLobby(lobbyID, "p1")
	require.NoError(t, err)

	_, err = c.Registry().Get(lobbyID)
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	before := c1.count(coordinator.EventLobbyUpdated)

	// Later traffic for the dead lobby reaches nobody.
	_, err = c.SubmitAnswer(lobbyID, "p1", "q1", 0, time.Second)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
	assert.Equal(t, before, c1.count(coordinator.EventLobbyUpdated))
}
