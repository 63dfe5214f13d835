package lobby_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/lobby"
)

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []domain.LobbySnapshot
}

func (n *recordingNotifier) LobbyUpdated(snap domain.LobbySnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snaps = append(n.snaps, snap)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.snaps)
}

func (n *recordingNotifier) last() domain.LobbySnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snaps[len(n.snaps)-1]
}

func testConfig() lobby.Config {
	return lobby.Config{
		DefaultSettings: domain.Settings{
			Category:        "any",
			Difficulty:      "any",
			QuestionCount:   5,
			TimePerQuestion: 10 * time.Second,
			MaxPlayers:      4,
			Scoring:         domain.ScoringRules{BasePoints: 100, MaxSpeedBonus: 50},
		},
		MinPlayers:      2,
		DisconnectGrace: 30 * time.Second,
		InactivityTTL:   15 * time.Minute,
	}
}

func player(id, name string) domain.Player {
	return domain.Player{ID: id, DisplayName: name}
}

func newRegistry(t *testing.T) (*lobby.Registry, *recordingNotifier, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	notifier := &recordingNotifier{}
	return lobby.NewRegistry(testConfig(), clock, notifier), notifier, clock
}

func TestCreateLobbyAssignsCodeAndHost(t *testing.T) {
	reg, notifier, _ := newRegistry(t)

	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	assert.Len(t, snap.LobbyID, 6)
	assert.Equal(t, "h1", snap.HostID)
	assert.Equal(t, domain.LobbyWaiting, snap.Status)
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].IsHost)
	assert.Equal(t, 4, snap.Settings.MaxPlayers, "defaults applied")
	assert.Equal(t, 1, notifier.count())
}

func TestJoinLobbyCapacity(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{MaxPlayers: 4})
	require.NoError(t, err)

	for i, id := range []string{"p2", "p3", "p4"} {
		_, err := reg.JoinLobby(snap.LobbyID, player(id, id))
		require.NoError(t, err, "join %d", i)
	}

	_, err = reg.JoinLobby(snap.LobbyID, player("p5", "p5"))
	assert.ErrorIs(t, err, domain.ErrLobbyFull)

	got, err := reg.Get(snap.LobbyID)
	require.NoError(t, err)
	assert.Len(t, got.Players, 4, "roster unchanged after rejected join")
}

func TestJoinLobbyRejectsDuplicatesAndUnknown(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)

	_, err = reg.JoinLobby(snap.LobbyID, player("h1", "Host"))
	assert.ErrorIs(t, err, domain.ErrAlreadyInLobby)

	_, err = reg.JoinLobby("ZZZZZZ", player("p2", "p2"))
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
}

func TestHostTransferOnLeave(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "Second"))
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p3", "Third"))
	require.NoError(t, err)

	got, err := reg.LeaveLobby(snap.LobbyID, "h1")
	require.NoError(t, err)
	// Earliest-joined remaining player inherits the host role.
	assert.Equal(t, "p2", got.HostID)
	require.Len(t, got.Players, 2)
	assert.True(t, got.Players[0].IsHost)
}

func TestLobbyAbandonedWhenEmpty(t *testing.T) {
	reg, notifier, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)

	got, err := reg.LeaveLobby(snap.LobbyID, "h1")
	require.NoError(t, err)
	assert.Equal(t, domain.LobbyAbandoned, got.Status)
	assert.Equal(t, domain.LobbyAbandoned, notifier.last().Status)

	_, err = reg.Get(snap.LobbyID)
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
}

func TestHostInvariantAcrossOperations(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	for _, id := range []string{"p2", "p3", "p4"} {
		_, err := reg.JoinLobby(snap.LobbyID, player(id, id))
		require.NoError(t, err)
	}

	_, err = reg.TransferHost(snap.LobbyID, "h1", "p3")
	require.NoError(t, err)
	_, err = reg.LeaveLobby(snap.LobbyID, "p3")
	require.NoError(t, err)
	_, err = reg.LeaveLobby(snap.LobbyID, "p2")
	require.NoError(t, err)

	got, err := reg.Get(snap.LobbyID)
	require.NoError(t, err)
	found := false
	for _, p := range got.Players {
		if p.ID == got.HostID {
			found = true
			assert.True(t, p.IsHost)
		} else {
			assert.False(t, p.IsHost)
		}
	}
	assert.True(t, found, "hostId must reference a current member")
}

func TestTransferHostValidation(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)

	_, err = reg.TransferHost(snap.LobbyID, "p2", "h1")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	_, err = reg.TransferHost(snap.LobbyID, "h1", "h1")
	assert.ErrorIs(t, err, domain.ErrSelfTransfer)

	_, err = reg.TransferHost(snap.LobbyID, "h1", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotInLobby)
}

func TestUpdateSettingsHostOnly(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)

	count := 7
	_, err = reg.UpdateSettings(snap.LobbyID, "p2", domain.SettingsPatch{QuestionCount: &count})
	assert.ErrorIs(t, err, domain.ErrNotHost)

	got, err := reg.UpdateSettings(snap.LobbyID, "h1", domain.SettingsPatch{QuestionCount: &count})
	require.NoError(t, err)
	assert.Equal(t, 7, got.Settings.QuestionCount)
}

func TestUpdateSettingsRejectedDuringGame(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)
	_, err = reg.SetReady(snap.LobbyID, "p2", true)
	require.NoError(t, err)

	_, err = reg.BeginGame(snap.LobbyID, "h1", false)
	require.NoError(t, err)
	_, err = reg.MarkActive(snap.LobbyID)
	require.NoError(t, err)

	count := 7
	_, err = reg.UpdateSettings(snap.LobbyID, "h1", domain.SettingsPatch{QuestionCount: &count})
	assert.ErrorIs(t, err, domain.ErrGameInProgress)
}

func TestBeginGamePreconditions(t *testing.T) {
	reg, _, _ := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)

	_, err = reg.BeginGame(snap.LobbyID, "h1", false)
	assert.ErrorIs(t, err, domain.ErrNotEnoughPlayers)

	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)

	_, err = reg.BeginGame(snap.LobbyID, "p2", false)
	assert.ErrorIs(t, err, domain.ErrNotHost)

	_, err = reg.BeginGame(snap.LobbyID, "h1", false)
	assert.ErrorIs(t, err, domain.ErrNotAllReady)

	// Host override starts without everyone ready.
	got, err := reg.BeginGame(snap.LobbyID, "h1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.LobbyStarting, got.Status)
}

func TestDisconnectGraceEvictsPlayer(t *testing.T) {
	reg, notifier, clock := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)

	got, err := reg.MarkDisconnected(snap.LobbyID, "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, got.Players[1].Connection)
	assert.Len(t, got.Players, 2, "roster untouched until grace expires")

	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool {
		s, err := reg.Get(snap.LobbyID)
		return err == nil && len(s.Players) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "h1", notifier.last().HostID)
}

func TestReconnectCancelsGraceEviction(t *testing.T) {
	reg, _, clock := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)
	_, err = reg.JoinLobby(snap.LobbyID, player("p2", "p2"))
	require.NoError(t, err)

	_, err = reg.MarkDisconnected(snap.LobbyID, "p2")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	got, err := reg.MarkReconnected(snap.LobbyID, "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionConnected, got.Players[1].Connection)

	clock.Advance(time.Minute)
	s, err := reg.Get(snap.LobbyID)
	require.NoError(t, err)
	assert.Len(t, s.Players, 2, "reconnected player must not be evicted")
}

func TestIdleLobbyExpires(t *testing.T) {
	reg, notifier, clock := newRegistry(t)
	snap, err := reg.CreateLobby(player("h1", "Host"), domain.Settings{})
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	require.Eventually(t, func() bool {
		_, err := reg.Get(snap.LobbyID)
		return err != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.LobbyAbandoned, notifier.last().Status)
}
