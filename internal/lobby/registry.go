// Package lobby owns pre-game lobby lifecycle: creation, membership, host
// transfer, readiness, and settings. Every lobby is serialized behind its own
// mutex; distinct lobbies proceed fully concurrently.
package lobby

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/timer"
)

// Notifier receives exactly one callback per successful lobby mutation.
type Notifier interface {
	LobbyUpdated(snap domain.LobbySnapshot)
}

// Config carries the product knobs the registry needs.
type Config struct {
	DefaultSettings domain.Settings
	MinPlayers      int
	DisconnectGrace time.Duration
	InactivityTTL   time.Duration
}

// Registry is the in-memory repository of active lobbies, keyed by code.
type Registry struct {
	cfg      Config
	clock    clockwork.Clock
	notifier Notifier

	mu      sync.RWMutex
	lobbies map[string]*lobbyState
	rnd     *rand.Rand
}

type lobbyState struct {
	mu             sync.Mutex
	id             string
	hostID         string
	players        []*domain.Player // ordered by join time
	settings       domain.Settings
	status         domain.LobbyStatus
	createdAt      time.Time
	lastActivityAt time.Time

	graceTimers map[string]*timer.Handle
	inactivity  *timer.Handle
}

func NewRegistry(cfg Config, clock clockwork.Clock, notifier Notifier) *Registry {
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		notifier: notifier,
		lobbies:  make(map[string]*lobbyState),
		rnd:      rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// CreateLobby opens a new lobby with the caller as host.
func (r *Registry) CreateLobby(host domain.Player, settings domain.Settings) (domain.LobbySnapshot, error) {
	applyDefaults(&settings, r.cfg.DefaultSettings)

	now := r.clock.Now()
	host.IsHost = true
	host.Connection = domain.ConnectionConnected
	host.JoinedAt = now

	r.mu.Lock()
	var code string
	for {
		code = newCode(r.rnd)
		if _, taken := r.lobbies[code]; !taken {
			break
		}
	}
	l := &lobbyState{
		id:             code,
		hostID:         host.ID,
		players:        []*domain.Player{&host},
		settings:       settings,
		status:         domain.LobbyWaiting,
		createdAt:      now,
		lastActivityAt: now,
		graceTimers:    make(map[string]*timer.Handle),
	}
	r.lobbies[code] = l
	r.mu.Unlock()

	r.armInactivity(l)
	log.Info().Str("lobby_id", code).Str("host_id", host.ID).Msg("lobby created")
	return r.finishMutation(l), nil
}

// JoinLobby adds a player to a waiting lobby.
func (r *Registry) JoinLobby(lobbyID string, player domain.Player) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.status != domain.LobbyWaiting {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrLobbyClosed
	}
	if l.find(player.ID) != nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrAlreadyInLobby
	}
	if len(l.players) >= l.settings.MaxPlayers {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrLobbyFull
	}
	player.IsHost = false
	player.Ready = false
	player.Connection = domain.ConnectionConnected
	player.JoinedAt = r.clock.Now()
	l.players = append(l.players, &player)
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// LeaveLobby removes a player. A departing host hands off to the
// earliest-joined remaining player; an emptied lobby is abandoned.
func (r *Registry) LeaveLobby(lobbyID, playerID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.find(playerID) == nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotInLobby
	}
	abandoned := l.removeLocked(playerID)
	l.mu.Unlock()

	if abandoned {
		r.drop(l)
		snap := r.snapshot(l)
		r.notifier.LobbyUpdated(snap)
		return snap, nil
	}
	return r.finishMutation(l), nil
}

// UpdateSettings applies a partial settings update on behalf of the host.
func (r *Registry) UpdateSettings(lobbyID, callerID string, patch domain.SettingsPatch) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.hostID != callerID {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotHost
	}
	if l.status == domain.LobbyActive || l.status == domain.LobbyStarting {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrGameInProgress
	}
	applyPatch(&l.settings, patch)
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// TransferHost hands the host role to another current member.
func (r *Registry) TransferHost(lobbyID, currentHostID, newHostID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.hostID != currentHostID {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotHost
	}
	if currentHostID == newHostID {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrSelfTransfer
	}
	target := l.find(newHostID)
	if target == nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotInLobby
	}
	if prev := l.find(currentHostID); prev != nil {
		prev.IsHost = false
	}
	target.IsHost = true
	l.hostID = newHostID
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// SetReady toggles a member's ready flag.
func (r *Registry) SetReady(lobbyID, playerID string, ready bool) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	p := l.find(playerID)
	if p == nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotInLobby
	}
	p.Ready = ready
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// MarkDisconnected flags a member's connection as lost and arms a grace
// timer. The member stays on the roster until the grace period elapses
// without a reconnect.
func (r *Registry) MarkDisconnected(lobbyID, playerID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	p := l.find(playerID)
	if p == nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotInLobby
	}
	p.Connection = domain.ConnectionDisconnected
	if prev, ok := l.graceTimers[playerID]; ok {
		prev.Cancel()
	}
	l.graceTimers[playerID] = timer.Start(r.clock, r.cfg.DisconnectGrace, func() {
		r.evictAfterGrace(l, playerID)
	})
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// MarkReconnected restores a member's connection and cancels any pending
// grace eviction.
func (r *Registry) MarkReconnected(lobbyID, playerID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	p := l.find(playerID)
	if p == nil {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotInLobby
	}
	p.Connection = domain.ConnectionConnected
	if h, ok := l.graceTimers[playerID]; ok {
		h.Cancel()
		delete(l.graceTimers, playerID)
	}
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// BeginGame validates start preconditions and moves the lobby to starting.
// The caller promotes it to active once the session is constructed, or
// aborts back to waiting if session setup fails.
func (r *Registry) BeginGame(lobbyID, callerID string, force bool) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.hostID != callerID {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotHost
	}
	if l.status != domain.LobbyWaiting {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrGameInProgress
	}
	if len(l.players) < r.cfg.MinPlayers {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotEnoughPlayers
	}
	if !force {
		for _, p := range l.players {
			if !p.Ready && p.ID != l.hostID {
				l.mu.Unlock()
				return domain.LobbySnapshot{}, domain.ErrNotAllReady
			}
		}
	}
	l.status = domain.LobbyStarting
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// MarkActive promotes a starting lobby to active.
func (r *Registry) MarkActive(lobbyID string) (domain.LobbySnapshot, error) {
	return r.setStatus(lobbyID, domain.LobbyStarting, domain.LobbyActive)
}

// AbortStart returns a starting lobby to waiting, e.g. when question content
// could not be loaded.
func (r *Registry) AbortStart(lobbyID string) (domain.LobbySnapshot, error) {
	return r.setStatus(lobbyID, domain.LobbyStarting, domain.LobbyWaiting)
}

// FinishGame returns an active lobby to waiting so another round can start,
// clearing ready flags.
func (r *Registry) FinishGame(lobbyID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.status == domain.LobbyActive || l.status == domain.LobbyStarting {
		l.status = domain.LobbyWaiting
	}
	for _, p := range l.players {
		p.Ready = false
	}
	l.mu.Unlock()

	return r.finishMutation(l), nil
}

// CloseLobby is the explicit host deletion path.
func (r *Registry) CloseLobby(lobbyID, callerID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}

	l.mu.Lock()
	if l.hostID != callerID {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrNotHost
	}
	l.status = domain.LobbyFinished
	l.mu.Unlock()

	r.drop(l)
	snap := r.snapshot(l)
	r.notifier.LobbyUpdated(snap)
	log.Info().Str("lobby_id", lobbyID).Msg("lobby closed by host")
	return snap, nil
}

// Get returns a point-in-time snapshot for state-sync queries.
func (r *Registry) Get(lobbyID string) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}
	return r.snapshot(l), nil
}

// LobbyOf returns the lobby a player currently belongs to, if any.
func (r *Registry) LobbyOf(playerID string) (domain.LobbySnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.lobbies {
		l.mu.Lock()
		member := l.find(playerID) != nil
		l.mu.Unlock()
		if member {
			return r.snapshot(l), true
		}
	}
	return domain.LobbySnapshot{}, false
}

func (r *Registry) get(lobbyID string) (*lobbyState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return nil, domain.ErrLobbyNotFound
	}
	return l, nil
}

func (r *Registry) drop(l *lobbyState) {
	l.mu.Lock()
	for id, h := range l.graceTimers {
		h.Cancel()
		delete(l.graceTimers, id)
	}
	if l.inactivity != nil {
		l.inactivity.Cancel()
	}
	l.mu.Unlock()

	r.mu.Lock()
	delete(r.lobbies, l.id)
	r.mu.Unlock()
}

func (r *Registry) setStatus(lobbyID string, from, to domain.LobbyStatus) (domain.LobbySnapshot, error) {
	l, err := r.get(lobbyID)
	if err != nil {
		return domain.LobbySnapshot{}, err
	}
	l.mu.Lock()
	if l.status != from {
		l.mu.Unlock()
		return domain.LobbySnapshot{}, domain.ErrGameInProgress
	}
	l.status = to
	l.mu.Unlock()
	return r.finishMutation(l), nil
}

// evictAfterGrace removes a player whose disconnect grace expired. It
// tolerates a reconnect having won the race: the timer it observes is only
// honored if still registered.
func (r *Registry) evictAfterGrace(l *lobbyState, playerID string) {
	l.mu.Lock()
	h, ok := l.graceTimers[playerID]
	if !ok || !h.Fired() {
		l.mu.Unlock()
		return
	}
	delete(l.graceTimers, playerID)
	p := l.find(playerID)
	if p == nil || p.Connection != domain.ConnectionDisconnected {
		l.mu.Unlock()
		return
	}
	abandoned := l.removeLocked(playerID)
	l.mu.Unlock()

	log.Info().Str("lobby_id", l.id).Str("player_id", playerID).Msg("player evicted after disconnect grace")
	if abandoned {
		r.drop(l)
	}
	r.notifier.LobbyUpdated(r.snapshot(l))
}

// removeLocked takes a player off the roster, reassigning the host role as
// needed. Returns true when the lobby emptied and became abandoned.
func (l *lobbyState) removeLocked(playerID string) bool {
	for i, p := range l.players {
		if p.ID == playerID {
			l.players = append(l.players[:i], l.players[i+1:]...)
			break
		}
	}
	if h, ok := l.graceTimers[playerID]; ok {
		h.Cancel()
		delete(l.graceTimers, playerID)
	}
	if len(l.players) == 0 {
		l.status = domain.LobbyAbandoned
		return true
	}
	if l.hostID == playerID {
		next := l.players[0] // earliest remaining by join order
		next.IsHost = true
		l.hostID = next.ID
	}
	return false
}

func (l *lobbyState) find(playerID string) *domain.Player {
	for _, p := range l.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// finishMutation stamps activity, re-arms the inactivity timer, snapshots,
// and reports the change to the coordinator exactly once.
func (r *Registry) finishMutation(l *lobbyState) domain.LobbySnapshot {
	l.mu.Lock()
	l.lastActivityAt = r.clock.Now()
	l.mu.Unlock()
	r.armInactivity(l)
	snap := r.snapshot(l)
	r.notifier.LobbyUpdated(snap)
	return snap
}

func (r *Registry) armInactivity(l *lobbyState) {
	if r.cfg.InactivityTTL <= 0 {
		return
	}
	l.mu.Lock()
	if l.inactivity != nil {
		l.inactivity.Cancel()
	}
	l.inactivity = timer.Start(r.clock, r.cfg.InactivityTTL, func() {
		r.expireIdle(l)
	})
	l.mu.Unlock()
}

func (r *Registry) expireIdle(l *lobbyState) {
	l.mu.Lock()
	if l.status == domain.LobbyActive || l.status == domain.LobbyStarting {
		l.mu.Unlock()
		return
	}
	l.status = domain.LobbyAbandoned
	l.mu.Unlock()

	log.Info().Str("lobby_id", l.id).Msg("idle lobby expired")
	r.drop(l)
	r.notifier.LobbyUpdated(r.snapshot(l))
}

func (r *Registry) snapshot(l *lobbyState) domain.LobbySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	players := make([]domain.Player, len(l.players))
	for i, p := range l.players {
		players[i] = *p
	}
	return domain.LobbySnapshot{
		LobbyID:        l.id,
		HostID:         l.hostID,
		Status:         l.status,
		Players:        players,
		Settings:       l.settings,
		CreatedAt:      l.createdAt,
		LastActivityAt: l.lastActivityAt,
	}
}

func applyDefaults(s *domain.Settings, def domain.Settings) {
	if s.Category == "" {
		s.Category = def.Category
	}
	if s.Difficulty == "" {
		s.Difficulty = def.Difficulty
	}
	if s.QuestionCount <= 0 {
		s.QuestionCount = def.QuestionCount
	}
	if s.TimePerQuestion <= 0 {
		s.TimePerQuestion = def.TimePerQuestion
	}
	if s.MaxPlayers <= 0 {
		s.MaxPlayers = def.MaxPlayers
	}
	if s.Scoring.BasePoints <= 0 {
		s.Scoring = def.Scoring
	}
}

func applyPatch(s *domain.Settings, p domain.SettingsPatch) {
	if p.Category != nil {
		s.Category = *p.Category
	}
	if p.Difficulty != nil {
		s.Difficulty = *p.Difficulty
	}
	if p.QuestionCount != nil && *p.QuestionCount > 0 {
		s.QuestionCount = *p.QuestionCount
	}
	if p.TimePerQuestion != nil && *p.TimePerQuestion > 0 {
		s.TimePerQuestion = *p.TimePerQuestion
	}
	if p.MaxPlayers != nil && *p.MaxPlayers > 0 {
		s.MaxPlayers = *p.MaxPlayers
	}
	if p.Scoring != nil {
		s.Scoring = *p.Scoring
	}
}
