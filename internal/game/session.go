// Package game implements the quiz session state machine: question flow,
// answer collection, scoring application, and completion ranking. All
// mutations of one session are serialized behind its mutex; the question
// list is frozen at construction and read without locking.
package game

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizparty-service/internal/domain"
	"quizparty-service/internal/scoring"
	"quizparty-service/internal/timer"
)

// Config carries the session-level product knobs.
type Config struct {
	RevealDuration time.Duration
}

type playerState struct {
	player    domain.Player
	joinOrder int

	score        int
	streak       int
	correctCount int

	hasAnswered   bool
	selectedIndex int
	responseTime  time.Duration
	connected     bool
}

// Session is one run-through of a fixed question sequence for a fixed
// player set.
type Session struct {
	id      string
	lobbyID string
	hostID  string

	questions []domain.Question
	rules     domain.ScoringRules
	perQ      time.Duration
	cfg       Config

	clock    clockwork.Clock
	notifier Notifier

	mu      sync.Mutex
	status  domain.GameStatus
	idx     int
	players map[string]*playerState
	order   []string
	answers []domain.Answer

	handle *timer.Handle
	// epoch increments on every state transition; timer callbacks armed
	// under an older epoch become no-ops, which makes the expiry-vs-
	// all-answered race resolve to exactly one transition.
	epoch int

	questionStart   time.Time
	pausedFrom      domain.GameStatus
	pausedRemaining time.Duration

	result *domain.GameResult
}

// NewSession freezes the roster and question list into a new session in the
// preparing state. The roster must come from a lobby that passed start
// preconditions.
func NewSession(snap domain.LobbySnapshot, questions []domain.Question, cfg Config, clock clockwork.Clock, notifier Notifier) *Session {
	s := &Session{
		id:        uuid.NewString(),
		lobbyID:   snap.LobbyID,
		hostID:    snap.HostID,
		questions: questions,
		rules:     snap.Settings.Scoring,
		perQ:      snap.Settings.TimePerQuestion,
		cfg:       cfg,
		clock:     clock,
		notifier:  notifier,
		status:    domain.GamePreparing,
		players:   make(map[string]*playerState),
	}
	for i, p := range snap.Players {
		s.players[p.ID] = &playerState{
			player:    p,
			joinOrder: i,
			connected: p.Connection == domain.ConnectionConnected,
		}
		s.order = append(s.order, p.ID)
	}
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// LobbyID returns the owning lobby's code.
func (s *Session) LobbyID() string { return s.lobbyID }

// Start announces the session and opens question 0.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.GamePreparing {
		return
	}
	s.notifier.GameStarted(s.lobbyID, StartedEvent{
		GameID:   s.id,
		LobbyID:  s.lobbyID,
		Question: s.questionView(0),
	})
	s.openQuestionLocked(0)
}

// SubmitAnswer records a player's answer for the current question. The first
// submission per player per question wins; everything else is a typed
// rejection, never an overwrite.
func (s *Session) SubmitAnswer(playerID, questionID string, selectedIndex int, responseTime time.Duration) SubmitOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case domain.GamePreparing:
		return rejected(domain.ErrGameNotStarted)
	case domain.GameQuestion:
		// accepting
	default:
		return rejected(domain.ErrGameNotActive)
	}

	ps, ok := s.players[playerID]
	if !ok {
		return rejected(domain.ErrNotInLobby)
	}
	if ps.hasAnswered {
		return rejected(domain.ErrAlreadyAnswered)
	}

	q := s.questions[s.idx]
	if questionID != q.ID || selectedIndex < 0 || selectedIndex >= len(q.Options) {
		return rejected(domain.ErrInvalidAnswer)
	}

	correct := selectedIndex == q.CorrectIndex
	points, err := scoring.Score(correct, responseTime, s.timeLimit(q), s.rules, ps.streak)
	if err != nil {
		// Contract violation (e.g. negative latency): reject this operation,
		// leave the rest of the session untouched.
		log.Error().Err(err).Str("game_id", s.id).Str("player_id", playerID).Msg("scoring rejected submission")
		return rejected(domain.ErrInvalidInput)
	}

	ps.hasAnswered = true
	ps.selectedIndex = selectedIndex
	ps.responseTime = responseTime
	if correct {
		ps.streak++
		ps.correctCount++
		ps.score += points
	} else {
		ps.streak = 0
	}

	s.answers = append(s.answers, domain.Answer{
		PlayerID:      playerID,
		QuestionID:    q.ID,
		SelectedIndex: selectedIndex,
		ResponseTime:  responseTime,
		Correct:       correct,
		Points:        points,
	})

	s.notifier.PlayerAnswered(s.lobbyID, playerID)

	if s.allConnectedAnsweredLocked() {
		s.revealLocked()
	}

	return SubmitOutcome{
		Accepted: true,
		Correct:  correct,
		Points:   points,
		Score:    ps.score,
		Streak:   ps.streak,
	}
}

// Pause suspends the running timer, preserving its remaining duration. Only
// the host may pause, and only from question or revealing.
func (s *Session) Pause(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callerID != s.hostID {
		return domain.ErrNotHost
	}
	if s.status != domain.GameQuestion && s.status != domain.GameRevealing {
		return domain.ErrGameNotActive
	}
	remaining := time.Duration(0)
	if s.handle != nil {
		if left, ok := s.handle.Cancel(); ok {
			remaining = left
		} else {
			// The expiry callback already won; it will drive the transition.
			return domain.ErrGameNotActive
		}
	}
	s.pausedFrom = s.status
	s.pausedRemaining = remaining
	s.status = domain.GamePaused
	s.epoch++
	log.Info().Str("game_id", s.id).Dur("remaining", remaining).Msg("game paused")
	return nil
}

// Resume re-arms a timer for exactly the preserved remaining duration.
func (s *Session) Resume(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callerID != s.hostID {
		return domain.ErrNotHost
	}
	if s.status != domain.GamePaused {
		return domain.ErrGameNotActive
	}
	s.status = s.pausedFrom
	s.epoch++
	epoch := s.epoch
	switch s.status {
	case domain.GameQuestion:
		s.handle = timer.Start(s.clock, s.pausedRemaining, func() { s.onQuestionDeadline(epoch) })
	case domain.GameRevealing:
		s.handle = timer.Start(s.clock, s.pausedRemaining, func() { s.onRevealDone(epoch) })
	}
	log.Info().Str("game_id", s.id).Dur("remaining", s.pausedRemaining).Msg("game resumed")
	return nil
}

// SetConnected updates a player's connection flag. A disconnected player no
// longer blocks the all-answered early transition; their recorded answers
// and score are retained for reconnection.
func (s *Session) SetConnected(playerID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.players[playerID]
	if !ok {
		return
	}
	ps.connected = connected
	if !connected && s.status == domain.GameQuestion && s.allConnectedAnsweredLocked() {
		s.revealLocked()
	}
}

// IsMember reports whether a player belongs to this session.
func (s *Session) IsMember(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[playerID]
	return ok
}

// Status returns the current state.
func (s *Session) Status() domain.GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result returns the final result once the session has finished.
func (s *Session) Result() (domain.GameResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.GameResult{}, false
	}
	return *s.result, true
}

// Snapshot builds the full-state view used for reconnection resync.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		GameID:        s.id,
		LobbyID:       s.lobbyID,
		Status:        s.status,
		QuestionIndex: s.idx,
		QuestionCount: len(s.questions),
		Result:        s.result,
	}
	if s.status == domain.GameQuestion || s.status == domain.GameRevealing || s.status == domain.GamePaused {
		qv := s.questionView(s.idx)
		snap.Question = &qv
	}
	if s.status == domain.GamePaused {
		snap.Remaining = s.pausedRemaining
	} else if s.handle != nil {
		snap.Remaining = s.handle.Remaining()
	}
	for _, id := range s.order {
		ps := s.players[id]
		snap.Players = append(snap.Players, PlayerPublicState{
			PlayerID:    ps.player.ID,
			DisplayName: ps.player.DisplayName,
			Score:       ps.score,
			Streak:      ps.streak,
			HasAnswered: ps.hasAnswered,
			Connected:   ps.connected,
		})
	}
	return snap
}

// onQuestionDeadline is the timer-expiry path of the question→revealing
// transition. The epoch guard makes a stale callback a no-op.
func (s *Session) onQuestionDeadline(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.status != domain.GameQuestion {
		return
	}
	s.revealLocked()
}

func (s *Session) onRevealDone(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.status != domain.GameRevealing {
		return
	}
	if s.idx+1 < len(s.questions) {
		s.openQuestionLocked(s.idx + 1)
	} else {
		s.finishLocked()
	}
}

func (s *Session) openQuestionLocked(idx int) {
	s.idx = idx
	s.status = domain.GameQuestion
	s.questionStart = s.clock.Now()
	for _, ps := range s.players {
		ps.hasAnswered = false
		ps.selectedIndex = -1
		ps.responseTime = 0
	}
	s.epoch++
	epoch := s.epoch
	q := s.questions[idx]
	s.handle = timer.Start(s.clock, s.timeLimit(q), func() { s.onQuestionDeadline(epoch) })
	s.notifier.QuestionStarted(s.lobbyID, s.questionView(idx))
}

// revealLocked performs the question→revealing transition. Callers hold the
// lock and have already established that the transition is due; the status
// check in both trigger paths keeps a second trigger from double-firing.
func (s *Session) revealLocked() {
	if s.handle != nil {
		s.handle.Cancel()
	}
	q := s.questions[s.idx]

	// Players without a recorded answer miss the question: 0 points, streak
	// reset, recorded as absent.
	for _, id := range s.order {
		ps := s.players[id]
		if !ps.hasAnswered {
			ps.streak = 0
		}
	}

	ev := RevealEvent{
		Index:        s.idx,
		QuestionID:   q.ID,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
	}
	for _, id := range s.order {
		ps := s.players[id]
		res := PlayerAnswerResult{
			PlayerID:      id,
			Answered:      ps.hasAnswered,
			Correct:       ps.hasAnswered && ps.selectedIndex == q.CorrectIndex,
			Score:         ps.score,
			Streak:        ps.streak,
			SelectedIndex: -1,
		}
		if ps.hasAnswered {
			res.SelectedIndex = ps.selectedIndex
			if res.Correct {
				res.Points = s.lastPoints(id, q.ID)
			}
		}
		ev.Results = append(ev.Results, res)
	}

	s.status = domain.GameRevealing
	s.epoch++
	epoch := s.epoch
	s.handle = timer.Start(s.clock, s.cfg.RevealDuration, func() { s.onRevealDone(epoch) })
	s.notifier.QuestionEnded(s.lobbyID, ev)
}

func (s *Session) finishLocked() {
	s.status = domain.GameFinished
	s.epoch++
	s.handle = nil

	ranked := make([]*playerState, 0, len(s.players))
	for _, id := range s.order {
		ranked = append(ranked, s.players[id])
	}
	// Deterministic total order: score desc, then cumulative correct count
	// desc, then join order asc.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].correctCount != ranked[j].correctCount {
			return ranked[i].correctCount > ranked[j].correctCount
		}
		return ranked[i].joinOrder < ranked[j].joinOrder
	})

	result := domain.GameResult{
		GameID:        s.id,
		LobbyID:       s.lobbyID,
		QuestionCount: len(s.questions),
		FinishedAt:    s.clock.Now(),
	}
	for i, ps := range ranked {
		result.Rankings = append(result.Rankings, domain.PlayerResult{
			PlayerID:     ps.player.ID,
			DisplayName:  ps.player.DisplayName,
			Score:        ps.score,
			CorrectCount: ps.correctCount,
			Rank:         i + 1,
		})
	}
	s.result = &result

	log.Info().Str("game_id", s.id).Str("lobby_id", s.lobbyID).Int("players", len(ranked)).Msg("game finished")
	s.notifier.GameEnded(s.lobbyID, result)
}

func (s *Session) allConnectedAnsweredLocked() bool {
	any := false
	for _, ps := range s.players {
		if !ps.connected {
			continue
		}
		any = true
		if !ps.hasAnswered {
			return false
		}
	}
	// With every player disconnected the timer is the only trigger left.
	return any
}

func (s *Session) timeLimit(q domain.Question) time.Duration {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	return s.perQ
}

func (s *Session) questionView(idx int) QuestionView {
	q := s.questions[idx]
	return QuestionView{
		Index:     idx,
		Total:     len(s.questions),
		ID:        q.ID,
		Text:      q.Text,
		Options:   q.Options,
		TimeLimit: s.timeLimit(q),
		ImageURL:  q.ImageURL,
	}
}

func (s *Session) lastPoints(playerID, questionID string) int {
	for i := len(s.answers) - 1; i >= 0; i-- {
		a := s.answers[i]
		if a.PlayerID == playerID && a.QuestionID == questionID {
			return a.Points
		}
	}
	return 0
}
