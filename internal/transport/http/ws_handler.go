package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quizparty-service/internal/auth"
	"quizparty-service/internal/coordinator"
	"quizparty-service/internal/domain"
)

// WSHandler upgrades HTTP requests to websockets and translates inbound
// messages into coordinator commands. Transport identity is per-connection;
// game identity is the resolved playerId, so a reconnect re-attaches.
type WSHandler struct {
	coord    *coordinator.Coordinator
	resolver auth.PlayerResolver
	guests   auth.GuestResolver
	upgrader websocket.Upgrader
}

func NewWSHandler(coord *coordinator.Coordinator, resolver auth.PlayerResolver) *WSHandler {
	return &WSHandler{
		coord:    coord,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type lobbyRef struct {
	LobbyID string `json:"lobbyId"`
}

type joinPayload struct {
	LobbyID string `json:"lobbyId"`
}

type readyPayload struct {
	LobbyID string `json:"lobbyId"`
	Ready   bool   `json:"ready"`
}

type scoringPayload struct {
	BasePoints          int     `json:"basePoints"`
	MaxSpeedBonus       int     `json:"maxSpeedBonus"`
	StreakEnabled       bool    `json:"streakEnabled"`
	StreakFactor        float64 `json:"streakFactor"`
	MaxStreakMultiplier float64 `json:"maxStreakMultiplier"`
}

type settingsPayload struct {
	Category               *string         `json:"category"`
	Difficulty             *string         `json:"difficulty"`
	QuestionCount          *int            `json:"questionCount"`
	TimePerQuestionSeconds *int            `json:"timePerQuestionSeconds"`
	MaxPlayers             *int            `json:"maxPlayers"`
	Scoring                *scoringPayload `json:"scoring"`
}

type createLobbyPayload struct {
	Settings settingsPayload `json:"settings"`
}

type updateSettingsPayload struct {
	LobbyID  string          `json:"lobbyId"`
	Settings settingsPayload `json:"settings"`
}

type transferHostPayload struct {
	LobbyID   string `json:"lobbyId"`
	NewHostID string `json:"newHostId"`
}

type startGamePayload struct {
	LobbyID string `json:"lobbyId"`
	Force   bool   `json:"force"`
}

type submitAnswerPayload struct {
	LobbyID        string `json:"lobbyId"`
	QuestionID     string `json:"questionId"`
	SelectedIndex  int    `json:"selectedIndex"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

type gameResultPayload struct {
	GameID string `json:"gameId"`
}

// ServeWS is the single websocket endpoint.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identify(r)
	if err != nil {
		http.Error(w, "missing or invalid token/name", http.StatusUnauthorized)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	defer raw.Close()

	conn := newWSConn(raw)
	defer conn.Close()

	h.coord.Attach(identity.PlayerID, conn)
	defer h.coord.Detach(identity.PlayerID)

	_ = conn.Send("connected", map[string]string{
		"playerId":    identity.PlayerID,
		"displayName": identity.DisplayName,
	})

	for {
		var inbound inboundMessage
		if err := raw.ReadJSON(&inbound); err != nil {
			return
		}
		h.dispatch(conn, identity, inbound)
	}
}

// identify resolves the connecting player. Tokens are only honored when a
// resolver is configured; otherwise the connection falls back to a guest
// identity keyed by the requested name.
func (h *WSHandler) identify(r *http.Request) (auth.Identity, error) {
	if token := r.URL.Query().Get("token"); token != "" && h.resolver != nil {
		return h.resolver.Resolve(token)
	}
	return h.guests.Resolve(r.URL.Query().Get("name"))
}

// dispatch routes one inbound command. Rejections go back to the acting
// player only; successful mutations broadcast through the coordinator.
func (h *WSHandler) dispatch(conn *wsConn, identity auth.Identity, msg inboundMessage) {
	reg := h.coord.Registry()
	var err error

	switch msg.Type {
	case "create-lobby":
		var p createLobbyPayload
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.CreateLobby(domain.Player{
				ID:          identity.PlayerID,
				DisplayName: identity.DisplayName,
			}, toSettings(p.Settings))
		}
	case "join-lobby":
		var p joinPayload
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.JoinLobby(p.LobbyID, domain.Player{
				ID:          identity.PlayerID,
				DisplayName: identity.DisplayName,
			})
		}
	case "leave-lobby":
		var p lobbyRef
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.LeaveLobby(p.LobbyID, identity.PlayerID)
		}
	case "set-ready":
		var p readyPayload
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.SetReady(p.LobbyID, identity.PlayerID, p.Ready)
		}
	case "update-settings":
		var p updateSettingsPayload
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.UpdateSettings(p.LobbyID, identity.PlayerID, toPatch(p.Settings))
		}
	case "transfer-host":
		var p transferHostPayload
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.TransferHost(p.LobbyID, identity.PlayerID, p.NewHostID)
		}
	case "close-lobby":
		var p lobbyRef
		if err = decode(msg.Payload, &p); err == nil {
			_, err = reg.CloseLobby(p.LobbyID, identity.PlayerID)
		}
	case "start-game":
		var p startGamePayload
		if err = decode(msg.Payload, &p); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = h.coord.StartGame(ctx, p.LobbyID, identity.PlayerID, p.Force)
			cancel()
		}
	case "submit-answer":
		var p submitAnswerPayload
		if err = decode(msg.Payload, &p); err == nil {
			var outcome any
			outcome, err = h.coord.SubmitAnswer(p.LobbyID, identity.PlayerID, p.QuestionID,
				p.SelectedIndex, time.Duration(p.ResponseTimeMs)*time.Millisecond)
			if err == nil {
				_ = conn.Send("submit-result", outcome)
			}
		}
	case "pause-game":
		var p lobbyRef
		if err = decode(msg.Payload, &p); err == nil {
			err = h.coord.PauseGame(p.LobbyID, identity.PlayerID)
		}
	case "resume-game":
		var p lobbyRef
		if err = decode(msg.Payload, &p); err == nil {
			err = h.coord.ResumeGame(p.LobbyID, identity.PlayerID)
		}
	case "state-sync":
		_ = conn.Send("state", h.coord.StateSync(identity.PlayerID))
	case "game-result":
		var p gameResultPayload
		if err = decode(msg.Payload, &p); err == nil {
			var result domain.GameResult
			result, err = h.coord.GameResult(p.GameID)
			if err == nil {
				_ = conn.Send("game-result", result)
			}
		}
	default:
		_ = conn.Send("error", errorPayload{Code: "UNSUPPORTED", Message: "unsupported message type"})
		return
	}

	if err != nil {
		_ = conn.Send("error", toErrorPayload(err))
	}
}

// decode tolerates an omitted payload for commands that need no fields.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func toErrorPayload(err error) errorPayload {
	var coded *domain.Error
	if errors.As(err, &coded) {
		return errorPayload{Code: coded.Code, Message: coded.Message}
	}
	return errorPayload{Code: "INTERNAL", Message: err.Error()}
}

func toSettings(p settingsPayload) domain.Settings {
	var s domain.Settings
	applyWire(&s, p)
	return s
}

func toPatch(p settingsPayload) domain.SettingsPatch {
	var patch domain.SettingsPatch
	patch.Category = p.Category
	patch.Difficulty = p.Difficulty
	patch.QuestionCount = p.QuestionCount
	patch.MaxPlayers = p.MaxPlayers
	if p.TimePerQuestionSeconds != nil {
		d := time.Duration(*p.TimePerQuestionSeconds) * time.Second
		patch.TimePerQuestion = &d
	}
	if p.Scoring != nil {
		rules := toRules(*p.Scoring)
		patch.Scoring = &rules
	}
	return patch
}

func applyWire(s *domain.Settings, p settingsPayload) {
	if p.Category != nil {
		s.Category = *p.Category
	}
	if p.Difficulty != nil {
		s.Difficulty = *p.Difficulty
	}
	if p.QuestionCount != nil {
		s.QuestionCount = *p.QuestionCount
	}
	if p.MaxPlayers != nil {
		s.MaxPlayers = *p.MaxPlayers
	}
	if p.TimePerQuestionSeconds != nil {
		s.TimePerQuestion = time.Duration(*p.TimePerQuestionSeconds) * time.Second
	}
	if p.Scoring != nil {
		s.Scoring = toRules(*p.Scoring)
	}
}

func toRules(p scoringPayload) domain.ScoringRules {
	return domain.ScoringRules{
		BasePoints:          p.BasePoints,
		MaxSpeedBonus:       p.MaxSpeedBonus,
		StreakEnabled:       p.StreakEnabled,
		StreakFactor:        p.StreakFactor,
		MaxStreakMultiplier: p.MaxStreakMultiplier,
	}
}
