package domain

// Error is a core-raised failure with a stable machine-readable code.
// Callers match with errors.Is against the sentinel values below.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Validation errors.
var (
	// ErrInvalidInput indicates a malformed or out-of-contract input value,
	// such as a negative response time reaching the scoring engine.
	ErrInvalidInput = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
)

// Lobby errors.
var (
	ErrLobbyNotFound  = &Error{Code: "LOBBY_NOT_FOUND", Message: "lobby not found"}
	ErrLobbyFull      = &Error{Code: "LOBBY_FULL", Message: "lobby is at capacity"}
	ErrLobbyClosed    = &Error{Code: "LOBBY_CLOSED", Message: "lobby is not accepting players"}
	ErrAlreadyInLobby = &Error{Code: "ALREADY_IN_LOBBY", Message: "player already in lobby"}
	ErrNotInLobby     = &Error{Code: "NOT_IN_LOBBY", Message: "player is not a lobby member"}
	ErrNotHost        = &Error{Code: "NOT_HOST", Message: "only the host may do that"}
	ErrSelfTransfer   = &Error{Code: "SELF_TRANSFER", Message: "host cannot transfer to themselves"}
	ErrGameInProgress = &Error{Code: "GAME_IN_PROGRESS", Message: "a game is already in progress"}
)

// Game errors.
var (
	ErrGameNotFound     = &Error{Code: "GAME_NOT_FOUND", Message: "game session not found"}
	ErrGameNotStarted   = &Error{Code: "GAME_NOT_STARTED", Message: "game has not started"}
	ErrGameNotActive    = &Error{Code: "GAME_NOT_ACTIVE", Message: "game is not accepting answers"}
	ErrInvalidAnswer    = &Error{Code: "INVALID_ANSWER", Message: "answer does not match the current question"}
	ErrAlreadyAnswered  = &Error{Code: "ALREADY_ANSWERED", Message: "answer already recorded for this question"}
	ErrNotEnoughPlayers = &Error{Code: "NOT_ENOUGH_PLAYERS", Message: "not enough players to start"}
	ErrNotAllReady      = &Error{Code: "NOT_ALL_READY", Message: "not all players are ready"}
)

// Question content errors.
var (
	ErrNoQuestions = &Error{Code: "NO_QUESTIONS", Message: "no questions available for the requested category"}
)
