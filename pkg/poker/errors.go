package poker

import "fmt"

// ErrorCode is a stable machine-readable rejection code. Codes cross the
// wire unchanged, so they must never be renamed.
type ErrorCode string

const (
	CodeNotYourTurn           ErrorCode = "not_your_turn"
	CodeInvalidBetAmount      ErrorCode = "invalid_bet_amount"
	CodeInsufficientChips     ErrorCode = "insufficient_chips"
	CodeInvalidPhase          ErrorCode = "invalid_phase"
	CodeSeatTaken             ErrorCode = "seat_taken"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeSlowConsumer          ErrorCode = "slow_consumer"
	CodeTournamentFull        ErrorCode = "tournament_full"
	CodeDuplicateRegistration ErrorCode = "duplicate_registration"
	CodeRegistrationClosed    ErrorCode = "registration_closed"
	CodeInsufficientPlayers   ErrorCode = "insufficient_players"
	CodeHandStartFailed       ErrorCode = "hand_start_failed"
	CodeSessionExpired        ErrorCode = "session_expired"
	CodeUnknownType           ErrorCode = "unknown_type"
	CodePlayerNotFound        ErrorCode = "player_not_found"
	CodeTableClosed           ErrorCode = "table_closed"
)

// GameError is a typed rejection. Validation failures never mutate state;
// they are replied to the commanding session as an error event carrying
// the code and details.
type GameError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
}

func (e *GameError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewGameError creates a rejection with the given code and message.
func NewGameError(code ErrorCode, format string, args ...interface{}) *GameError {
	return &GameError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a structured detail to the error and returns it.
func (e *GameError) WithDetail(key string, value interface{}) *GameError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsCode reports whether err is a GameError carrying code.
func IsCode(err error, code ErrorCode) bool {
	ge, ok := err.(*GameError)
	return ok && ge.Code == code
}
