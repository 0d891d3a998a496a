package bingo

import "errors"

// Kind classifies engine failures so transports can map them without
// knowing every individual error.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindPhase
	KindValidation
	KindInsufficientEvidence
	KindNoWin
	KindNotFound
	KindSettlement
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindPhase:
		return "phase"
	case KindValidation:
		return "validation"
	case KindInsufficientEvidence:
		return "insufficient_evidence"
	case KindNoWin:
		return "no_win"
	case KindNotFound:
		return "not_found"
	case KindSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// Error is a rejected engine operation. No state was changed when one is
// returned, except for ErrSettlementPending.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrNotOperator = &Error{Kind: KindAuthorization, Code: "not_operator", msg: "caller is not the game operator"}
	ErrNotAPlayer  = &Error{Kind: KindAuthorization, Code: "not_a_player", msg: "caller has not joined the game"}
	ErrNoIdentity  = &Error{Kind: KindAuthorization, Code: "no_identity", msg: "caller identity is required"}

	ErrJoinWindowClosed    = &Error{Kind: KindPhase, Code: "join_window_closed", msg: "player joining has ended"}
	ErrJoinWindowStillOpen = &Error{Kind: KindPhase, Code: "join_window_still_open", msg: "can't draw a number before the join window ends"}
	ErrGameEnded           = &Error{Kind: KindPhase, Code: "game_ended", msg: "game has ended"}
	ErrDrawCooldownActive  = &Error{Kind: KindPhase, Code: "draw_cooldown_active", msg: "can't draw a number before the draw cooldown ends"}
	ErrConfigLocked        = &Error{Kind: KindPhase, Code: "config_locked", msg: "can't change configuration outside of the join window"}
	ErrDrawPoolExhausted   = &Error{Kind: KindPhase, Code: "draw_pool_exhausted", msg: "every number has already been drawn"}

	ErrAlreadyJoined = &Error{Kind: KindValidation, Code: "already_joined", msg: "player already joined"}
	ErrIncorrectFee  = &Error{Kind: KindValidation, Code: "incorrect_fee", msg: "incorrect entry fee"}
	ErrInvalidConfig = &Error{Kind: KindValidation, Code: "invalid_config", msg: "invalid game configuration"}

	ErrTooFewDraws   = &Error{Kind: KindInsufficientEvidence, Code: "too_few_draws", msg: "at least 4 numbers must be drawn before a board can be checked"}
	ErrNoWinningLine = &Error{Kind: KindNoWin, Code: "no_winning_line", msg: "board has no winning line"}

	ErrGameNotFound = &Error{Kind: KindNotFound, Code: "game_not_found", msg: "game not found"}

	ErrSettlementPending = &Error{Kind: KindSettlement, Code: "settlement_pending", msg: "win recorded but payout not yet settled"}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
