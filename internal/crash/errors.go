package crash

import "errors"

type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindConflict
	KindNotFound
	KindInternal
)

// Error is a domain failure with a stable code that clients can switch on.
type Error struct {
	Code    string
	Message string
	Kind    ErrorKind
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidBet         = &Error{Code: "InvalidBet", Message: "bet amount is out of range", Kind: KindValidation}
	ErrInvalidAutoCashout = &Error{Code: "InvalidAutoCashout", Message: "auto cashout must be greater than 1.00", Kind: KindValidation}
	ErrRoundNotJoinable   = &Error{Code: "RoundNotJoinable", Message: "betting is closed", Kind: KindConflict}
	ErrRoundNotRunning    = &Error{Code: "RoundNotRunning", Message: "round is not running", Kind: KindConflict}
	ErrAlreadyCashedOut   = &Error{Code: "AlreadyCashedOut", Message: "already cashed out", Kind: KindConflict}
	ErrUnknownPlayer      = &Error{Code: "UnknownPlayer", Message: "player is not in the current round", Kind: KindNotFound}
	ErrRoundNotFound      = &Error{Code: "RoundNotFound", Message: "round not found", Kind: KindNotFound}
	ErrInvalidTransition  = &Error{Code: "InvalidTransition", Message: "invalid round state transition", Kind: KindInternal}
)

// AsError unwraps err into a domain error, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
