package rewards

import "errors"

var (
	ErrCycleNotClosed = errors.New("rewards: cycle not closed")
	ErrAlreadyClaimed = errors.New("rewards: already claimed")
	ErrCycleClosed    = errors.New("rewards: stake change must target the open cycle")
	ErrUnauthorized   = errors.New("rewards: caller not authorised")

	errNilState      = errors.New("rewards: state not configured")
	errInvalidAmount = errors.New("rewards: amount must not be negative")
)
