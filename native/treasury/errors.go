package treasury

import "errors"

var (
	ErrExceedsBacking       = errors.New("treasury: mint exceeds backing")
	ErrInsufficientReserves = errors.New("treasury: insufficient reserves")
	ErrInsufficientBalance  = errors.New("treasury: insufficient balance")
	ErrUnauthorized         = errors.New("treasury: caller is not the owner")
	ErrNoCalculator         = errors.New("treasury: value calculator not configured")

	errNilState      = errors.New("treasury: state not configured")
	errInvalidAmount = errors.New("treasury: amount must be positive")
	errNegativeMint  = errors.New("treasury: mint amount must not be negative")
)
