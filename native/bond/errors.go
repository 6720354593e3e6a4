package bond

import "errors"

var (
	ErrSlippageExceeded   = errors.New("bond: price exceeds max price")
	ErrMaxDebtExceeded    = errors.New("bond: max debt exceeded")
	ErrPayoutOutOfRange   = errors.New("bond: payout out of range")
	ErrTermsInitialized   = errors.New("bond: terms already initialised")
	ErrTermsNotSet        = errors.New("bond: terms not initialised")
	ErrAdjustmentTooLarge = errors.New("bond: adjustment rate too large")
	ErrInvalidTerms       = errors.New("bond: invalid terms")
	ErrNoBond             = errors.New("bond: no bond for recipient")
	ErrUnauthorized       = errors.New("bond: caller is not the owner")
	ErrInsufficientFunds  = errors.New("bond: insufficient reserve balance")

	errNilState      = errors.New("bond: state not configured")
	errInvalidAmount = errors.New("bond: amount must be positive")
	errNoStaker      = errors.New("bond: staking ledger not configured")
	errNoTAV         = errors.New("bond: TAV calculator not configured")
)
