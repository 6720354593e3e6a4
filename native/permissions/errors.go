package permissions

import "errors"

var (
	ErrPermissionDenied = errors.New("permissions: permission denied")
	ErrNotReady         = errors.New("permissions: timelock not elapsed")
	ErrNotQueued        = errors.New("permissions: no queued request")
	ErrInvalidCategory  = errors.New("permissions: invalid category")
	ErrZeroAddress      = errors.New("permissions: address required")
	ErrGenesisOnly      = errors.New("permissions: bootstrap only allowed at genesis")
	errNotInitialised   = errors.New("permissions: registry not initialised")
)
