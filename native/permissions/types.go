package permissions

import (
	"fmt"
	"strconv"
	"strings"
)

// Category identifies a treasury capability gated by the registry. The numeric
// codes are stable and match the deployment scripts that queue them.
type Category uint8

const (
	// ReserveDepositor may deposit reserves into the treasury and mint against them.
	ReserveDepositor Category = 0
	// ReserveToken marks an asset as an accepted reserve. Toggling records the
	// bound value calculator for the asset.
	ReserveToken Category = 1
	// RewardManager may mint protocol tokens out of excess reserves.
	RewardManager Category = 2
	// ReserveSpender may withdraw reserves and move excess reserves out of custody.
	ReserveSpender Category = 3
)

var categoryNames = map[Category]string{
	ReserveDepositor: "RESERVE_DEPOSITOR",
	ReserveToken:     "RESERVE_TOKEN",
	RewardManager:    "REWARD_MANAGER",
	ReserveSpender:   "RESERVE_SPENDER",
}

// String returns the canonical upper-case name of the category.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CATEGORY_%d", uint8(c))
}

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// BindsCalculator reports whether toggling the category records a value
// calculator.
func (c Category) BindsCalculator() bool {
	return c == ReserveToken
}

// ParseCategory accepts either the numeric code or the canonical name.
func ParseCategory(raw string) (Category, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return 0, fmt.Errorf("permissions: category required")
	}
	if n, err := strconv.ParseUint(trimmed, 10, 8); err == nil {
		c := Category(n)
		if !c.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidCategory, n)
		}
		return c, nil
	}
	for c, name := range categoryNames {
		if name == trimmed {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Status is the position of an entry in the queue/toggle state machine.
//
//	Unqueued --queue--> Queued --toggle--> Active --queue--> Revoking --toggle--> Unqueued
//
// Queueing again from Queued or Revoking restarts the timelock.
type Status uint8

const (
	StatusUnqueued Status = iota
	StatusQueued
	StatusActive
	StatusRevoking
)

func (s Status) String() string {
	switch s {
	case StatusUnqueued:
		return "unqueued"
	case StatusQueued:
		return "queued"
	case StatusActive:
		return "active"
	case StatusRevoking:
		return "revoking"
	default:
		return "unknown"
	}
}

// Entry is the persisted permission record for a (category, address) pair.
type Entry struct {
	Category        Category
	Address         [20]byte
	Status          Status
	QueuedAt        uint64
	BoundCalculator [20]byte
}

// Active reports whether the entry currently grants the capability.
func (e *Entry) Active() bool {
	if e == nil {
		return false
	}
	return e.Status == StatusActive || e.Status == StatusRevoking
}

// Pending reports whether a queued request is waiting for its toggle.
func (e *Entry) Pending() bool {
	if e == nil {
		return false
	}
	return e.Status == StatusQueued || e.Status == StatusRevoking
}

// ReadyAt returns the first block at which the pending request may be toggled.
func (e *Entry) ReadyAt(timelock uint64) uint64 {
	if e == nil {
		return 0
	}
	return e.QueuedAt + timelock
}
