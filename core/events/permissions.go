package events

import "bdnprotocol/core/types"

const (
	// TypePermissionQueued is emitted when a permission request starts its timelock.
	TypePermissionQueued = "permission.queued"
	// TypePermissionToggled is emitted when a queued permission is switched on or off.
	TypePermissionToggled = "permission.toggled"
)

// PermissionQueued captures a queue (or re-queue) of a permission request.
type PermissionQueued struct {
	Category string
	Address  [20]byte
	QueuedAt uint64
	ReadyAt  uint64
}

// EventType satisfies the Event interface.
func (PermissionQueued) EventType() string { return TypePermissionQueued }

// Event converts the structured payload into a broadcastable event.
func (e PermissionQueued) Event() *types.Event {
	return &types.Event{Type: TypePermissionQueued, Attributes: map[string]string{
		"category": e.Category,
		"addr":     formatAddress(e.Address),
		"queuedAt": formatUint(e.QueuedAt),
		"readyAt":  formatUint(e.ReadyAt),
	}}
}

// PermissionToggled captures an activation or revocation.
type PermissionToggled struct {
	Category   string
	Address    [20]byte
	Active     bool
	Calculator [20]byte
}

// EventType satisfies the Event interface.
func (PermissionToggled) EventType() string { return TypePermissionToggled }

// Event converts the structured payload into a broadcastable event.
func (e PermissionToggled) Event() *types.Event {
	attrs := map[string]string{
		"category": e.Category,
		"addr":     formatAddress(e.Address),
		"active":   "false",
	}
	if e.Active {
		attrs["active"] = "true"
	}
	if !zeroAddress(e.Calculator) {
		attrs["calculator"] = formatAddress(e.Calculator)
	}
	return &types.Event{Type: TypePermissionToggled, Attributes: attrs}
}
