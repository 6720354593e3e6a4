package permissions

import (
	"fmt"

	"bdnprotocol/core/events"
	nativecommon "bdnprotocol/native/common"
)

const moduleName = "permissions"

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type blockClock interface {
	CurrentBlock() uint64
}

// Registry persists the two-phase authorisation state for every
// (category, address) pair and answers capability checks for the treasury.
type Registry struct {
	state    registryState
	clock    blockClock
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	owner    [20]byte
	timelock uint64
}

// NewRegistry constructs a registry administered by owner. Requests become
// toggleable timelock blocks after they are queued.
func NewRegistry(owner [20]byte, timelock uint64) *Registry {
	return &Registry{owner: owner, timelock: timelock, emitter: events.NoopEmitter{}}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetClock wires the block counter used for timelocks.
func (r *Registry) SetClock(clock blockClock) { r.clock = clock }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// Owner returns the administrator address.
func (r *Registry) Owner() [20]byte { return r.owner }

// Timelock returns the number of blocks a request must wait before toggling.
func (r *Registry) Timelock() uint64 { return r.timelock }

func entryKey(category Category, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("permissions/entry/%d/%x", uint8(category), addr))
}

func (r *Registry) ready() error {
	if r == nil || r.state == nil || r.clock == nil {
		return errNotInitialised
	}
	return nil
}

func (r *Registry) load(category Category, addr [20]byte) (*Entry, error) {
	var stored Entry
	ok, err := r.state.KVGet(entryKey(category, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Entry{Category: category, Address: addr, Status: StatusUnqueued}, nil
	}
	return &stored, nil
}

func (r *Registry) store(entry *Entry) error {
	if entry.Status == StatusUnqueued && entry.BoundCalculator == ([20]byte{}) {
		return r.state.KVDelete(entryKey(entry.Category, entry.Address))
	}
	return r.state.KVPut(entryKey(entry.Category, entry.Address), entry)
}

func (r *Registry) checkOwner(caller [20]byte) error {
	if caller != r.owner {
		return fmt.Errorf("%w: caller is not the registry owner", ErrPermissionDenied)
	}
	return nil
}

func validateTarget(category Category, addr [20]byte) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidCategory, uint8(category))
	}
	if addr == ([20]byte{}) {
		return ErrZeroAddress
	}
	return nil
}

// Queue starts (or restarts) the timelock for a grant or revocation of the
// capability. It never changes whether the capability is active.
func (r *Registry) Queue(caller [20]byte, category Category, addr [20]byte) (*Entry, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := r.checkOwner(caller); err != nil {
		return nil, err
	}
	if err := validateTarget(category, addr); err != nil {
		return nil, err
	}
	entry, err := r.load(category, addr)
	if err != nil {
		return nil, err
	}
	switch entry.Status {
	case StatusUnqueued, StatusQueued:
		entry.Status = StatusQueued
	case StatusActive, StatusRevoking:
		entry.Status = StatusRevoking
	}
	entry.QueuedAt = r.clock.CurrentBlock()
	if err := r.store(entry); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.PermissionQueued{
		Category: category.String(),
		Address:  addr,
		QueuedAt: entry.QueuedAt,
		ReadyAt:  entry.ReadyAt(r.timelock),
	})
	return entry, nil
}

// Toggle consumes a queued request once its timelock has elapsed, switching
// the capability on (Queued) or off (Revoking). Calculator is recorded for
// categories that bind one; it is ignored otherwise.
func (r *Registry) Toggle(caller [20]byte, category Category, addr [20]byte, calculator [20]byte) (*Entry, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := r.checkOwner(caller); err != nil {
		return nil, err
	}
	if err := validateTarget(category, addr); err != nil {
		return nil, err
	}
	entry, err := r.load(category, addr)
	if err != nil {
		return nil, err
	}
	if !entry.Pending() {
		return nil, fmt.Errorf("%w: %s for %x", ErrNotQueued, category, addr)
	}
	now := r.clock.CurrentBlock()
	if readyAt := entry.ReadyAt(r.timelock); now < readyAt {
		return nil, fmt.Errorf("%w: ready at block %d, current %d", ErrNotReady, readyAt, now)
	}
	if entry.Status == StatusQueued {
		entry.Status = StatusActive
		if category.BindsCalculator() {
			entry.BoundCalculator = calculator
		}
	} else {
		entry.Status = StatusUnqueued
		entry.BoundCalculator = [20]byte{}
	}
	entry.QueuedAt = 0
	if err := r.store(entry); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.PermissionToggled{
		Category:   category.String(),
		Address:    addr,
		Active:     entry.Active(),
		Calculator: entry.BoundCalculator,
	})
	return entry, nil
}

// Bootstrap activates a capability without the queue/toggle round trip. It is
// only accepted before the first block is committed and exists for genesis
// configuration.
func (r *Registry) Bootstrap(category Category, addr [20]byte, calculator [20]byte) error {
	if err := r.ready(); err != nil {
		return err
	}
	if r.clock.CurrentBlock() != 0 {
		return ErrGenesisOnly
	}
	if err := validateTarget(category, addr); err != nil {
		return err
	}
	entry := &Entry{Category: category, Address: addr, Status: StatusActive}
	if category.BindsCalculator() {
		entry.BoundCalculator = calculator
	}
	return r.store(entry)
}

// Entry returns the stored record for (category, addr). Unknown pairs yield an
// Unqueued entry.
func (r *Registry) Entry(category Category, addr [20]byte) (*Entry, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.load(category, addr)
}

// IsActive reports whether addr currently holds the capability. Read failures
// are treated as inactive.
func (r *Registry) IsActive(category Category, addr [20]byte) bool {
	entry, err := r.Entry(category, addr)
	if err != nil {
		return false
	}
	return entry.Active()
}

// Require returns ErrPermissionDenied unless addr holds the capability.
func (r *Registry) Require(category Category, addr [20]byte) error {
	if !r.IsActive(category, addr) {
		return fmt.Errorf("%w: %s not active for %x", ErrPermissionDenied, category, addr)
	}
	return nil
}

// BoundCalculator returns the calculator recorded for an active reserve
// token. A zero address means the treasury default applies.
func (r *Registry) BoundCalculator(asset [20]byte) ([20]byte, bool) {
	entry, err := r.Entry(ReserveToken, asset)
	if err != nil || !entry.Active() {
		return [20]byte{}, false
	}
	return entry.BoundCalculator, true
}
