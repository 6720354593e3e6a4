package permissions

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"bdnprotocol/core/events"
)

type memoryRegistryState struct {
	kv map[string][]byte
}

func newMemoryRegistryState() *memoryRegistryState {
	return &memoryRegistryState{kv: make(map[string][]byte)}
}

func (m *memoryRegistryState) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryRegistryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *memoryRegistryState) KVDelete(key []byte) error {
	delete(m.kv, string(key))
	return nil
}

type manualClock struct{ height uint64 }

func (c *manualClock) CurrentBlock() uint64 { return c.height }

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestRegistry(timelock uint64) (*Registry, *manualClock, *events.Buffer) {
	clock := &manualClock{height: 1}
	buf := &events.Buffer{}
	registry := NewRegistry(testAddress(0x01), timelock)
	registry.SetState(newMemoryRegistryState())
	registry.SetClock(clock)
	registry.SetEmitter(buf)
	return registry, clock, buf
}

func TestToggleBeforeTimelockFails(t *testing.T) {
	registry, clock, _ := newTestRegistry(10)
	owner, bond := testAddress(0x01), testAddress(0xB0)

	if _, err := registry.Queue(owner, ReserveDepositor, bond); err != nil {
		t.Fatalf("queue: %v", err)
	}
	for _, height := range []uint64{1, 5, 10} {
		clock.height = height
		if _, err := registry.Toggle(owner, ReserveDepositor, bond, [20]byte{}); !errors.Is(err, ErrNotReady) {
			t.Fatalf("height %d: expected ErrNotReady, got %v", height, err)
		}
	}
	if registry.IsActive(ReserveDepositor, bond) {
		t.Fatalf("permission must stay inactive before the timelock")
	}

	clock.height = 11
	entry, err := registry.Toggle(owner, ReserveDepositor, bond, [20]byte{})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if entry.Status != StatusActive || !registry.IsActive(ReserveDepositor, bond) {
		t.Fatalf("expected active entry, got %s", entry.Status)
	}

	if _, err := registry.Toggle(owner, ReserveDepositor, bond, [20]byte{}); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("second toggle without a new queue must fail, got %v", err)
	}
}

func TestRequeueResetsTimer(t *testing.T) {
	registry, clock, _ := newTestRegistry(10)
	owner, spender := testAddress(0x01), testAddress(0x5E)

	if _, err := registry.Queue(owner, ReserveSpender, spender); err != nil {
		t.Fatalf("queue: %v", err)
	}
	clock.height = 9
	if _, err := registry.Queue(owner, ReserveSpender, spender); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	clock.height = 12
	if _, err := registry.Toggle(owner, ReserveSpender, spender, [20]byte{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("requeue must restart the timelock, got %v", err)
	}
	clock.height = 19
	if _, err := registry.Toggle(owner, ReserveSpender, spender, [20]byte{}); err != nil {
		t.Fatalf("toggle after restarted timelock: %v", err)
	}
}

func TestToggleSwitchesOff(t *testing.T) {
	registry, clock, buf := newTestRegistry(0)
	owner, manager := testAddress(0x01), testAddress(0x3A)

	if _, err := registry.Queue(owner, RewardManager, manager); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := registry.Toggle(owner, RewardManager, manager, [20]byte{}); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	clock.height = 2
	entry, err := registry.Queue(owner, RewardManager, manager)
	if err != nil {
		t.Fatalf("queue revoke: %v", err)
	}
	if entry.Status != StatusRevoking || !entry.Active() {
		t.Fatalf("queued revocation must keep the capability active, got %s", entry.Status)
	}
	if _, err := registry.Toggle(owner, RewardManager, manager, [20]byte{}); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if registry.IsActive(RewardManager, manager) {
		t.Fatalf("expected capability revoked")
	}
	if got := len(buf.Drain()); got != 4 {
		t.Fatalf("expected 4 events, got %d", got)
	}
}

func TestReserveTokenBindsCalculator(t *testing.T) {
	registry, _, _ := newTestRegistry(0)
	owner, asset, calc := testAddress(0x01), testAddress(0xAA), testAddress(0xCC)

	if _, err := registry.Queue(owner, ReserveToken, asset); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := registry.Toggle(owner, ReserveToken, asset, calc); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	bound, ok := registry.BoundCalculator(asset)
	if !ok || bound != calc {
		t.Fatalf("expected calculator %x, got %x (ok=%v)", calc, bound, ok)
	}
}

func TestOnlyOwnerMayQueue(t *testing.T) {
	registry, _, _ := newTestRegistry(0)
	if _, err := registry.Queue(testAddress(0x02), ReserveDepositor, testAddress(0xB0)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := registry.Require(ReserveDepositor, testAddress(0xB0)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected Require to deny, got %v", err)
	}
}

func TestBootstrapOnlyAtGenesis(t *testing.T) {
	registry, clock, _ := newTestRegistry(100)
	clock.height = 0
	if err := registry.Bootstrap(ReserveToken, testAddress(0xAA), [20]byte{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !registry.IsActive(ReserveToken, testAddress(0xAA)) {
		t.Fatalf("expected bootstrapped token to be active")
	}
	clock.height = 1
	if err := registry.Bootstrap(ReserveDepositor, testAddress(0xB0), [20]byte{}); !errors.Is(err, ErrGenesisOnly) {
		t.Fatalf("expected ErrGenesisOnly, got %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"0":                 ReserveDepositor,
		"3":                 ReserveSpender,
		"reward_manager":    RewardManager,
		" RESERVE_TOKEN ":   ReserveToken,
		"RESERVE_DEPOSITOR": ReserveDepositor,
	}
	for raw, want := range cases {
		got, err := ParseCategory(raw)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", raw, got, err)
		}
	}
	if _, err := ParseCategory("9"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}
