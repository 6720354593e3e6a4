package rewards

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"bdnprotocol/core/events"
)

type memoryState struct {
	kv map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{kv: make(map[string][]byte)}
}

func (m *memoryState) KVGet(key []byte, out interface{}) (bool, error) {
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

func (m *memoryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

type memoryLedger struct {
	balances map[string]map[[20]byte]*big.Int
}

func (l *memoryLedger) balance(asset string, addr [20]byte) *big.Int {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[[20]byte]*big.Int)
	}
	if l.balances[asset][addr] == nil {
		l.balances[asset][addr] = big.NewInt(0)
	}
	return l.balances[asset][addr]
}

func (l *memoryLedger) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	src := l.balance(asset, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s", asset)
	}
	src.Sub(src, amount)
	dst := l.balance(asset, to)
	dst.Add(dst, amount)
	return nil
}

// treasuryStub pays reward pools out of a fixed reserve.
type treasuryStub struct {
	ledger  *memoryLedger
	custody [20]byte
	calls   int
}

func (t *treasuryStub) Manage(caller [20]byte, amount *big.Int, asset string, recipient [20]byte) error {
	t.calls++
	return t.ledger.Transfer(asset, t.custody, recipient, amount)
}

var (
	owner   = testAddress(0x01)
	staking = testAddress(0x5A)
	pool    = testAddress(0xD1)
	custody = testAddress(0x7E)
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type fixture struct {
	dist   *Distributor
	ledger *memoryLedger
	stub   *treasuryStub
	events *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := &memoryLedger{balances: map[string]map[[20]byte]*big.Int{}}
	ledger.balance("MIM", custody).SetInt64(1_000_000_000)
	stub := &treasuryStub{ledger: ledger, custody: custody}
	buf := &events.Buffer{}
	dist := NewDistributor(owner, pool, staking, "mim")
	dist.SetState(newMemoryState())
	dist.SetLedger(ledger)
	dist.SetFunding(stub)
	dist.SetEmitter(buf)
	return &fixture{dist: dist, ledger: ledger, stub: stub, events: buf}
}

func (f *fixture) record(t *testing.T, user [20]byte, balance int64) {
	t.Helper()
	cycle, err := f.dist.CurrentRewardCycle()
	require.NoError(t, err)
	require.NoError(t, f.dist.RecordStakeChange(staking, user, big.NewInt(balance), cycle))
}

func (f *fixture) complete(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.dist.CompleteRewardCycle(owner, big.NewInt(amount))
	require.NoError(t, err)
}

func TestCarryForwardAcrossInactiveCycles(t *testing.T) {
	f := newFixture(t)
	user := testAddress(0xA1)

	cycle, err := f.dist.CurrentRewardCycle()
	require.NoError(t, err)
	require.Equal(t, FirstCycle, cycle)

	f.record(t, user, 400_000)
	for i := 0; i < 4; i++ {
		f.complete(t, 0)
	}

	got, err := f.dist.GetTotalStakedBdnOfUserForACycle(user, 5)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400_000), got)

	got, err = f.dist.GetTotalStakedBdnOfUserForACycle(user, 0)
	require.NoError(t, err)
	require.Zero(t, got.Sign())

	total, err := f.dist.GetTotalStakedBdnForACycle(5)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400_000), total)
}

func TestCarryForwardSearchesSparseHistory(t *testing.T) {
	f := newFixture(t)
	user := testAddress(0xA2)

	history := map[uint64]int64{1: 100, 3: 300, 6: 50}
	for cycle := uint64(1); cycle <= 7; cycle++ {
		if balance, ok := history[cycle]; ok {
			f.record(t, user, balance)
		}
		f.complete(t, 0)
	}

	want := map[uint64]int64{1: 100, 2: 100, 3: 300, 4: 300, 5: 300, 6: 50, 7: 50, 12: 50}
	for cycle, balance := range want {
		got, err := f.dist.GetTotalStakedBdnOfUserForACycle(user, cycle)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(balance), got, "cycle %d", cycle)
	}
}

func TestRewardPoolConservation(t *testing.T) {
	f := newFixture(t)
	users := map[[20]byte]int64{
		testAddress(0xA1): 1,
		testAddress(0xA2): 2,
		testAddress(0xA3): 4,
	}
	for user, balance := range users {
		f.record(t, user, balance)
	}
	f.complete(t, 1_000)
	require.Equal(t, 1, f.stub.calls)
	require.Equal(t, big.NewInt(1_000), f.ledger.balance("MIM", pool))

	sum := big.NewInt(0)
	for user := range users {
		pending, err := f.dist.PendingRewardsForACycle(user, 1)
		require.NoError(t, err)
		amount, err := f.dist.RewardsForACycle(user, 1)
		require.NoError(t, err)
		require.Equal(t, pending, amount)
		sum.Add(sum, amount)

		_, err = f.dist.RewardsForACycle(user, 1)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
	}
	require.LessOrEqual(t, sum.Int64(), int64(1_000))
	require.Less(t, int64(1_000)-sum.Int64(), int64(len(users)))

	cycle, err := f.dist.Cycle(1)
	require.NoError(t, err)
	require.Equal(t, sum, cycle.Claimed)
	require.True(t, cycle.Closed)
}

func TestClaimRequiresClosedCycle(t *testing.T) {
	f := newFixture(t)
	user := testAddress(0xA1)
	f.record(t, user, 10)

	_, err := f.dist.RewardsForACycle(user, 1)
	require.ErrorIs(t, err, ErrCycleNotClosed)
	_, err = f.dist.RewardsForACycle(user, 9)
	require.ErrorIs(t, err, ErrCycleNotClosed)
}

func TestMidCycleStakeCountsFromItsCycle(t *testing.T) {
	f := newFixture(t)
	early, late := testAddress(0xA1), testAddress(0xA2)

	f.record(t, early, 100)
	f.complete(t, 100)
	f.record(t, late, 100)
	f.complete(t, 200)

	total, err := f.dist.GetTotalStakedBdnForACycle(1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), total)
	total, err = f.dist.GetTotalStakedBdnForACycle(2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), total)

	amount, err := f.dist.RewardsForACycle(late, 1)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())
	amount, err = f.dist.RewardsForACycle(early, 1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), amount)
	amount, err = f.dist.RewardsForACycle(late, 2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), amount)
}

func TestUnstakeLowersRunningTotal(t *testing.T) {
	f := newFixture(t)
	user := testAddress(0xA1)
	f.record(t, user, 500)
	f.complete(t, 0)
	f.record(t, user, 200)

	total, err := f.dist.GetTotalStakedBdnForACycle(2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), total)
	total, err = f.dist.GetTotalStakedBdnForACycle(1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), total)
}

func TestRecordStakeChangeGuards(t *testing.T) {
	f := newFixture(t)
	user := testAddress(0xA1)

	err := f.dist.RecordStakeChange(user, user, big.NewInt(1), 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	err = f.dist.RecordStakeChange(staking, user, big.NewInt(1), 2)
	require.ErrorIs(t, err, ErrCycleClosed)

	_, err = f.dist.CompleteRewardCycle(user, big.NewInt(0))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, f.events.Drain())
}
