package staking

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/core/events"
	"bdnprotocol/core/ledger"
	"bdnprotocol/storage"
)

type stakeChange struct {
	caller  [20]byte
	user    [20]byte
	balance *big.Int
	cycle   uint64
}

type recordingObserver struct {
	cycle   uint64
	changes []stakeChange
	fail    error
}

func (o *recordingObserver) CurrentRewardCycle() (uint64, error) { return o.cycle, nil }

func (o *recordingObserver) RecordStakeChange(caller, user [20]byte, newBalance *big.Int, cycle uint64) error {
	if o.fail != nil {
		return o.fail
	}
	o.changes = append(o.changes, stakeChange{caller: caller, user: user, balance: new(big.Int).Set(newBalance), cycle: cycle})
	return nil
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestLedger(t *testing.T) (*Ledger, *ledger.Ledger, *recordingObserver, *events.Buffer) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := ledger.Open(db)
	require.NoError(t, err)
	require.NoError(t, l.RegisterToken("BDN", "Bond Token", 18))

	obs := &recordingObserver{cycle: 3}
	buf := &events.Buffer{}
	staking := NewLedger(testAddress(0x5A), "bdn")
	staking.SetState(l.State())
	staking.SetTokens(l)
	staking.SetObserver(obs)
	staking.SetEmitter(buf)
	return staking, l, obs, buf
}

func TestStakeLocksTokensAndNotifiesObserver(t *testing.T) {
	staking, l, obs, buf := newTestLedger(t)
	funder, user := testAddress(0xB0), testAddress(0x11)
	require.NoError(t, l.Mint("BDN", funder, big.NewInt(1_000)))

	require.NoError(t, staking.Stake(funder, user, big.NewInt(400)))

	staked, err := staking.StakedBalance(user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), staked)
	vault, err := l.BalanceOf("BDN", staking.Vault())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), vault)

	require.Len(t, obs.changes, 1)
	require.Equal(t, staking.Vault(), obs.changes[0].caller)
	require.Equal(t, user, obs.changes[0].user)
	require.Equal(t, uint64(3), obs.changes[0].cycle)
	require.Len(t, buf.Drain(), 1)
}

func TestUnstakeReturnsTokens(t *testing.T) {
	staking, l, obs, _ := newTestLedger(t)
	user := testAddress(0x11)
	require.NoError(t, l.Mint("BDN", user, big.NewInt(1_000)))
	require.NoError(t, staking.Stake(user, user, big.NewInt(600)))

	err := staking.Unstake(user, big.NewInt(601))
	require.ErrorIs(t, err, ErrInsufficientStake)

	require.NoError(t, staking.Unstake(user, big.NewInt(600)))
	liquid, err := l.BalanceOf("BDN", user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), liquid)

	total, err := staking.TotalStaked()
	require.NoError(t, err)
	require.Zero(t, total.Sign())
	require.Len(t, obs.changes, 2)
	require.Zero(t, obs.changes[1].balance.Sign())
}

func TestObserverFailurePropagates(t *testing.T) {
	staking, l, obs, _ := newTestLedger(t)
	user := testAddress(0x11)
	require.NoError(t, l.Mint("BDN", user, big.NewInt(10)))
	obs.fail = errors.New("cycle closed")

	require.Error(t, staking.Stake(user, user, big.NewInt(10)))
}
