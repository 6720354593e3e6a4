package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/storage"
)

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func newTestLedger(t *testing.T) (*Ledger, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := Open(db)
	require.NoError(t, err)
	require.NoError(t, l.RegisterToken("MIM", "Magic Internet Money", 18))
	require.NoError(t, l.RegisterToken("BDN", "Bond Token", 18))
	return l, db
}

func TestMintTransferBurnTrackSupply(t *testing.T) {
	l, _ := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)

	require.NoError(t, l.Mint("BDN", alice, big.NewInt(1_000)))
	require.NoError(t, l.Transfer("BDN", alice, bob, big.NewInt(400)))
	require.NoError(t, l.Burn("BDN", bob, big.NewInt(100)))

	aliceBal, err := l.BalanceOf("BDN", alice)
	require.NoError(t, err)
	bobBal, err := l.BalanceOf("BDN", bob)
	require.NoError(t, err)
	supply, err := l.TotalSupply("BDN")
	require.NoError(t, err)

	require.Equal(t, int64(600), aliceBal.Int64())
	require.Equal(t, int64(300), bobBal.Int64())
	require.Equal(t, int64(900), supply.Int64())
}

func TestTransferRejectsOverdraft(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.Transfer("MIM", addr(0x01), addr(0x02), big.NewInt(1))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.Error(t, l.Mint("MIM", addr(0x01), big.NewInt(0)))
}

func TestAtomicRevertsOnError(t *testing.T) {
	l, _ := newTestLedger(t)
	alice := addr(0x01)
	require.NoError(t, l.Mint("MIM", alice, big.NewInt(10)))

	boom := errors.New("boom")
	err := l.Atomic(func() error {
		if err := l.Mint("MIM", alice, big.NewInt(5)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := l.BalanceOf("MIM", alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())
	supply, err := l.TotalSupply("MIM")
	require.NoError(t, err)
	require.Equal(t, int64(10), supply.Int64())
}

func TestAdvanceBlockPersistsHead(t *testing.T) {
	l, db := newTestLedger(t)
	require.NoError(t, l.Mint("BDN", addr(0x03), big.NewInt(77)))
	root, err := l.AdvanceBlocks(3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), l.CurrentBlock())

	reopened, err := Open(db)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.CurrentBlock())
	require.Equal(t, root, reopened.Root())

	bal, err := reopened.BalanceOf("BDN", addr(0x03))
	require.NoError(t, err)
	require.Equal(t, int64(77), bal.Int64())
}
