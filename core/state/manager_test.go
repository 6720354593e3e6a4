package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/storage"
	"bdnprotocol/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewManager(tr)
}

type kvRecord struct {
	Name  string
	Value *big.Int
}

func TestManagerTokenRegistry(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterToken("mim", "Magic Internet Money", 18))
	require.NoError(t, m.RegisterToken("BDN", "Bond Token", 18))
	require.Error(t, m.RegisterToken("MIM", "dup", 18))

	list, err := m.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"BDN", "MIM"}, list)
	require.True(t, m.TokenExists(" mim"))
	require.False(t, m.TokenExists("USDC"))
}

func TestManagerBalancesRejectUnknownAndNegative(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterToken("MIM", "Magic Internet Money", 18))
	addr := make([]byte, 20)
	addr[0] = 1

	require.Error(t, m.SetBalance(addr, "USDC", big.NewInt(1)))
	require.Error(t, m.SetBalance(addr, "MIM", big.NewInt(-1)))

	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	require.Error(t, m.SetBalance(addr, "MIM", overflow))

	require.NoError(t, m.SetBalance(addr, "MIM", big.NewInt(42)))
	bal, err := m.Balance(addr, "mim")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())

	require.NoError(t, m.SetBalance(addr, "MIM", big.NewInt(0)))
	bal, err = m.Balance(addr, "MIM")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestManagerKVAndRevert(t *testing.T) {
	m := newTestManager(t)
	key := []byte("bond/terms")
	require.NoError(t, m.KVPut(key, kvRecord{Name: "terms", Value: big.NewInt(7)}))

	snap := m.Snapshot()
	require.NoError(t, m.KVDelete(key))
	ok, err := m.KVGet(key, nil)
	require.NoError(t, err)
	require.False(t, ok)

	m.Revert(snap)
	var out kvRecord
	ok, err = m.KVGet(key, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "terms", out.Name)
	require.Equal(t, int64(7), out.Value.Int64())
}
