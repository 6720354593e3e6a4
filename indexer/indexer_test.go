package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"bdnprotocol/core/types"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	ix, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func bondCreated(payout string) *types.Event {
	return &types.Event{Type: "bond.created", Attributes: map[string]string{"payout": payout}}
}

func TestAppendChainsDigests(t *testing.T) {
	ix := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Append(ctx, 1, "bond.deposit", []*types.Event{
		bondCreated("980000000"),
		{Type: "bond.priceChanged", Attributes: map[string]string{"price": "1000000000"}},
	}))
	require.NoError(t, ix.Append(ctx, 2, "bond.deposit", []*types.Event{bondCreated("5")}))
	require.NoError(t, ix.Append(ctx, 2, "ledger.mint", nil))

	records, err := ix.Events(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "", records[0].PrevDigest)
	require.Equal(t, records[0].Digest, records[1].PrevDigest)
	require.Equal(t, records[1].Digest, records[2].PrevDigest)
	require.Equal(t, uint64(3), records[2].Seq)

	head, seq, err := ix.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, records[2].Digest, head)
	require.Equal(t, uint64(3), seq)

	checked, err := ix.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), checked)
}

func TestEventsFilter(t *testing.T) {
	ix := setupIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Append(ctx, 1, "bond.deposit", []*types.Event{bondCreated("1")}))
	require.NoError(t, ix.Append(ctx, 4, "rewards.claim", []*types.Event{{Type: "rewards.claimed"}}))
	require.NoError(t, ix.Append(ctx, 4, "bond.deposit", []*types.Event{bondCreated("2")}))

	byType, err := ix.Events(ctx, Filter{Type: "bond.created"})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	height := uint64(4)
	atHeight, err := ix.Events(ctx, Filter{Height: &height, Op: "bond.deposit"})
	require.NoError(t, err)
	require.Len(t, atHeight, 1)
	require.JSONEq(t, `{"payout":"2"}`, atHeight[0].Attributes)

	page, err := ix.Events(ctx, Filter{AfterSeq: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Seq)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ix := setupIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Append(ctx, 1, "bond.deposit", []*types.Event{bondCreated("980000000"), bondCreated("7")}))

	require.NoError(t, ix.db.Model(&EventRecord{}).Where("seq = ?", 1).Update("attributes", `{"payout":"999"}`).Error)
	_, err := ix.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrDSNRequired)
}
