package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bdnprotocol/config"
	"bdnprotocol/core"
	"bdnprotocol/crypto"
	"bdnprotocol/storage"
)

const script = `
- op: ledger.mint
  params: {asset: MIM, recipient: "@alice", amount: "2000000000000000000000000"}
- op: treasury.deposit
  caller: "@alice"
  params: {asset: MIM, amount: "1000000000000000000000000", mint: "1000000000000000000000000"}
- op: ledger.advance
- op: bond.deposit
  caller: "@alice"
  params: {amount: "1000000000", maxPrice: "2000000000"}
- op: ledger.advance
  params: {blocks: "10"}
- op: bond.redeem
  caller: "@alice"
`

func newProtocol(t *testing.T) *core.Protocol {
	t.Helper()
	cfg := config.Default()
	cfg.Permissions.Grants = []config.Grant{
		{Category: "RESERVE_DEPOSITOR", Address: crypto.Format(crypto.DeriveAddress("alice"))},
	}
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	p, err := core.NewProtocol(cfg, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func decodeLines(t *testing.T, out *bytes.Buffer) []stepResult {
	t.Helper()
	var lines []stepResult
	dec := json.NewDecoder(out)
	for dec.More() {
		var line stepResult
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestReplayAppliesScriptInOrder(t *testing.T) {
	p := newProtocol(t)
	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), p, strings.NewReader(script), &out, false))

	lines := decodeLines(t, &out)
	require.Len(t, lines, 6)
	require.Equal(t, "980000000", lines[3].Receipt.Result["payout"])
	require.Equal(t, "980000000", lines[5].Receipt.Result["released"])
	require.Equal(t, uint64(11), p.Height())

	bal, err := p.Balance("BDN", crypto.DeriveAddress("alice"))
	require.NoError(t, err)
	require.Equal(t, "1000000000000000980000000", bal.String())
}

func TestReplayStopsAtFirstFailure(t *testing.T) {
	p := newProtocol(t)
	steps := `
- op: bond.redeem
  caller: "@alice"
- op: ledger.advance
`
	var out bytes.Buffer
	err := replay(context.Background(), p, strings.NewReader(steps), &out, false)
	require.ErrorContains(t, err, "step 1 (bond.redeem)")
	lines := decodeLines(t, &out)
	require.Len(t, lines, 1)
	require.Equal(t, "not_found", lines[0].Kind)
	require.Equal(t, uint64(0), p.Height())
}

func TestReplayContinueReportsFailures(t *testing.T) {
	p := newProtocol(t)
	steps := `
- op: bond.melt
- op: ledger.advance
`
	var out bytes.Buffer
	err := replay(context.Background(), p, strings.NewReader(steps), &out, true)
	require.ErrorContains(t, err, "1 of 2 requests failed")
	require.Len(t, decodeLines(t, &out), 2)
	require.Equal(t, uint64(1), p.Height())
}

func TestReplayRejectsMalformedScript(t *testing.T) {
	p := newProtocol(t)
	err := replay(context.Background(), p, strings.NewReader("op: [unclosed"), io.Discard, false)
	require.ErrorContains(t, err, "decode script")
}
