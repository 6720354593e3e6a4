package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"bdnprotocol/core/state"
	"bdnprotocol/storage"
	"bdnprotocol/storage/trie"
)

var (
	errInvalidAmount       = errors.New("ledger: amount must be positive")
	errInsufficientBalance = errors.New("ledger: insufficient balance")
)

// ErrInsufficientBalance is returned by Transfer and Burn when the source
// account cannot cover the amount.
var ErrInsufficientBalance = errInsufficientBalance

var headKey = []byte("ledger/head")

type head struct {
	Root   []byte
	Height uint64
}

// Ledger is the balance-holding environment the protocol engines run in. It
// owns the state trie, the monotonic block counter and the atomic
// transfer/mint/burn primitives.
//
// Ledger is not safe for concurrent use; callers serialise access.
type Ledger struct {
	db     storage.Database
	state  *state.Manager
	height uint64
}

// Open loads the ledger head from the store, or starts an empty ledger at
// height zero when none has been committed yet.
func Open(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database required")
	}
	var h head
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("ledger: load head: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("ledger: decode head: %w", err)
		}
	}
	tr, err := trie.NewTrie(db, h.Root)
	if err != nil {
		return nil, fmt.Errorf("ledger: open trie: %w", err)
	}
	return &Ledger{db: db, state: state.NewManager(tr), height: h.Height}, nil
}

// State exposes the state manager backing the ledger.
func (l *Ledger) State() *state.Manager { return l.state }

// CurrentBlock returns the height transactions are currently applied at.
func (l *Ledger) CurrentBlock() uint64 { return l.height }

// Root returns the hash of the working state.
func (l *Ledger) Root() common.Hash { return l.state.Root() }

// AdvanceBlock commits the working state at the current height, persists the
// head and moves to the next height.
func (l *Ledger) AdvanceBlock() (common.Hash, error) {
	root, err := l.state.Commit(l.height)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ledger: commit: %w", err)
	}
	next := l.height + 1
	encoded, err := rlp.EncodeToBytes(head{Root: root.Bytes(), Height: next})
	if err != nil {
		return common.Hash{}, err
	}
	if err := l.db.Put(headKey, encoded); err != nil {
		return common.Hash{}, fmt.Errorf("ledger: persist head: %w", err)
	}
	l.height = next
	return root, nil
}

// AdvanceBlocks commits and advances n times.
func (l *Ledger) AdvanceBlocks(n uint64) (common.Hash, error) {
	var root common.Hash
	for i := uint64(0); i < n; i++ {
		var err error
		if root, err = l.AdvanceBlock(); err != nil {
			return common.Hash{}, err
		}
	}
	return root, nil
}

// Atomic runs fn against the working state and reverts every mutation it made
// if it returns an error.
func (l *Ledger) Atomic(fn func() error) (err error) {
	snap := l.state.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			l.state.Revert(snap)
			panic(r)
		}
		if err != nil {
			l.state.Revert(snap)
		}
	}()
	return fn()
}

// RegisterToken adds a token to the ledger.
func (l *Ledger) RegisterToken(symbol, name string, decimals uint8) error {
	return l.state.RegisterToken(symbol, name, decimals)
}

// Decimals returns the decimals of a registered token.
func (l *Ledger) Decimals(asset string) (uint8, error) {
	meta, err := l.state.Token(asset)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, fmt.Errorf("ledger: token %s not registered", state.NormalizeSymbol(asset))
	}
	return meta.Decimals, nil
}

// BalanceOf returns the balance of addr in asset.
func (l *Ledger) BalanceOf(asset string, addr [20]byte) (*big.Int, error) {
	return l.state.Balance(addr[:], asset)
}

// TotalSupply returns the circulating supply of asset.
func (l *Ledger) TotalSupply(asset string) (*big.Int, error) {
	return l.state.Supply(asset)
}

// Transfer moves amount of asset between two accounts.
func (l *Ledger) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromBal, err := l.state.Balance(from[:], asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", errInsufficientBalance, state.NormalizeSymbol(asset), fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := l.state.Balance(to[:], asset)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from[:], asset, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to[:], asset, new(big.Int).Add(toBal, amount))
}

// Mint creates amount of asset in the recipient account.
func (l *Ledger) Mint(asset string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	supply, err := l.state.Supply(asset)
	if err != nil {
		return err
	}
	bal, err := l.state.Balance(to[:], asset)
	if err != nil {
		return err
	}
	if err := l.state.SetSupply(asset, new(big.Int).Add(supply, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to[:], asset, new(big.Int).Add(bal, amount))
}

// Burn destroys amount of asset held by from.
func (l *Ledger) Burn(asset string, from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal, err := l.state.Balance(from[:], asset)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", errInsufficientBalance, state.NormalizeSymbol(asset), bal, amount)
	}
	supply, err := l.state.Supply(asset)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from[:], asset, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	return l.state.SetSupply(asset, new(big.Int).Sub(supply, amount))
}
