package treasury

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"bdnprotocol/core/events"
	"bdnprotocol/crypto"
	nativecommon "bdnprotocol/native/common"
	"bdnprotocol/native/permissions"
)

const moduleName = "treasury"

var (
	reserveKeyPrefix = "treasury/reserve/"
	totalsKey        = []byte("treasury/totals")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type tokenLedger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	Mint(asset string, to [20]byte, amount *big.Int) error
	Burn(asset string, from [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
	TotalSupply(asset string) (*big.Int, error)
}

type permissionView interface {
	Require(category permissions.Category, addr [20]byte) error
	BoundCalculator(asset [20]byte) ([20]byte, bool)
}

// Engine custodies reserve assets and is the only minter of the protocol
// token. Every mint is backed by reserve value reported by a Calculator.
type Engine struct {
	state         engineState
	ledger        tokenLedger
	perms         permissionView
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	owner         [20]byte
	custody       [20]byte
	protocolAsset string
	calculator    Calculator
	bound         map[[20]byte]Calculator
}

// NewEngine constructs a treasury holding reserves at the custody address and
// minting protocolAsset.
func NewEngine(owner, custody [20]byte, protocolAsset string) *Engine {
	return &Engine{
		owner:         owner,
		custody:       custody,
		protocolAsset: strings.ToUpper(strings.TrimSpace(protocolAsset)),
		emitter:       events.NoopEmitter{},
		bound:         make(map[[20]byte]Calculator),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger holding balances and supplies.
func (e *Engine) SetLedger(l tokenLedger) { e.ledger = l }

// SetPermissions wires the capability registry.
func (e *Engine) SetPermissions(p permissionView) { e.perms = p }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Custody returns the address holding reserve assets.
func (e *Engine) Custody() [20]byte { return e.custody }

// ProtocolAsset returns the symbol of the minted token.
func (e *Engine) ProtocolAsset() string { return e.protocolAsset }

// RegisterCalculator makes calc addressable so RESERVE_TOKEN grants can bind
// it to an asset.
func (e *Engine) RegisterCalculator(addr [20]byte, calc Calculator) error {
	if addr == ([20]byte{}) {
		return fmt.Errorf("treasury: calculator address must not be zero")
	}
	if calc == nil {
		return ErrNoCalculator
	}
	e.bound[addr] = calc
	return nil
}

// SetTAVCalculator replaces the default asset value oracle. Existing reserve
// accounting is not migrated.
func (e *Engine) SetTAVCalculator(caller [20]byte, calc Calculator, name string) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if calc == nil {
		return ErrNoCalculator
	}
	e.calculator = calc
	e.emitter.Emit(events.TreasuryCalculatorChanged{Name: name})
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledger == nil || e.perms == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) calculatorFor(asset string) (Calculator, error) {
	if e.perms != nil {
		if addr, ok := e.perms.BoundCalculator(crypto.AssetAddress(asset)); ok && addr != ([20]byte{}) {
			calc, found := e.bound[addr]
			if !found {
				return nil, fmt.Errorf("%w: bound calculator %x unknown", ErrNoCalculator, addr)
			}
			return calc, nil
		}
	}
	if e.calculator == nil {
		return nil, ErrNoCalculator
	}
	return e.calculator, nil
}

// ValueOf returns the protocol-token value of amount of asset.
func (e *Engine) ValueOf(amount *big.Int, asset string) (*big.Int, error) {
	calc, err := e.calculatorFor(asset)
	if err != nil {
		return nil, err
	}
	return calc.ValueOf(strings.ToUpper(strings.TrimSpace(asset)), amount)
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals := &Totals{TotalReserves: big.NewInt(0)}
	if _, err := e.state.KVGet(totalsKey, totals); err != nil {
		return nil, err
	}
	if totals.TotalReserves == nil {
		totals.TotalReserves = big.NewInt(0)
	}
	return totals, nil
}

// TotalReserves returns the value-denominated sum of every reserve.
func (e *Engine) TotalReserves() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return totals.TotalReserves, nil
}

// ProtocolSupply returns the circulating supply of the minted token.
func (e *Engine) ProtocolSupply() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ledger.TotalSupply(e.protocolAsset)
}

// ExcessReserves returns total backing minus protocol supply, floored at 0.
func (e *Engine) ExcessReserves() (*big.Int, error) {
	reserves, err := e.TotalReserves()
	if err != nil {
		return nil, err
	}
	supply, err := e.ProtocolSupply()
	if err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(reserves, supply)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return excess, nil
}

// TAV reports the backing per protocol token when the active oracle exposes
// it, falling back to the raw reserve ratio.
func (e *Engine) TAV() (*big.Int, error) {
	if reporter, ok := e.calculator.(interface{ TAV() (*big.Int, error) }); ok {
		return reporter.TAV()
	}
	return NewTAVCalculator(nil, e.protocolAsset, e).TAV()
}

// Reserve returns the accounting for one reserve asset.
func (e *Engine) Reserve(asset string) (*ReserveAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadReserve(strings.ToUpper(strings.TrimSpace(asset)))
}

// Reserves lists every asset ever deposited, in symbol order.
func (e *Engine) Reserves() ([]*ReserveAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	out := make([]*ReserveAccount, 0, len(totals.Assets))
	for _, asset := range totals.Assets {
		account, err := e.loadReserve(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

func (e *Engine) loadReserve(asset string) (*ReserveAccount, error) {
	account := &ReserveAccount{Asset: asset}
	if _, err := e.state.KVGet([]byte(reserveKeyPrefix+asset), account); err != nil {
		return nil, err
	}
	account.Asset = asset
	account.TotalDeposited = copyBigInt(account.TotalDeposited)
	account.TotalValueBacked = copyBigInt(account.TotalValueBacked)
	return account, nil
}

func (e *Engine) storeReserve(account *ReserveAccount, totals *Totals) error {
	if err := e.state.KVPut([]byte(reserveKeyPrefix+account.Asset), account); err != nil {
		return err
	}
	idx := sort.SearchStrings(totals.Assets, account.Asset)
	if idx == len(totals.Assets) || totals.Assets[idx] != account.Asset {
		totals.Assets = append(totals.Assets, "")
		copy(totals.Assets[idx+1:], totals.Assets[idx:])
		totals.Assets[idx] = account.Asset
	}
	return e.state.KVPut(totalsKey, totals)
}

func (e *Engine) requireBalance(asset string, addr [20]byte, amount *big.Int) error {
	balance, err := e.ledger.BalanceOf(asset, addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance %s below %s", ErrInsufficientBalance, asset, balance, amount)
	}
	return nil
}

// Deposit moves amount of asset from caller into custody and mints
// mintAmount of the protocol token to caller. It returns the value left
// unminted as profit.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int, asset string, mintAmount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if mintAmount == nil {
		mintAmount = big.NewInt(0)
	}
	if mintAmount.Sign() < 0 {
		return nil, errNegativeMint
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := e.perms.Require(permissions.ReserveDepositor, caller); err != nil {
		return nil, err
	}
	if err := e.perms.Require(permissions.ReserveToken, crypto.AssetAddress(asset)); err != nil {
		return nil, err
	}
	value, err := e.ValueOf(amount, asset)
	if err != nil {
		return nil, err
	}
	if mintAmount.Cmp(value) > 0 {
		return nil, fmt.Errorf("%w: mint %s above value %s", ErrExceedsBacking, mintAmount, value)
	}
	if err := e.requireBalance(asset, caller, amount); err != nil {
		return nil, err
	}
	account, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(asset, caller, e.custody, amount); err != nil {
		return nil, err
	}
	if mintAmount.Sign() > 0 {
		if err := e.ledger.Mint(e.protocolAsset, caller, mintAmount); err != nil {
			return nil, err
		}
	}
	account.TotalDeposited.Add(account.TotalDeposited, amount)
	account.TotalValueBacked.Add(account.TotalValueBacked, mintAmount)
	totals.TotalReserves.Add(totals.TotalReserves, value)
	if err := e.storeReserve(account, totals); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TreasuryDeposit{
		Depositor: caller,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		Value:     new(big.Int).Set(value),
		Minted:    new(big.Int).Set(mintAmount),
	})
	return new(big.Int).Sub(value, mintAmount), nil
}

// Withdraw burns the value of amount in protocol tokens from caller and
// releases amount of the reserve asset to caller.
func (e *Engine) Withdraw(caller [20]byte, amount *big.Int, asset string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := e.perms.Require(permissions.ReserveSpender, caller); err != nil {
		return err
	}
	value, err := e.ValueOf(amount, asset)
	if err != nil {
		return err
	}
	account, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if account.TotalDeposited.Cmp(amount) < 0 || totals.TotalReserves.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s %s requested", ErrInsufficientReserves, amount, asset)
	}
	if err := e.requireBalance(asset, e.custody, amount); err != nil {
		return fmt.Errorf("%w: custody short of %s", ErrInsufficientReserves, asset)
	}
	if err := e.requireBalance(e.protocolAsset, caller, value); err != nil {
		return err
	}

	if err := e.ledger.Burn(e.protocolAsset, caller, value); err != nil {
		return err
	}
	if err := e.ledger.Transfer(asset, e.custody, caller, amount); err != nil {
		return err
	}
	account.TotalDeposited.Sub(account.TotalDeposited, amount)
	if account.TotalValueBacked.Cmp(value) < 0 {
		account.TotalValueBacked.SetInt64(0)
	} else {
		account.TotalValueBacked.Sub(account.TotalValueBacked, value)
	}
	totals.TotalReserves.Sub(totals.TotalReserves, value)
	if err := e.storeReserve(account, totals); err != nil {
		return err
	}
	e.emitter.Emit(events.TreasuryWithdraw{
		Spender: caller,
		Asset:   asset,
		Amount:  new(big.Int).Set(amount),
		Burned:  value,
	})
	return nil
}

// Manage sends amount of asset out of custody without burning protocol
// tokens. The value removed may not exceed ExcessReserves, and the asset must
// stay fully backed afterwards.
func (e *Engine) Manage(caller [20]byte, amount *big.Int, asset string, recipient [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if recipient == ([20]byte{}) {
		recipient = caller
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := e.perms.Require(permissions.ReserveSpender, caller); err != nil {
		return err
	}
	value, err := e.ValueOf(amount, asset)
	if err != nil {
		return err
	}
	excess, err := e.ExcessReserves()
	if err != nil {
		return err
	}
	if value.Cmp(excess) > 0 {
		return fmt.Errorf("%w: value %s above excess %s", ErrInsufficientReserves, value, excess)
	}
	account, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if account.TotalDeposited.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s %s requested", ErrInsufficientReserves, amount, asset)
	}
	remaining := new(big.Int).Sub(account.TotalDeposited, amount)
	remainingValue, err := e.ValueOf(remaining, asset)
	if err != nil {
		return err
	}
	if remainingValue.Cmp(account.TotalValueBacked) < 0 {
		return fmt.Errorf("%w: %s would be under-backed", ErrInsufficientReserves, asset)
	}
	if err := e.requireBalance(asset, e.custody, amount); err != nil {
		return fmt.Errorf("%w: custody short of %s", ErrInsufficientReserves, asset)
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(asset, e.custody, recipient, amount); err != nil {
		return err
	}
	account.TotalDeposited = remaining
	totals.TotalReserves.Sub(totals.TotalReserves, value)
	if err := e.storeReserve(account, totals); err != nil {
		return err
	}
	e.emitter.Emit(events.TreasuryManage{
		Manager:   caller,
		Recipient: recipient,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		Value:     value,
	})
	return nil
}

// MintRewards mints amount of the protocol token to recipient, bounded by
// ExcessReserves.
func (e *Engine) MintRewards(caller, recipient [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.perms.Require(permissions.RewardManager, caller); err != nil {
		return err
	}
	excess, err := e.ExcessReserves()
	if err != nil {
		return err
	}
	if amount.Cmp(excess) > 0 {
		return fmt.Errorf("%w: mint %s above excess %s", ErrInsufficientReserves, amount, excess)
	}
	if err := e.ledger.Mint(e.protocolAsset, recipient, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TreasuryRewardsMinted{
		Caller:    caller,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}
