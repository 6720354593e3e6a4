package bond

import (
	"fmt"
	"math/big"
	"strings"

	"bdnprotocol/core/events"
	nativecommon "bdnprotocol/native/common"
	"bdnprotocol/native/treasury"
)

const moduleName = "bond"

var stateKey = []byte("bond/state")

func userBondKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("bond/user/%x", addr))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type tokenLedger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
	TotalSupply(asset string) (*big.Int, error)
	CurrentBlock() uint64
}

type reserveTreasury interface {
	Deposit(caller [20]byte, amount *big.Int, asset string, mintAmount *big.Int) (*big.Int, error)
	ValueOf(amount *big.Int, asset string) (*big.Int, error)
}

// TAVSource reports the reserve value backing one protocol token, scaled by
// PricePrecision.
type TAVSource interface {
	TAV() (*big.Int, error)
}

// Staker stakes protocol tokens held by caller on behalf of recipient.
type Staker interface {
	Stake(caller, recipient [20]byte, amount *big.Int) error
}

// Engine sells protocol tokens at a debt-ratio adjusted price in exchange for
// one reserve asset, vesting the payout linearly.
type Engine struct {
	state           engineState
	ledger          tokenLedger
	treasury        reserveTreasury
	tav             TAVSource
	staker          Staker
	emitter         events.Emitter
	pauses          nativecommon.PauseView
	owner           [20]byte
	address         [20]byte
	principle       string
	protocolAsset   string
	dao             [20]byte
	rewardRecipient [20]byte
}

// NewEngine constructs a depository at address selling protocolAsset for
// principle.
func NewEngine(owner, address [20]byte, principle, protocolAsset string) *Engine {
	return &Engine{
		owner:         owner,
		address:       address,
		principle:     strings.ToUpper(strings.TrimSpace(principle)),
		protocolAsset: strings.ToUpper(strings.TrimSpace(protocolAsset)),
		emitter:       events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger and block counter.
func (e *Engine) SetLedger(l tokenLedger) { e.ledger = l }

// SetTreasury wires the treasury receiving bonded reserves.
func (e *Engine) SetTreasury(t reserveTreasury) { e.treasury = t }

// SetStaker wires the staking ledger used by Redeem when stake is requested.
func (e *Engine) SetStaker(s Staker) { e.staker = s }

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

// Address returns the depository account.
func (e *Engine) Address() [20]byte { return e.address }

// Principle returns the reserve asset accepted by the depository.
func (e *Engine) Principle() string { return e.principle }

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.ledger == nil || e.treasury == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) checkOwner(caller [20]byte) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) loadState() (*State, error) {
	st := &State{}
	if _, err := e.state.KVGet(stateKey, st); err != nil {
		return nil, err
	}
	st.TotalDebt = copyBigInt(st.TotalDebt)
	st.FloorPrice = copyBigInt(st.FloorPrice)
	st.Terms = st.Terms.clone()
	return st, nil
}

func (e *Engine) loadInitialized() (*State, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if !st.Initialized {
		return nil, ErrTermsNotSet
	}
	return st, nil
}

func (e *Engine) storeState(st *State) error {
	return e.state.KVPut(stateKey, st)
}

func (e *Engine) loadBond(addr [20]byte) (*UserBond, bool, error) {
	b := &UserBond{}
	ok, err := e.state.KVGet(userBondKey(addr), b)
	if err != nil {
		return nil, false, err
	}
	b.Payout = copyBigInt(b.Payout)
	b.PricePaid = copyBigInt(b.PricePaid)
	return b, ok, nil
}

// InitializeBondTerms sets the market terms. It may only be called once.
func (e *Engine) InitializeBondTerms(caller [20]byte, terms Terms) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.Initialized {
		return ErrTermsInitialized
	}
	if err := terms.Validate(); err != nil {
		return err
	}
	st.Terms = terms.clone()
	st.LastDecayBlock = e.ledger.CurrentBlock()
	st.Initialized = true
	return e.storeState(st)
}

// SetBondTerm updates a single term after initialisation.
func (e *Engine) SetBondTerm(caller [20]byte, param Parameter, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidTerms, param)
	}
	st, err := e.loadInitialized()
	if err != nil {
		return err
	}
	terms := st.Terms.clone()
	switch param {
	case ParamVesting, ParamFee, ParamRewardFee:
		if !value.IsUint64() {
			return fmt.Errorf("%w: %s out of range", ErrInvalidTerms, param)
		}
		switch param {
		case ParamVesting:
			terms.VestingTerm = value.Uint64()
		case ParamFee:
			terms.FeeBps = value.Uint64()
		default:
			terms.RewardFeeBps = value.Uint64()
		}
	case ParamMaxPayout:
		terms.MaxPayout = new(big.Int).Set(value)
	case ParamMinPayout:
		terms.MinPayout = new(big.Int).Set(value)
	case ParamMaxDebt:
		terms.MaxDebt = new(big.Int).Set(value)
	case ParamMinPrice:
		terms.MinPrice = new(big.Int).Set(value)
	default:
		return fmt.Errorf("%w: unknown parameter %s", ErrInvalidTerms, param)
	}
	if err := terms.Validate(); err != nil {
		return err
	}
	st.Terms = terms
	return e.storeState(st)
}

// SetAdjustment schedules control variable steps of rate every buffer blocks
// toward target. A zero lastBlock starts the schedule at the current block.
func (e *Engine) SetAdjustment(caller [20]byte, active bool, rate, target, buffer, lastBlock uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	st, err := e.loadInitialized()
	if err != nil {
		return err
	}
	if limit := st.Terms.ControlVariable * 25 / 1000; rate > limit {
		return fmt.Errorf("%w: rate %d above %d", ErrAdjustmentTooLarge, rate, limit)
	}
	if lastBlock == 0 {
		lastBlock = e.ledger.CurrentBlock()
	}
	st.Adjustment = Adjustment{Active: active, Rate: rate, Target: target, Buffer: buffer, LastBlock: lastBlock}
	return e.storeState(st)
}

// SetFloorPriceValue sets the lowest price bonds sell at.
func (e *Engine) SetFloorPriceValue(caller [20]byte, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("%w: floor price must not be negative", ErrInvalidTerms)
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.FloorPrice = new(big.Int).Set(value)
	return e.storeState(st)
}

// SetTAVCalculator replaces the source of the backing value used in pricing.
func (e *Engine) SetTAVCalculator(caller [20]byte, tav TAVSource) error {
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if tav == nil {
		return errNoTAV
	}
	e.tav = tav
	return nil
}

// SetFeeRecipients configures where the DAO fee and the reward fee are sent.
func (e *Engine) SetFeeRecipients(caller, dao, rewards [20]byte) error {
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	e.dao = dao
	e.rewardRecipient = rewards
	return nil
}

func (e *Engine) currentTAV() (*big.Int, error) {
	if e.tav == nil {
		return nil, errNoTAV
	}
	return e.tav.TAV()
}

// quote computes the debt ratio and price for st, which must already be
// decayed to the current block.
func (e *Engine) quote(st *State) (*big.Int, *big.Int, error) {
	tav, err := e.currentTAV()
	if err != nil {
		return nil, nil, err
	}
	supply, err := e.ledger.TotalSupply(e.protocolAsset)
	if err != nil {
		return nil, nil, err
	}
	ratio := debtRatio(st.TotalDebt, supply)
	return priceFor(st, tav, ratio), ratio, nil
}

// Deposit sells a bond for reserveAmount of the principle paid by caller.
// The payout vests to depositor. Every guard is evaluated before any balance
// or record changes. It returns the payout.
func (e *Engine) Deposit(caller [20]byte, reserveAmount, maxPrice *big.Int, depositor [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if reserveAmount == nil || reserveAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if maxPrice == nil || maxPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max price must be positive", ErrSlippageExceeded)
	}
	if depositor == ([20]byte{}) {
		depositor = caller
	}
	st, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	now := e.ledger.CurrentBlock()
	decayDebt(st, now)

	price, _, err := e.quote(st)
	if err != nil {
		return nil, err
	}
	if price.Cmp(maxPrice) > 0 {
		return nil, fmt.Errorf("%w: price %s above %s", ErrSlippageExceeded, price, maxPrice)
	}

	fee := bpsOf(reserveAmount, st.Terms.FeeBps)
	rewardFee := bpsOf(reserveAmount, st.Terms.RewardFeeBps)
	net := new(big.Int).Sub(reserveAmount, fee)
	net.Sub(net, rewardFee)
	if net.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing left after fees", ErrPayoutOutOfRange)
	}
	value, err := e.treasury.ValueOf(net, e.principle)
	if err != nil {
		return nil, err
	}
	payout := new(big.Int).Mul(value, PricePrecision)
	payout.Quo(payout, price)
	if payout.Cmp(st.Terms.MinPayout) < 0 || payout.Cmp(st.Terms.MaxPayout) > 0 {
		return nil, fmt.Errorf("%w: payout %s outside [%s, %s]", ErrPayoutOutOfRange, payout, st.Terms.MinPayout, st.Terms.MaxPayout)
	}
	if payout.Cmp(value) > 0 {
		return nil, fmt.Errorf("%w: payout %s above value %s", treasury.ErrExceedsBacking, payout, value)
	}
	newDebt := new(big.Int).Add(st.TotalDebt, payout)
	if newDebt.Cmp(st.Terms.MaxDebt) > 0 {
		return nil, fmt.Errorf("%w: debt %s above %s", ErrMaxDebtExceeded, newDebt, st.Terms.MaxDebt)
	}
	if (fee.Sign() > 0 && e.dao == ([20]byte{})) || (rewardFee.Sign() > 0 && e.rewardRecipient == ([20]byte{})) {
		return nil, fmt.Errorf("%w: fee recipient not configured", ErrInvalidTerms)
	}
	balance, err := e.ledger.BalanceOf(e.principle, caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(reserveAmount) < 0 {
		return nil, fmt.Errorf("%w: %s below %s", ErrInsufficientFunds, balance, reserveAmount)
	}
	position, _, err := e.loadBond(depositor)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(e.principle, caller, e.address, reserveAmount); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(e.principle, e.address, e.dao, fee); err != nil {
			return nil, err
		}
	}
	if rewardFee.Sign() > 0 {
		if err := e.ledger.Transfer(e.principle, e.address, e.rewardRecipient, rewardFee); err != nil {
			return nil, err
		}
	}
	if _, err := e.treasury.Deposit(e.address, net, e.principle, payout); err != nil {
		return nil, err
	}

	st.TotalDebt = newDebt
	position.Payout.Add(position.Payout, payout)
	position.VestingEndBlock = now + st.Terms.VestingTerm
	position.PricePaid = new(big.Int).Set(price)
	position.LastWithdrawBlock = now
	if err := e.state.KVPut(userBondKey(depositor), position); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.BondCreated{
		Depositor: depositor,
		Deposit:   new(big.Int).Set(reserveAmount),
		Payout:    new(big.Int).Set(payout),
		ExpiresAt: position.VestingEndBlock,
		Price:     new(big.Int).Set(price),
		TotalDebt: new(big.Int).Set(newDebt),
		FeePaid:   fee,
		RewardFee: rewardFee,
	})
	after, ratio, err := e.quote(st)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BondPriceChanged{Price: after, DebtRatio: ratio})
	adjust(st, now, e.emitter)
	if err := e.storeState(st); err != nil {
		return nil, err
	}
	return payout, nil
}

// Redeem releases the vested share of recipient's bond, staking it when
// stake is set. The bond record is removed once fully vested. It returns the
// released amount.
func (e *Engine) Redeem(recipient [20]byte, stake bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	position, ok, err := e.loadBond(recipient)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNoBond, recipient)
	}
	if stake && e.staker == nil {
		return nil, errNoStaker
	}
	now := e.ledger.CurrentBlock()
	released, full := vestedPayout(position, now)

	if released.Sign() > 0 {
		if stake {
			if err := e.staker.Stake(e.address, recipient, released); err != nil {
				return nil, err
			}
		} else if err := e.ledger.Transfer(e.protocolAsset, e.address, recipient, released); err != nil {
			return nil, err
		}
	}
	remaining := new(big.Int).Sub(position.Payout, released)
	if full {
		if err := e.state.KVDelete(userBondKey(recipient)); err != nil {
			return nil, err
		}
		remaining.SetInt64(0)
	} else {
		position.Payout = remaining
		position.LastWithdrawBlock = now
		if err := e.state.KVPut(userBondKey(recipient), position); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.BondRedeemed{
		Recipient: recipient,
		Payout:    new(big.Int).Set(released),
		Remaining: new(big.Int).Set(remaining),
		Staked:    stake,
	})
	return released, nil
}
