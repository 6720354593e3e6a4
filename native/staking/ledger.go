package staking

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"bdnprotocol/core/events"
	nativecommon "bdnprotocol/native/common"
)

const moduleName = "staking"

var (
	errNilState            = errors.New("staking: state not configured")
	errInvalidAmount       = errors.New("staking: amount must be positive")
	errInsufficientStake   = errors.New("staking: insufficient staked balance")
	errInsufficientBalance = errors.New("staking: insufficient liquid balance")
)

// ErrInsufficientStake is returned when an unstake exceeds the staked balance.
var ErrInsufficientStake = errInsufficientStake

var totalKey = []byte("staking/total")

func balanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("staking/balance/%x", addr))
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type tokenLedger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, addr [20]byte) (*big.Int, error)
}

// Observer is notified of every staked-balance change, tagged with the
// observer's open cycle.
type Observer interface {
	CurrentRewardCycle() (uint64, error)
	RecordStakeChange(caller, user [20]byte, newBalance *big.Int, cycle uint64) error
}

// Ledger locks protocol tokens in a vault and tracks staked balances.
type Ledger struct {
	state    ledgerState
	tokens   tokenLedger
	observer Observer
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	vault    [20]byte
	asset    string
}

// NewLedger constructs a staking ledger locking asset at vault. The vault
// address also identifies the ledger to its observer.
func NewLedger(vault [20]byte, asset string) *Ledger {
	return &Ledger{vault: vault, asset: strings.ToUpper(strings.TrimSpace(asset)), emitter: events.NoopEmitter{}}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetTokens wires the token ledger holding liquid balances.
func (l *Ledger) SetTokens(t tokenLedger) { l.tokens = t }

// SetObserver registers the consumer of stake changes.
func (l *Ledger) SetObserver(obs Observer) { l.observer = obs }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// Vault returns the account holding staked tokens.
func (l *Ledger) Vault() [20]byte { return l.vault }

func (l *Ledger) ready() error {
	if l == nil || l.state == nil || l.tokens == nil {
		return errNilState
	}
	return nil
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := l.state.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, amount)
}

// StakedBalance returns the staked balance of addr.
func (l *Ledger) StakedBalance(addr [20]byte) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.readAmount(balanceKey(addr))
}

// TotalStaked returns the sum of all staked balances.
func (l *Ledger) TotalStaked() (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.readAmount(totalKey)
}

// Stake locks amount of caller's tokens and credits them to recipient.
func (l *Ledger) Stake(caller, recipient [20]byte, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if recipient == ([20]byte{}) {
		recipient = caller
	}
	liquid, err := l.tokens.BalanceOf(l.asset, caller)
	if err != nil {
		return err
	}
	if liquid.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s below %s", errInsufficientBalance, liquid, amount)
	}
	if err := l.tokens.Transfer(l.asset, caller, l.vault, amount); err != nil {
		return err
	}
	return l.apply(recipient, amount, false)
}

// Unstake releases amount of caller's staked tokens back to caller.
func (l *Ledger) Unstake(caller [20]byte, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	staked, err := l.readAmount(balanceKey(caller))
	if err != nil {
		return err
	}
	if staked.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s below %s", errInsufficientStake, staked, amount)
	}
	if err := l.tokens.Transfer(l.asset, l.vault, caller, amount); err != nil {
		return err
	}
	return l.apply(caller, amount, true)
}

func (l *Ledger) apply(user [20]byte, amount *big.Int, unstake bool) error {
	balance, err := l.readAmount(balanceKey(user))
	if err != nil {
		return err
	}
	total, err := l.readAmount(totalKey)
	if err != nil {
		return err
	}
	if unstake {
		balance.Sub(balance, amount)
		total.Sub(total, amount)
	} else {
		balance.Add(balance, amount)
		total.Add(total, amount)
	}
	if err := l.writeAmount(balanceKey(user), balance); err != nil {
		return err
	}
	if err := l.writeAmount(totalKey, total); err != nil {
		return err
	}
	if l.observer != nil {
		cycle, err := l.observer.CurrentRewardCycle()
		if err != nil {
			return err
		}
		if err := l.observer.RecordStakeChange(l.vault, user, balance, cycle); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.StakeChanged{
		User:       user,
		Delta:      new(big.Int).Set(amount),
		NewBalance: new(big.Int).Set(balance),
		Unstake:    unstake,
	})
	return nil
}
