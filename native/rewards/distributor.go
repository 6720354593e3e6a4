package rewards

import (
	"fmt"
	"math/big"
	"strings"

	"bdnprotocol/core/events"
	nativecommon "bdnprotocol/native/common"
)

const moduleName = "rewards"

var cursorKey = []byte("rewards/cursor")

func cycleKey(n uint64) []byte {
	return []byte(fmt.Sprintf("rewards/cycle/%d", n))
}

func claimKey(user [20]byte, cycle uint64) []byte {
	return []byte(fmt.Sprintf("rewards/claimed/%x/%d", user, cycle))
}

type distributorState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type tokenLedger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
}

type fundingSource interface {
	Manage(caller [20]byte, amount *big.Int, asset string, recipient [20]byte) error
}

// Distributor splits each cycle's reward pool pro rata over the stake
// recorded for that cycle.
type Distributor struct {
	state     distributorState
	ledger    tokenLedger
	funding   fundingSource
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	owner     [20]byte
	address   [20]byte
	staking   [20]byte
	rewardSym string
}

// NewDistributor constructs a distributor holding reward funds at address
// and paying rewardAsset. Only stakingLedger may record stake changes.
func NewDistributor(owner, address, stakingLedger [20]byte, rewardAsset string) *Distributor {
	return &Distributor{
		owner:     owner,
		address:   address,
		staking:   stakingLedger,
		rewardSym: strings.ToUpper(strings.TrimSpace(rewardAsset)),
		emitter:   events.NoopEmitter{},
	}
}

// SetState wires the distributor to the external persistence layer.
func (d *Distributor) SetState(state distributorState) { d.state = state }

// SetLedger wires the token ledger used to pay claims.
func (d *Distributor) SetLedger(l tokenLedger) { d.ledger = l }

// SetFunding wires the treasury the reward pools are drawn from.
func (d *Distributor) SetFunding(f fundingSource) { d.funding = f }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (d *Distributor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

func (d *Distributor) SetPauses(p nativecommon.PauseView) {
	if d == nil {
		return
	}
	d.pauses = p
}

// Address returns the account holding undistributed rewards.
func (d *Distributor) Address() [20]byte { return d.address }

// RewardAsset returns the symbol rewards are paid in.
func (d *Distributor) RewardAsset() string { return d.rewardSym }

func (d *Distributor) ready() error {
	if d == nil || d.state == nil || d.ledger == nil {
		return errNilState
	}
	return nil
}

func (d *Distributor) loadCursor() (*cursor, error) {
	c := &cursor{}
	ok, err := d.state.KVGet(cursorKey, c)
	if err != nil {
		return nil, err
	}
	if !ok || c.Current == 0 {
		c.Current = FirstCycle
	}
	c.Running = copyBigInt(c.Running)
	return c, nil
}

func (d *Distributor) loadCycle(n uint64) (*Cycle, bool, error) {
	c := &Cycle{}
	ok, err := d.state.KVGet(cycleKey(n), c)
	if err != nil {
		return nil, false, err
	}
	c.Number = n
	c.RewardPool = copyBigInt(c.RewardPool)
	c.TotalStaked = copyBigInt(c.TotalStaked)
	c.Claimed = copyBigInt(c.Claimed)
	return c, ok, nil
}

// CurrentRewardCycle returns the number of the open cycle.
func (d *Distributor) CurrentRewardCycle() (uint64, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	c, err := d.loadCursor()
	if err != nil {
		return 0, err
	}
	return c.Current, nil
}

// RecordStakeChange stores user's new staked balance for the open cycle and
// moves the running total by the difference from the previous balance.
func (d *Distributor) RecordStakeChange(caller, user [20]byte, newBalance *big.Int, cycle uint64) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if caller != d.staking {
		return fmt.Errorf("%w: %x is not the staking ledger", ErrUnauthorized, caller)
	}
	if newBalance == nil || newBalance.Sign() < 0 {
		return errInvalidAmount
	}
	cur, err := d.loadCursor()
	if err != nil {
		return err
	}
	if cycle != cur.Current {
		return fmt.Errorf("%w: got %d, open %d", ErrCycleClosed, cycle, cur.Current)
	}
	idx, err := d.loadIndex(user)
	if err != nil {
		return err
	}
	prior, err := d.balanceAt(user, idx, cycle)
	if err != nil {
		return err
	}
	cur.Running.Add(cur.Running, newBalance)
	cur.Running.Sub(cur.Running, prior)
	if cur.Running.Sign() < 0 {
		return fmt.Errorf("rewards: running total would go negative")
	}
	if err := d.writeSnapshot(user, idx, cycle, newBalance); err != nil {
		return err
	}
	if err := d.state.KVPut(cursorKey, cur); err != nil {
		return err
	}
	d.emitter.Emit(events.RewardsStakeRecorded{
		User:        user,
		Cycle:       cycle,
		Balance:     new(big.Int).Set(newBalance),
		TotalStaked: new(big.Int).Set(cur.Running),
	})
	return nil
}

// GetTotalStakedBdnOfUserForACycle returns the balance user carried into
// cycle, or zero before the user's first stake.
func (d *Distributor) GetTotalStakedBdnOfUserForACycle(user [20]byte, cycle uint64) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	idx, err := d.loadIndex(user)
	if err != nil {
		return nil, err
	}
	return d.balanceAt(user, idx, cycle)
}

// GetTotalStakedBdnForACycle returns the frozen total of a closed cycle, the
// running total of the open cycle, and zero for future cycles.
func (d *Distributor) GetTotalStakedBdnForACycle(cycle uint64) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	cur, err := d.loadCursor()
	if err != nil {
		return nil, err
	}
	switch {
	case cycle == cur.Current:
		return cur.Running, nil
	case cycle > cur.Current || cycle < FirstCycle:
		return big.NewInt(0), nil
	}
	c, _, err := d.loadCycle(cycle)
	if err != nil {
		return nil, err
	}
	return c.TotalStaked, nil
}

// GetTotalRewardsForCycle returns the pool funded for cycle.
func (d *Distributor) GetTotalRewardsForCycle(cycle uint64) (*big.Int, error) {
	c, err := d.Cycle(cycle)
	if err != nil {
		return nil, err
	}
	return c.RewardPool, nil
}

// Cycle returns the record for cycle n. The open cycle reports its running
// total.
func (d *Distributor) Cycle(n uint64) (*Cycle, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	c, _, err := d.loadCycle(n)
	if err != nil {
		return nil, err
	}
	cur, err := d.loadCursor()
	if err != nil {
		return nil, err
	}
	if n == cur.Current {
		c.TotalStaked = cur.Running
	}
	return c, nil
}

// CompleteRewardCycle closes the open cycle with a pool of rewardAmount drawn
// from the treasury and opens the next one, which inherits the running total.
func (d *Distributor) CompleteRewardCycle(caller [20]byte, rewardAmount *big.Int) (*Cycle, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller != d.owner {
		return nil, fmt.Errorf("%w: only the owner closes cycles", ErrUnauthorized)
	}
	if rewardAmount == nil {
		rewardAmount = big.NewInt(0)
	}
	if rewardAmount.Sign() < 0 {
		return nil, errInvalidAmount
	}
	if rewardAmount.Sign() > 0 && d.funding == nil {
		return nil, fmt.Errorf("rewards: funding source not configured")
	}
	cur, err := d.loadCursor()
	if err != nil {
		return nil, err
	}
	if rewardAmount.Sign() > 0 {
		if err := d.funding.Manage(d.address, rewardAmount, d.rewardSym, d.address); err != nil {
			return nil, err
		}
	}
	closed := &Cycle{
		Number:      cur.Current,
		RewardPool:  new(big.Int).Set(rewardAmount),
		TotalStaked: new(big.Int).Set(cur.Running),
		Claimed:     big.NewInt(0),
		Closed:      true,
	}
	if err := d.state.KVPut(cycleKey(closed.Number), closed); err != nil {
		return nil, err
	}
	cur.Current++
	if err := d.state.KVPut(cursorKey, cur); err != nil {
		return nil, err
	}
	d.emitter.Emit(events.RewardsCycleCompleted{
		Cycle:       closed.Number,
		RewardPool:  new(big.Int).Set(closed.RewardPool),
		TotalStaked: new(big.Int).Set(closed.TotalStaked),
		NextCycle:   cur.Current,
	})
	return closed, nil
}

// entitlement computes pool*balance/total for a closed cycle, rounded down.
func (d *Distributor) entitlement(user [20]byte, cycle uint64) (*Cycle, *big.Int, error) {
	c, ok, err := d.loadCycle(cycle)
	if err != nil {
		return nil, nil, err
	}
	if !ok || !c.Closed {
		return nil, nil, fmt.Errorf("%w: cycle %d", ErrCycleNotClosed, cycle)
	}
	if c.TotalStaked.Sign() == 0 || c.RewardPool.Sign() == 0 {
		return c, big.NewInt(0), nil
	}
	balance, err := d.GetTotalStakedBdnOfUserForACycle(user, cycle)
	if err != nil {
		return nil, nil, err
	}
	amount := new(big.Int).Mul(c.RewardPool, balance)
	return c, amount.Quo(amount, c.TotalStaked), nil
}

func (d *Distributor) claimed(user [20]byte, cycle uint64) (bool, error) {
	return d.state.KVGet(claimKey(user, cycle), nil)
}

// RewardsForACycle pays user's share of a closed cycle's pool. Each (user,
// cycle) pair can be claimed once, including zero shares.
func (d *Distributor) RewardsForACycle(user [20]byte, cycle uint64) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return nil, err
	}
	c, amount, err := d.entitlement(user, cycle)
	if err != nil {
		return nil, err
	}
	done, err := d.claimed(user, cycle)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: cycle %d", ErrAlreadyClaimed, cycle)
	}
	if amount.Sign() > 0 {
		if err := d.ledger.Transfer(d.rewardSym, d.address, user, amount); err != nil {
			return nil, err
		}
	}
	if err := d.state.KVPut(claimKey(user, cycle), true); err != nil {
		return nil, err
	}
	c.Claimed.Add(c.Claimed, amount)
	if err := d.state.KVPut(cycleKey(cycle), c); err != nil {
		return nil, err
	}
	d.emitter.Emit(events.RewardsClaimed{
		User:   user,
		Cycle:  cycle,
		Asset:  d.rewardSym,
		Amount: new(big.Int).Set(amount),
	})
	return amount, nil
}

// PendingRewardsForACycle returns what RewardsForACycle would pay without
// claiming. Claimed pairs report zero.
func (d *Distributor) PendingRewardsForACycle(user [20]byte, cycle uint64) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	_, amount, err := d.entitlement(user, cycle)
	if err != nil {
		return nil, err
	}
	done, err := d.claimed(user, cycle)
	if err != nil {
		return nil, err
	}
	if done {
		return big.NewInt(0), nil
	}
	return amount, nil
}
