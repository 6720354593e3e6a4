package events

import (
	"math/big"

	"bdnprotocol/core/types"
)

const (
	// TypeRewardsStakeRecorded is emitted whenever a stake snapshot is written.
	TypeRewardsStakeRecorded = "rewards.stakeRecorded"
	// TypeRewardsCycleCompleted is emitted when a reward cycle is closed and funded.
	TypeRewardsCycleCompleted = "rewards.cycleCompleted"
	// TypeRewardsClaimed is emitted when a staker claims a closed cycle.
	TypeRewardsClaimed = "rewards.claimed"
	// TypeStakeChanged is emitted by the staking ledger on stake and unstake.
	TypeStakeChanged = "staking.changed"
)

// RewardsStakeRecorded captures a snapshot write.
type RewardsStakeRecorded struct {
	User        [20]byte
	Cycle       uint64
	Balance     *big.Int
	TotalStaked *big.Int
}

// EventType satisfies the Event interface.
func (RewardsStakeRecorded) EventType() string { return TypeRewardsStakeRecorded }

// Event converts the structured payload into a broadcastable event.
func (e RewardsStakeRecorded) Event() *types.Event {
	return &types.Event{Type: TypeRewardsStakeRecorded, Attributes: map[string]string{
		"addr":        formatAddress(e.User),
		"cycle":       formatUint(e.Cycle),
		"balance":     formatAmount(e.Balance),
		"totalStaked": formatAmount(e.TotalStaked),
	}}
}

// RewardsCycleCompleted captures a cycle closure.
type RewardsCycleCompleted struct {
	Cycle       uint64
	RewardPool  *big.Int
	TotalStaked *big.Int
	NextCycle   uint64
}

// EventType satisfies the Event interface.
func (RewardsCycleCompleted) EventType() string { return TypeRewardsCycleCompleted }

// Event converts the structured payload into a broadcastable event.
func (e RewardsCycleCompleted) Event() *types.Event {
	return &types.Event{Type: TypeRewardsCycleCompleted, Attributes: map[string]string{
		"cycle":       formatUint(e.Cycle),
		"rewardPool":  formatAmount(e.RewardPool),
		"totalStaked": formatAmount(e.TotalStaked),
		"nextCycle":   formatUint(e.NextCycle),
	}}
}

// RewardsClaimed captures a per-cycle claim.
type RewardsClaimed struct {
	User   [20]byte
	Cycle  uint64
	Asset  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypeRewardsClaimed, Attributes: map[string]string{
		"addr":   formatAddress(e.User),
		"cycle":  formatUint(e.Cycle),
		"asset":  normalizeAsset(e.Asset),
		"amount": formatAmount(e.Amount),
	}}
}

// StakeChanged captures a staking ledger balance update.
type StakeChanged struct {
	User       [20]byte
	Delta      *big.Int
	NewBalance *big.Int
	Unstake    bool
}

// EventType satisfies the Event interface.
func (StakeChanged) EventType() string { return TypeStakeChanged }

// Event converts the structured payload into a broadcastable event.
func (e StakeChanged) Event() *types.Event {
	op := "stake"
	if e.Unstake {
		op = "unstake"
	}
	return &types.Event{Type: TypeStakeChanged, Attributes: map[string]string{
		"addr":       formatAddress(e.User),
		"operation":  op,
		"delta":      formatAmount(e.Delta),
		"newBalance": formatAmount(e.NewBalance),
	}}
}
