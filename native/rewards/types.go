package rewards

import "math/big"

// FirstCycle is the number of the cycle open at genesis.
const FirstCycle uint64 = 1

// Cycle is the record of one reward period. TotalStaked is frozen when the
// cycle closes.
type Cycle struct {
	Number      uint64   `json:"number"`
	RewardPool  *big.Int `json:"rewardPool"`
	TotalStaked *big.Int `json:"totalStaked"`
	Claimed     *big.Int `json:"claimed"`
	Closed      bool     `json:"closed"`
}

// userIndex is the sparse list of cycles in which a user's balance changed.
// LastCycle and LastBalance answer lookups at or after the latest change
// without touching the snapshots.
type userIndex struct {
	LastCycle   uint64
	LastBalance *big.Int
	Cycles      []uint64
}

type cursor struct {
	Current uint64
	Running *big.Int
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
