package bond

import "math/big"

const fullyVestedBps uint64 = 10_000

// vestedPayout returns the share of the bond's remaining payout released at
// block now, and whether the bond is fully vested. Vesting is linear from
// LastWithdrawBlock to VestingEndBlock.
func vestedPayout(b *UserBond, now uint64) (*big.Int, bool) {
	payout := copyBigInt(b.Payout)
	if now >= b.VestingEndBlock || b.VestingEndBlock <= b.LastWithdrawBlock {
		return payout, true
	}
	if now <= b.LastWithdrawBlock {
		return big.NewInt(0), false
	}
	elapsed := new(big.Int).SetUint64(now - b.LastWithdrawBlock)
	remaining := new(big.Int).SetUint64(b.VestingEndBlock - b.LastWithdrawBlock)
	payout.Mul(payout, elapsed)
	return payout.Quo(payout, remaining), false
}

// percentVested reports vesting progress since the last withdrawal in basis
// points, capped at 10000.
func percentVested(b *UserBond, now uint64) uint64 {
	if now >= b.VestingEndBlock || b.VestingEndBlock <= b.LastWithdrawBlock {
		return fullyVestedBps
	}
	if now <= b.LastWithdrawBlock {
		return 0
	}
	return (now - b.LastWithdrawBlock) * fullyVestedBps / (b.VestingEndBlock - b.LastWithdrawBlock)
}
