package rewards

import (
	"fmt"
	"math/big"
	"sort"
)

func snapshotKey(user [20]byte, cycle uint64) []byte {
	return []byte(fmt.Sprintf("rewards/snapshot/%x/%d", user, cycle))
}

func indexKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("rewards/index/%x", user))
}

func (d *Distributor) loadIndex(user [20]byte) (*userIndex, error) {
	idx := &userIndex{}
	if _, err := d.state.KVGet(indexKey(user), idx); err != nil {
		return nil, err
	}
	idx.LastBalance = copyBigInt(idx.LastBalance)
	return idx, nil
}

// balanceAt returns the user's balance as of cycle: the snapshot from the
// latest cycle at or before it in which the balance changed.
func (d *Distributor) balanceAt(user [20]byte, idx *userIndex, cycle uint64) (*big.Int, error) {
	if len(idx.Cycles) == 0 || cycle < idx.Cycles[0] {
		return big.NewInt(0), nil
	}
	if cycle >= idx.LastCycle {
		return new(big.Int).Set(idx.LastBalance), nil
	}
	pos := sort.Search(len(idx.Cycles), func(i int) bool { return idx.Cycles[i] > cycle }) - 1
	balance := new(big.Int)
	ok, err := d.state.KVGet(snapshotKey(user, idx.Cycles[pos]), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rewards: snapshot %d missing for %x", idx.Cycles[pos], user)
	}
	return balance, nil
}

// writeSnapshot records balance for (user, cycle). cycle is never below the
// user's LastCycle.
func (d *Distributor) writeSnapshot(user [20]byte, idx *userIndex, cycle uint64, balance *big.Int) error {
	if len(idx.Cycles) == 0 || idx.LastCycle != cycle {
		idx.Cycles = append(idx.Cycles, cycle)
	}
	idx.LastCycle = cycle
	idx.LastBalance = new(big.Int).Set(balance)
	if err := d.state.KVPut(snapshotKey(user, cycle), balance); err != nil {
		return err
	}
	return d.state.KVPut(indexKey(user), idx)
}
