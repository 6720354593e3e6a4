package bond

import "math/big"

// decayedDebt returns the debt outstanding at block now. Debt runs off
// linearly over one vesting term.
func decayedDebt(st *State, now uint64) *big.Int {
	debt := copyBigInt(st.TotalDebt)
	if debt.Sign() == 0 || now <= st.LastDecayBlock || st.Terms.VestingTerm == 0 {
		return debt
	}
	elapsed := new(big.Int).SetUint64(now - st.LastDecayBlock)
	decay := new(big.Int).Mul(debt, elapsed)
	decay.Quo(decay, new(big.Int).SetUint64(st.Terms.VestingTerm))
	if decay.Cmp(debt) >= 0 {
		return big.NewInt(0)
	}
	return debt.Sub(debt, decay)
}

// decayDebt applies decayedDebt to the state.
func decayDebt(st *State, now uint64) {
	st.TotalDebt = decayedDebt(st, now)
	if now > st.LastDecayBlock {
		st.LastDecayBlock = now
	}
}

// debtRatio is debt over protocol supply, scaled by PricePrecision.
func debtRatio(debt, supply *big.Int) *big.Int {
	if supply == nil || supply.Sign() == 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(debt, PricePrecision)
	return ratio.Quo(ratio, supply)
}

// priceFor returns max(floor, minPrice, tav + tav*bcv*ratio/(1e4*1e9)).
func priceFor(st *State, tav, ratio *big.Int) *big.Int {
	premium := new(big.Int).Mul(tav, new(big.Int).SetUint64(st.Terms.ControlVariable))
	premium.Mul(premium, ratio)
	premium.Quo(premium, new(big.Int).Mul(basisPoints, PricePrecision))
	price := new(big.Int).Add(tav, premium)
	if st.Terms.MinPrice != nil && price.Cmp(st.Terms.MinPrice) < 0 {
		price.Set(st.Terms.MinPrice)
	}
	if st.FloorPrice != nil && price.Cmp(st.FloorPrice) < 0 {
		price.Set(st.FloorPrice)
	}
	return price
}

// bpsOf returns amount*bps/1e4, rounded down.
func bpsOf(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}
