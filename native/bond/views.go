package bond

import "math/big"

// State returns the persisted market state without applying decay.
func (e *Engine) State() (*State, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadState()
}

// Terms returns the market terms.
func (e *Engine) Terms() (Terms, error) {
	st, err := e.State()
	if err != nil {
		return Terms{}, err
	}
	return st.Terms, nil
}

// CurrentDebt returns total debt decayed to the current block.
func (e *Engine) CurrentDebt() (*big.Int, error) {
	st, err := e.State()
	if err != nil {
		return nil, err
	}
	return decayedDebt(st, e.ledger.CurrentBlock()), nil
}

func (e *Engine) decayedView() (*State, error) {
	st, err := e.loadInitialized()
	if err != nil {
		return nil, err
	}
	decayDebt(st, e.ledger.CurrentBlock())
	return st, nil
}

// DebtRatio returns current debt over protocol supply, scaled by
// PricePrecision.
func (e *Engine) DebtRatio() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	st, err := e.decayedView()
	if err != nil {
		return nil, err
	}
	supply, err := e.ledger.TotalSupply(e.protocolAsset)
	if err != nil {
		return nil, err
	}
	return debtRatio(st.TotalDebt, supply), nil
}

// BondPrice returns the price a deposit would pay at the current block.
func (e *Engine) BondPrice() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	st, err := e.decayedView()
	if err != nil {
		return nil, err
	}
	price, _, err := e.quote(st)
	return price, err
}

// BondInfo returns the position held by addr.
func (e *Engine) BondInfo(addr [20]byte) (*UserBond, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	position, ok, err := e.loadBond(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoBond
	}
	return position, nil
}

// PendingPayoutFor returns what Redeem would release for addr now.
func (e *Engine) PendingPayoutFor(addr [20]byte) (*big.Int, error) {
	position, err := e.BondInfo(addr)
	if err != nil {
		return nil, err
	}
	released, _ := vestedPayout(position, e.ledger.CurrentBlock())
	return released, nil
}

// PercentVestedFor returns vesting progress in basis points.
func (e *Engine) PercentVestedFor(addr [20]byte) (uint64, error) {
	position, err := e.BondInfo(addr)
	if err != nil {
		return 0, err
	}
	return percentVested(position, e.ledger.CurrentBlock()), nil
}
