package core

import (
	"errors"
	"math/big"

	"bdnprotocol/crypto"
	"bdnprotocol/native/bond"
	"bdnprotocol/native/permissions"
	"bdnprotocol/native/rewards"
	"bdnprotocol/native/treasury"
)

// BondOverview summarises the bond market at the current block.
type BondOverview struct {
	Height      uint64          `json:"height"`
	Terms       bond.Terms      `json:"terms"`
	Price       *big.Int        `json:"price"`
	DebtRatio   *big.Int        `json:"debtRatio"`
	CurrentDebt *big.Int        `json:"currentDebt"`
	FloorPrice  *big.Int        `json:"floorPrice"`
	Adjustment  bond.Adjustment `json:"adjustment"`
}

// BondPosition is a user's bond with its vesting progress.
type BondPosition struct {
	Bond          *bond.UserBond `json:"bond"`
	Pending       *big.Int       `json:"pending"`
	PercentVested uint64         `json:"percentVestedBps"`
}

// TreasuryOverview summarises reserves and backing.
type TreasuryOverview struct {
	TotalReserves  *big.Int                   `json:"totalReserves"`
	ExcessReserves *big.Int                   `json:"excessReserves"`
	Supply         *big.Int                   `json:"supply"`
	TAV            *big.Int                   `json:"tav"`
	Reserves       []*treasury.ReserveAccount `json:"reserves"`
}

// ClaimView is a user's entitlement for one cycle.
type ClaimView struct {
	Cycle   uint64   `json:"cycle"`
	Staked  *big.Int `json:"staked"`
	Pending *big.Int `json:"pending"`
}

// Bond returns the market overview.
func (p *Protocol) Bond() (*BondOverview, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.bond.State()
	if err != nil {
		return nil, err
	}
	price, err := p.bond.BondPrice()
	if err != nil {
		return nil, err
	}
	ratio, err := p.bond.DebtRatio()
	if err != nil {
		return nil, err
	}
	debt, err := p.bond.CurrentDebt()
	if err != nil {
		return nil, err
	}
	return &BondOverview{
		Height:      p.ledger.CurrentBlock(),
		Terms:       st.Terms,
		Price:       price,
		DebtRatio:   ratio,
		CurrentDebt: debt,
		FloorPrice:  st.FloorPrice,
		Adjustment:  st.Adjustment,
	}, nil
}

// BondPosition returns addr's bond. It fails with bond.ErrNoBond when addr
// holds none.
func (p *Protocol) BondPosition(addr [20]byte) (*BondPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	position, err := p.bond.BondInfo(addr)
	if err != nil {
		return nil, err
	}
	pending, err := p.bond.PendingPayoutFor(addr)
	if err != nil {
		return nil, err
	}
	vested, err := p.bond.PercentVestedFor(addr)
	if err != nil {
		return nil, err
	}
	return &BondPosition{Bond: position, Pending: pending, PercentVested: vested}, nil
}

// Treasury returns the reserve overview.
func (p *Protocol) Treasury() (*TreasuryOverview, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, err := p.treasury.TotalReserves()
	if err != nil {
		return nil, err
	}
	excess, err := p.treasury.ExcessReserves()
	if err != nil {
		return nil, err
	}
	supply, err := p.treasury.ProtocolSupply()
	if err != nil {
		return nil, err
	}
	tav, err := p.treasury.TAV()
	if err != nil {
		return nil, err
	}
	reserves, err := p.treasury.Reserves()
	if err != nil {
		return nil, err
	}
	return &TreasuryOverview{
		TotalReserves:  total,
		ExcessReserves: excess,
		Supply:         supply,
		TAV:            tav,
		Reserves:       reserves,
	}, nil
}

// RewardCycle returns cycle n. The open cycle reports its running total.
func (p *Protocol) RewardCycle(n uint64) (*rewards.Cycle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewards.Cycle(n)
}

// CurrentRewardCycle returns the number of the open cycle.
func (p *Protocol) CurrentRewardCycle() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewards.CurrentRewardCycle()
}

// Claim returns user's stake and unclaimed reward for cycle.
func (p *Protocol) Claim(user [20]byte, cycle uint64) (*ClaimView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	staked, err := p.rewards.GetTotalStakedBdnOfUserForACycle(user, cycle)
	if err != nil {
		return nil, err
	}
	view := &ClaimView{Cycle: cycle, Staked: staked, Pending: big.NewInt(0)}
	pending, err := p.rewards.PendingRewardsForACycle(user, cycle)
	switch {
	case errors.Is(err, rewards.ErrCycleNotClosed), errors.Is(err, rewards.ErrAlreadyClaimed):
	case err != nil:
		return nil, err
	default:
		view.Pending = pending
	}
	return view, nil
}

// Permission returns the registry entry for (category, addr).
func (p *Protocol) Permission(category permissions.Category, addr [20]byte) (*permissions.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perms.Entry(category, addr)
}

// Balance returns addr's balance of asset.
func (p *Protocol) Balance(asset string, addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.BalanceOf(asset, addr)
}

// Staked returns addr's staked protocol tokens.
func (p *Protocol) Staked(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staking.StakedBalance(addr)
}

// AssetAddress exposes the permission identity of a token symbol.
func AssetAddress(symbol string) [20]byte {
	return crypto.AssetAddress(symbol)
}
