package core

import (
	"fmt"
	"strconv"
	"strings"

	"bdnprotocol/crypto"
	"bdnprotocol/native/bond"
	"bdnprotocol/native/permissions"
)

type handler func(p *Protocol, caller [20]byte, args params) (map[string]string, error)

var handlers = map[string]handler{
	OpPermissionsQueue:     (*Protocol).permissionsQueue,
	OpPermissionsToggle:    (*Protocol).permissionsToggle,
	OpTreasuryDeposit:      (*Protocol).treasuryDeposit,
	OpTreasuryWithdraw:     (*Protocol).treasuryWithdraw,
	OpTreasuryManage:       (*Protocol).treasuryManage,
	OpTreasuryMintRewards:  (*Protocol).treasuryMintRewards,
	OpBondDeposit:          (*Protocol).bondDeposit,
	OpBondRedeem:           (*Protocol).bondRedeem,
	OpBondSetAdjustment:    (*Protocol).bondSetAdjustment,
	OpBondSetFloorPrice:    (*Protocol).bondSetFloorPrice,
	OpBondSetTerm:          (*Protocol).bondSetTerm,
	OpStakingStake:         (*Protocol).stakingStake,
	OpStakingUnstake:       (*Protocol).stakingUnstake,
	OpRewardsCompleteCycle: (*Protocol).rewardsCompleteCycle,
	OpRewardsClaim:         (*Protocol).rewardsClaim,
	OpLedgerMint:           (*Protocol).ledgerMint,
}

// apply runs req. Block advancement commits the trie and is therefore kept
// outside the snapshot that guards every other operation.
func (p *Protocol) apply(req Request) (map[string]string, error) {
	op := strings.TrimSpace(req.Op)
	caller, err := p.ResolveAddress(req.Caller)
	if err != nil {
		return nil, err
	}
	args := params{p: p, raw: req.Params}
	if op == OpLedgerAdvance {
		return p.ledgerAdvance(args)
	}
	h, ok := handlers[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
	var result map[string]string
	err = p.ledger.Atomic(func() error {
		var err error
		result, err = h(p, caller, args)
		return err
	})
	return result, err
}

func (p *Protocol) ledgerAdvance(args params) (map[string]string, error) {
	n, err := args.uint("blocks", 1)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: blocks must be positive", ErrInvalidRequest)
	}
	root, err := p.ledger.AdvanceBlocks(n)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"height":    strconv.FormatUint(p.ledger.CurrentBlock(), 10),
		"committed": root.Hex(),
	}, nil
}

func (p *Protocol) ledgerMint(_ [20]byte, args params) (map[string]string, error) {
	if p.ledger.CurrentBlock() != 0 {
		return nil, ErrGenesisOnly
	}
	asset, err := args.asset("asset")
	if err != nil {
		return nil, err
	}
	recipient, err := args.address("recipient")
	if err != nil {
		return nil, err
	}
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	if asset == p.cfg.ProtocolToken.Symbol {
		return nil, fmt.Errorf("%w: %s is minted only by the treasury", ErrInvalidRequest, asset)
	}
	if err := p.ledger.Mint(asset, recipient, amount); err != nil {
		return nil, err
	}
	return nil, nil
}

// permissionTarget resolves the address a permission request applies to.
// Reserve tokens may be named by symbol through the asset parameter.
func permissionTarget(args params) (permissions.Category, [20]byte, error) {
	category, err := permissions.ParseCategory(args.get("category"))
	if err != nil {
		return 0, [20]byte{}, err
	}
	if symbol := args.get("asset"); symbol != "" {
		return category, crypto.AssetAddress(symbol), nil
	}
	addr, err := args.address("address")
	return category, addr, err
}

func entryResult(entry *permissions.Entry, timelock uint64) map[string]string {
	return map[string]string{
		"status":  entry.Status.String(),
		"readyAt": strconv.FormatUint(entry.ReadyAt(timelock), 10),
	}
}

func (p *Protocol) permissionsQueue(caller [20]byte, args params) (map[string]string, error) {
	category, addr, err := permissionTarget(args)
	if err != nil {
		return nil, err
	}
	entry, err := p.perms.Queue(caller, category, addr)
	if err != nil {
		return nil, err
	}
	return entryResult(entry, p.perms.Timelock()), nil
}

func (p *Protocol) permissionsToggle(caller [20]byte, args params) (map[string]string, error) {
	category, addr, err := permissionTarget(args)
	if err != nil {
		return nil, err
	}
	calc, err := args.address("calculator")
	if err != nil {
		return nil, err
	}
	entry, err := p.perms.Toggle(caller, category, addr, calc)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": entry.Status.String()}, nil
}

func (p *Protocol) treasuryDeposit(caller [20]byte, args params) (map[string]string, error) {
	asset, err := args.asset("asset")
	if err != nil {
		return nil, err
	}
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	mint, err := args.optionalAmount("mint")
	if err != nil {
		return nil, err
	}
	profit, err := p.treasury.Deposit(caller, amount, asset, mint)
	if err != nil {
		return nil, err
	}
	return map[string]string{"profit": profit.String()}, nil
}

func (p *Protocol) treasuryWithdraw(caller [20]byte, args params) (map[string]string, error) {
	asset, err := args.asset("asset")
	if err != nil {
		return nil, err
	}
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	return nil, p.treasury.Withdraw(caller, amount, asset)
}

func (p *Protocol) treasuryManage(caller [20]byte, args params) (map[string]string, error) {
	asset, err := args.asset("asset")
	if err != nil {
		return nil, err
	}
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	recipient, err := args.address("recipient")
	if err != nil {
		return nil, err
	}
	return nil, p.treasury.Manage(caller, amount, asset, recipient)
}

func (p *Protocol) treasuryMintRewards(caller [20]byte, args params) (map[string]string, error) {
	recipient, err := args.address("recipient")
	if err != nil {
		return nil, err
	}
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	return nil, p.treasury.MintRewards(caller, recipient, amount)
}

func (p *Protocol) bondDeposit(caller [20]byte, args params) (map[string]string, error) {
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	maxPrice, err := args.amount("maxPrice")
	if err != nil {
		return nil, err
	}
	depositor, err := args.address("depositor")
	if err != nil {
		return nil, err
	}
	if depositor == ([20]byte{}) {
		depositor = caller
	}
	payout, err := p.bond.Deposit(caller, amount, maxPrice, depositor)
	if err != nil {
		return nil, err
	}
	return map[string]string{"payout": payout.String()}, nil
}

func (p *Protocol) bondRedeem(caller [20]byte, args params) (map[string]string, error) {
	recipient, err := args.address("recipient")
	if err != nil {
		return nil, err
	}
	if recipient == ([20]byte{}) {
		recipient = caller
	}
	stake, err := args.bool("stake")
	if err != nil {
		return nil, err
	}
	released, err := p.bond.Redeem(recipient, stake)
	if err != nil {
		return nil, err
	}
	return map[string]string{"released": released.String()}, nil
}

func (p *Protocol) bondSetAdjustment(caller [20]byte, args params) (map[string]string, error) {
	active, err := args.bool("active")
	if err != nil {
		return nil, err
	}
	values := make(map[string]uint64, 4)
	for _, name := range []string{"rate", "target", "buffer", "lastBlock"} {
		v, err := args.uint(name, 0)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}
	return nil, p.bond.SetAdjustment(caller, active, values["rate"], values["target"], values["buffer"], values["lastBlock"])
}

func (p *Protocol) bondSetFloorPrice(caller [20]byte, args params) (map[string]string, error) {
	value, err := args.amount("value")
	if err != nil {
		return nil, err
	}
	return nil, p.bond.SetFloorPriceValue(caller, value)
}

func (p *Protocol) bondSetTerm(caller [20]byte, args params) (map[string]string, error) {
	param, err := bond.ParseParameter(args.get("param"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	value, err := args.amount("value")
	if err != nil {
		return nil, err
	}
	return nil, p.bond.SetBondTerm(caller, param, value)
}

func (p *Protocol) stakingStake(caller [20]byte, args params) (map[string]string, error) {
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	recipient, err := args.address("recipient")
	if err != nil {
		return nil, err
	}
	return nil, p.staking.Stake(caller, recipient, amount)
}

func (p *Protocol) stakingUnstake(caller [20]byte, args params) (map[string]string, error) {
	amount, err := args.amount("amount")
	if err != nil {
		return nil, err
	}
	return nil, p.staking.Unstake(caller, amount)
}

func (p *Protocol) rewardsCompleteCycle(caller [20]byte, args params) (map[string]string, error) {
	amount, err := args.optionalAmount("amount")
	if err != nil {
		return nil, err
	}
	closed, err := p.rewards.CompleteRewardCycle(caller, amount)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"cycle":       strconv.FormatUint(closed.Number, 10),
		"totalStaked": closed.TotalStaked.String(),
	}, nil
}

func (p *Protocol) rewardsClaim(caller [20]byte, args params) (map[string]string, error) {
	cycle, err := args.uint("cycle", 0)
	if err != nil {
		return nil, err
	}
	if cycle == 0 {
		return nil, fmt.Errorf("%w: cycle required", ErrInvalidRequest)
	}
	paid, err := p.rewards.RewardsForACycle(caller, cycle)
	if err != nil {
		return nil, err
	}
	return map[string]string{"paid": paid.String()}, nil
}
