package core

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"bdnprotocol/core/ledger"
	"bdnprotocol/crypto"
	"bdnprotocol/native/bond"
	nativecommon "bdnprotocol/native/common"
	"bdnprotocol/native/permissions"
	"bdnprotocol/native/rewards"
	"bdnprotocol/native/staking"
	"bdnprotocol/native/treasury"
)

// Operations accepted by Execute.
const (
	OpPermissionsQueue  = "permissions.queue"
	OpPermissionsToggle = "permissions.toggle"

	OpTreasuryDeposit     = "treasury.deposit"
	OpTreasuryWithdraw    = "treasury.withdraw"
	OpTreasuryManage      = "treasury.manage"
	OpTreasuryMintRewards = "treasury.mintRewards"

	OpBondDeposit       = "bond.deposit"
	OpBondRedeem        = "bond.redeem"
	OpBondSetAdjustment = "bond.setAdjustment"
	OpBondSetFloorPrice = "bond.setFloorPrice"
	OpBondSetTerm       = "bond.setTerm"

	OpStakingStake   = "staking.stake"
	OpStakingUnstake = "staking.unstake"

	OpRewardsCompleteCycle = "rewards.completeCycle"
	OpRewardsClaim         = "rewards.claim"

	OpLedgerAdvance = "ledger.advance"
	OpLedgerMint    = "ledger.mint"
)

var (
	// ErrUnknownOp is returned for operations Execute does not dispatch.
	ErrUnknownOp = errors.New("protocol: unknown operation")
	// ErrInvalidRequest wraps malformed parameters.
	ErrInvalidRequest = errors.New("protocol: invalid request")
	// ErrGenesisOnly is returned by ledger.mint after the first block.
	ErrGenesisOnly = errors.New("protocol: operation only allowed at genesis")
)

// Request is a single state transition. Addresses are bech32 strings or
// @labels: @owner, @dao, @treasury, @bond, @distributor and @staking name the
// protocol accounts, any other label derives a fixture account.
type Request struct {
	Op     string            `yaml:"op" json:"op"`
	Caller string            `yaml:"caller,omitempty" json:"caller,omitempty"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ResolveAddress turns a request address into raw bytes.
func (p *Protocol) ResolveAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, nil
	}
	if !strings.HasPrefix(trimmed, "@") {
		addr, err := crypto.ParseRaw(trimmed)
		if err != nil {
			return [20]byte{}, fmt.Errorf("%w: address %q: %v", ErrInvalidRequest, raw, err)
		}
		return addr, nil
	}
	label := strings.ToLower(strings.TrimPrefix(trimmed, "@"))
	switch label {
	case "":
		return [20]byte{}, fmt.Errorf("%w: empty address label", ErrInvalidRequest)
	case "owner":
		return p.owner, nil
	case "dao":
		return p.dao, nil
	case "treasury":
		return TreasuryAddress, nil
	case "bond":
		return BondAddress, nil
	case "distributor":
		return DistributorAddress, nil
	case "staking":
		return StakingVault, nil
	default:
		return crypto.DeriveAddress(label), nil
	}
}

type params struct {
	p   *Protocol
	raw map[string]string
}

func (r params) get(name string) string {
	return strings.TrimSpace(r.raw[name])
}

func (r params) amount(name string) (*big.Int, error) {
	text := r.get(name)
	if text == "" {
		return nil, fmt.Errorf("%w: %s required", ErrInvalidRequest, name)
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidRequest, name, text)
	}
	return v, nil
}

func (r params) optionalAmount(name string) (*big.Int, error) {
	if r.get(name) == "" {
		return big.NewInt(0), nil
	}
	return r.amount(name)
}

func (r params) uint(name string, fallback uint64) (uint64, error) {
	text := r.get(name)
	if text == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
	}
	return v, nil
}

func (r params) bool(name string) (bool, error) {
	text := r.get(name)
	if text == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(text)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
	}
	return v, nil
}

func (r params) address(name string) ([20]byte, error) {
	return r.p.ResolveAddress(r.get(name))
}

func (r params) asset(name string) (string, error) {
	symbol := normalizeSymbol(r.get(name))
	if symbol == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidRequest, name)
	}
	return symbol, nil
}

// ErrorKind classifies err for metrics and client responses. Nil maps to the
// empty string.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, permissions.ErrPermissionDenied),
		errors.Is(err, permissions.ErrNotQueued),
		errors.Is(err, treasury.ErrUnauthorized),
		errors.Is(err, bond.ErrUnauthorized),
		errors.Is(err, rewards.ErrUnauthorized):
		return "permission_denied"
	case errors.Is(err, permissions.ErrNotReady):
		return "not_ready"
	case errors.Is(err, treasury.ErrExceedsBacking):
		return "exceeds_backing"
	case errors.Is(err, treasury.ErrInsufficientReserves):
		return "insufficient_reserves"
	case errors.Is(err, bond.ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, bond.ErrMaxDebtExceeded):
		return "max_debt_exceeded"
	case errors.Is(err, bond.ErrPayoutOutOfRange):
		return "payout_out_of_range"
	case errors.Is(err, rewards.ErrCycleNotClosed):
		return "cycle_not_closed"
	case errors.Is(err, rewards.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, treasury.ErrInsufficientBalance),
		errors.Is(err, bond.ErrInsufficientFunds),
		errors.Is(err, staking.ErrInsufficientStake),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_funds"
	case errors.Is(err, bond.ErrNoBond):
		return "not_found"
	case errors.Is(err, ErrUnknownOp), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, permissions.ErrInvalidCategory), errors.Is(err, bond.ErrInvalidTerms),
		errors.Is(err, bond.ErrAdjustmentTooLarge), errors.Is(err, ErrGenesisOnly):
		return "invalid_request"
	default:
		return "internal"
	}
}
