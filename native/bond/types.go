package bond

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// MinVestingTerm is the shortest vesting period, in blocks, a bond may use.
	MinVestingTerm uint64 = 10
	// MaxFeeBps caps the sum of the DAO fee and the reward fee.
	MaxFeeBps uint64 = 10_000
)

var (
	// PricePrecision scales prices and debt ratios: PricePrecision is one
	// reserve-value unit per protocol token.
	PricePrecision = big.NewInt(1_000_000_000)
	basisPoints    = big.NewInt(10_000)
)

// Terms are the owner-set parameters of the bond market.
type Terms struct {
	ControlVariable uint64   `json:"controlVariable"`
	MinPrice        *big.Int `json:"minPrice"`
	MaxPayout       *big.Int `json:"maxPayout"`
	MinPayout       *big.Int `json:"minPayout"`
	FeeBps          uint64   `json:"feeBps"`
	RewardFeeBps    uint64   `json:"rewardFeeBps"`
	MaxDebt         *big.Int `json:"maxDebt"`
	VestingTerm     uint64   `json:"vestingTerm"`
}

// Validate checks the terms for internal consistency.
func (t Terms) Validate() error {
	if t.ControlVariable == 0 {
		return fmt.Errorf("%w: control variable must be positive", ErrInvalidTerms)
	}
	if t.VestingTerm < MinVestingTerm {
		return fmt.Errorf("%w: vesting term %d below minimum %d", ErrInvalidTerms, t.VestingTerm, MinVestingTerm)
	}
	if t.MinPrice != nil && t.MinPrice.Sign() < 0 {
		return fmt.Errorf("%w: min price must not be negative", ErrInvalidTerms)
	}
	if t.MaxPayout == nil || t.MaxPayout.Sign() <= 0 {
		return fmt.Errorf("%w: max payout must be positive", ErrInvalidTerms)
	}
	if t.MinPayout != nil && (t.MinPayout.Sign() < 0 || t.MinPayout.Cmp(t.MaxPayout) > 0) {
		return fmt.Errorf("%w: min payout must be within [0, max payout]", ErrInvalidTerms)
	}
	if t.FeeBps+t.RewardFeeBps > MaxFeeBps {
		return fmt.Errorf("%w: fees exceed %d bps", ErrInvalidTerms, MaxFeeBps)
	}
	if t.MaxDebt == nil || t.MaxDebt.Sign() <= 0 {
		return fmt.Errorf("%w: max debt must be positive", ErrInvalidTerms)
	}
	return nil
}

func (t Terms) clone() Terms {
	out := t
	out.MinPrice = copyBigInt(t.MinPrice)
	out.MaxPayout = copyBigInt(t.MaxPayout)
	out.MinPayout = copyBigInt(t.MinPayout)
	out.MaxDebt = copyBigInt(t.MaxDebt)
	return out
}

// Adjustment schedules stepwise moves of the control variable toward Target.
type Adjustment struct {
	Active    bool   `json:"active"`
	Rate      uint64 `json:"rate"`
	Target    uint64 `json:"target"`
	Buffer    uint64 `json:"buffer"`
	LastBlock uint64 `json:"lastBlock"`
}

// State is the persisted market state.
type State struct {
	Terms          Terms
	TotalDebt      *big.Int
	LastDecayBlock uint64
	Adjustment     Adjustment
	FloorPrice     *big.Int
	Initialized    bool
}

// Clone produces a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Terms = s.Terms.clone()
	out.TotalDebt = copyBigInt(s.TotalDebt)
	out.FloorPrice = copyBigInt(s.FloorPrice)
	return &out
}

// UserBond is one depositor's vesting position.
type UserBond struct {
	Payout            *big.Int `json:"payout"`
	VestingEndBlock   uint64   `json:"vestingEndBlock"`
	PricePaid         *big.Int `json:"pricePaid"`
	LastWithdrawBlock uint64   `json:"lastWithdrawBlock"`
}

// Parameter names a term adjustable after initialisation.
type Parameter uint8

const (
	ParamVesting Parameter = iota
	ParamMaxPayout
	ParamMinPayout
	ParamFee
	ParamRewardFee
	ParamMaxDebt
	ParamMinPrice
)

var parameterNames = map[Parameter]string{
	ParamVesting:   "vesting",
	ParamMaxPayout: "maxPayout",
	ParamMinPayout: "minPayout",
	ParamFee:       "fee",
	ParamRewardFee: "rewardFee",
	ParamMaxDebt:   "maxDebt",
	ParamMinPrice:  "minPrice",
}

func (p Parameter) String() string {
	if name, ok := parameterNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Parameter(%d)", uint8(p))
}

// ParseParameter resolves a parameter by name, case-insensitively.
func ParseParameter(raw string) (Parameter, error) {
	trimmed := strings.TrimSpace(raw)
	for p, name := range parameterNames {
		if strings.EqualFold(name, trimmed) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter %q", ErrInvalidTerms, raw)
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
