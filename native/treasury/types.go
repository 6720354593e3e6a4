package treasury

import "math/big"

// PricePrecision is the fixed-point scale for rates and per-token values:
// PricePrecision represents 1 reserve-value unit per protocol token.
var PricePrecision = big.NewInt(1_000_000_000)

// ReserveAccount tracks the custody and backing for one reserve asset.
//
// TotalValueBacked never exceeds the value of TotalDeposited.
type ReserveAccount struct {
	Asset            string   `json:"asset"`
	TotalDeposited   *big.Int `json:"totalDeposited"`
	TotalValueBacked *big.Int `json:"totalValueBacked"`
}

// Totals aggregates the value-denominated reserve figures across assets.
type Totals struct {
	TotalReserves *big.Int
	Assets        []string
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
