package treasury

import (
	"fmt"
	"math/big"
	"strings"
)

// Calculator values an amount of a reserve asset in protocol token base
// units. Implementations are pluggable and may be replaced at runtime.
type Calculator interface {
	ValueOf(asset string, amount *big.Int) (*big.Int, error)
}

type decimalSource interface {
	Decimals(asset string) (uint8, error)
}

type backingView interface {
	TotalReserves() (*big.Int, error)
	ProtocolSupply() (*big.Int, error)
}

// normalise rescales amount from the asset's decimals to the protocol
// token's decimals.
func normalise(tokens decimalSource, protocolAsset, asset string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("treasury: invalid amount")
	}
	from, err := tokens.Decimals(asset)
	if err != nil {
		return nil, err
	}
	to, err := tokens.Decimals(protocolAsset)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Set(amount)
	switch {
	case to > from:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	case from > to:
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	}
	return out, nil
}

// DecimalCalculator values every reserve one-to-one with the protocol token
// after rescaling between the two tokens' decimals.
type DecimalCalculator struct {
	tokens        decimalSource
	protocolAsset string
}

// NewDecimalCalculator constructs a one-to-one calculator.
func NewDecimalCalculator(tokens decimalSource, protocolAsset string) DecimalCalculator {
	return DecimalCalculator{tokens: tokens, protocolAsset: strings.ToUpper(strings.TrimSpace(protocolAsset))}
}

// ValueOf implements Calculator.
func (c DecimalCalculator) ValueOf(asset string, amount *big.Int) (*big.Int, error) {
	if c.tokens == nil {
		return nil, ErrNoCalculator
	}
	return normalise(c.tokens, c.protocolAsset, asset, amount)
}

// TAVCalculator is the default treasury oracle. It values reserves like
// DecimalCalculator and reports the treasury asset value (TAV) backing each
// protocol token.
type TAVCalculator struct {
	DecimalCalculator
	backing backingView
}

// NewTAVCalculator constructs the default treasury oracle.
func NewTAVCalculator(tokens decimalSource, protocolAsset string, backing backingView) *TAVCalculator {
	return &TAVCalculator{DecimalCalculator: NewDecimalCalculator(tokens, protocolAsset), backing: backing}
}

// TAV returns the reserve value backing one protocol token, scaled by
// PricePrecision. An empty supply is reported as fully backed.
func (c *TAVCalculator) TAV() (*big.Int, error) {
	if c == nil || c.backing == nil {
		return nil, ErrNoCalculator
	}
	reserves, err := c.backing.TotalReserves()
	if err != nil {
		return nil, err
	}
	supply, err := c.backing.ProtocolSupply()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return new(big.Int).Set(PricePrecision), nil
	}
	tav := new(big.Int).Mul(reserves, PricePrecision)
	return tav.Quo(tav, supply), nil
}

// FixedRateCalculator values an asset at a fixed rate, in PricePrecision
// units per whole protocol token, after decimal normalisation. Instances are
// bound to individual reserve tokens through the permission registry.
type FixedRateCalculator struct {
	DecimalCalculator
	rate *big.Int
}

// NewFixedRateCalculator constructs a calculator for a fixed conversion rate.
func NewFixedRateCalculator(tokens decimalSource, protocolAsset string, rate *big.Int) (*FixedRateCalculator, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("treasury: calculator rate must be positive")
	}
	return &FixedRateCalculator{
		DecimalCalculator: NewDecimalCalculator(tokens, protocolAsset),
		rate:              new(big.Int).Set(rate),
	}, nil
}

// ValueOf implements Calculator.
func (c *FixedRateCalculator) ValueOf(asset string, amount *big.Int) (*big.Int, error) {
	normalised, err := c.DecimalCalculator.ValueOf(asset, amount)
	if err != nil {
		return nil, err
	}
	normalised.Mul(normalised, c.rate)
	return normalised.Quo(normalised, PricePrecision), nil
}
