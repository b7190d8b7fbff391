// Package arbitrage computes the cross-venue spread returns for one pair of
// quotes.
//
// Two combinations are tracked. The "no spread" buys No on outcome A at both
// venues; the "yes/no spread" buys Yes on outcome A at Polymarket and No on
// outcome A at Kalshi. For a cost c of one combination the reported return is
// (1-c)/c*100, rounded half away from zero to two decimal places.
package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const places = 2

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Compute returns both spread returns for the given Kalshi and Polymarket
// quotes. It fails with domain.ErrDivisionByZero when either combination
// costs exactly zero.
func Compute(kalshi, poly domain.QuotePair) (domain.Spreads, error) {
	noSpread, err := Return(poly.ANo, kalshi.ANo)
	if err != nil {
		return domain.Spreads{}, fmt.Errorf("arbitrage: no spread: %w", err)
	}
	yesNoSpread, err := Return(poly.AYes, kalshi.ANo)
	if err != nil {
		return domain.Spreads{}, fmt.Errorf("arbitrage: yes/no spread: %w", err)
	}
	return domain.Spreads{
		NoSpreadReturnPct:    noSpread,
		YesNoSpreadReturnPct: yesNoSpread,
	}, nil
}

// Return is the percent return of paying legA+legB for a contract pair that
// pays out 1.
func Return(legA, legB float64) (float64, error) {
	cost := decimal.NewFromFloat(legA).Add(decimal.NewFromFloat(legB))
	if cost.IsZero() {
		return 0, domain.ErrDivisionByZero
	}
	ret := one.Sub(cost).Mul(hundred).Div(cost).Round(places)
	return ret.InexactFloat64(), nil
}
