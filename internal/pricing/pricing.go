// Package pricing implements the share-ratio outcome pricing model for
// binary prediction markets and the engine-wide rounding policy.
//
// The price of an outcome is its share of the outstanding total:
//
//	priceYes = totalYes / (totalYes + totalNo)
//	priceNo  = 1 - priceYes
//
// When no shares are outstanding on either side, both outcomes quote at
// 0.5 (no-liquidity convention). Prices always lie in [0, 1] and the two
// sides always sum to exactly 1.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
)

var (
	// ErrZeroPrice is returned when a buy targets an outcome whose quoted
	// price is zero (all outstanding liquidity on the other side). Share
	// count would be unbounded, so the trade is rejected up front.
	ErrZeroPrice = errors.New("pricing: outcome is priced at zero")

	// ErrNegativeTotals is returned when either share total is negative.
	ErrNegativeTotals = errors.New("pricing: share totals must be non-negative")
)

const (
	// CurrencyScale is the number of decimal places for USDC amounts.
	CurrencyScale int32 = 2

	// ShareScale is the number of decimal places for share counts.
	ShareScale int32 = 6

	// PriceScale is the number of decimal places for quoted prices.
	PriceScale int32 = 6
)

var half = decimal.NewFromFloat(0.5)

// Yes returns the YES price for the given share totals.
func Yes(totalYes, totalNo decimal.Decimal) decimal.Decimal {
	sum := totalYes.Add(totalNo)
	if sum.IsZero() {
		return half
	}
	return totalYes.Div(sum).Round(PriceScale)
}

// No returns the NO price for the given share totals.
func No(totalYes, totalNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(Yes(totalYes, totalNo))
}

// ForOutcome returns the price of the requested outcome.
func ForOutcome(outcome model.Outcome, totalYes, totalNo decimal.Decimal) decimal.Decimal {
	if outcome == model.OutcomeYes {
		return Yes(totalYes, totalNo)
	}
	return No(totalYes, totalNo)
}

// RoundCurrency applies the currency rounding policy (2 decimal places).
// Applied after every balance mutation so repeated trades cannot
// accumulate sub-cent drift.
func RoundCurrency(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(CurrencyScale)
}

// RoundShares applies the share rounding policy (6 decimal places).
func RoundShares(shares decimal.Decimal) decimal.Decimal {
	return shares.Round(ShareScale)
}

// SharesFor converts a USDC amount into shares at the given price.
// Rejects a zero price rather than dividing by it.
func SharesFor(amount, price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsZero() {
		return decimal.Zero, ErrZeroPrice
	}
	return RoundShares(amount.Div(price)), nil
}

// ProceedsFor converts a share count into USDC proceeds at the given price.
func ProceedsFor(shares, price decimal.Decimal) decimal.Decimal {
	return RoundCurrency(shares.Mul(price))
}

// Validate checks that share totals form a priceable market state.
func Validate(totalYes, totalNo decimal.Decimal) error {
	if totalYes.IsNegative() || totalNo.IsNegative() {
		return ErrNegativeTotals
	}
	return nil
}
