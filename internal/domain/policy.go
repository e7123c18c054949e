package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Clamp bounds a requested quantity to [1, min(stockAvailable, maxPerOrder)].
// The floor of 1 wins over an empty stock so the value is always displayable;
// callers must refuse increments themselves when stockAvailable is 0.
// A maxPerOrder <= 0 disables the policy ceiling.
func Clamp(requested, stockAvailable, maxPerOrder int) int {
	ceiling := stockAvailable
	if maxPerOrder > 0 {
		ceiling = min(ceiling, maxPerOrder)
	}
	return max(1, min(requested, ceiling))
}

// AddQuantity returns quantity+delta, saturating at the int range instead of
// wrapping around.
func AddQuantity(quantity, delta int) int {
	switch {
	case delta > 0 && quantity > math.MaxInt-delta:
		return math.MaxInt
	case delta < 0 && quantity < math.MinInt-delta:
		return math.MinInt
	}
	return quantity + delta
}

// Subtotal sums unit price times quantity over items. UnitPrice already
// carries any active discount.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}
