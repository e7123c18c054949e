package domain

import (
	"github.com/shopspring/decimal"
)

// DefaultMaxPerOrder is the policy ceiling applied when the backend does not send one.
const DefaultMaxPerOrder = 5

type LineItem struct {
	ItemID            string           `json:"item_id"`
	Name              string           `json:"name,omitempty"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	OriginalUnitPrice *decimal.Decimal `json:"original_unit_price,omitempty"`
	Quantity          int              `json:"quantity"`
	StockAvailable    int              `json:"stock_available"`
	MaxPerOrder       int              `json:"max_per_order"`
}

// Snapshot is the authoritative cart as returned by a full read.
type Snapshot struct {
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type PatchResult struct {
	Success      bool   `json:"success"`
	UpdatedStock int    `json:"updated_stock"`
	Message      string `json:"message,omitempty"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Ceiling is the highest quantity the item may settle at.
func (i LineItem) Ceiling() int {
	if i.MaxPerOrder <= 0 {
		return i.StockAvailable
	}
	return min(i.StockAvailable, i.MaxPerOrder)
}

func (i LineItem) CanIncrement() bool {
	return i.StockAvailable > 0 && i.Quantity < i.Ceiling()
}

func (i LineItem) CanDecrement() bool {
	return i.Quantity > 1
}

func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Discounted reports whether the unit price is below the pre-discount reference.
func (i LineItem) Discounted() bool {
	return i.OriginalUnitPrice != nil && i.UnitPrice.LessThan(*i.OriginalUnitPrice)
}

type Availability string

const (
	Available    Availability = "available"
	OutOfStock   Availability = "out_of_stock"
	ExceedsStock Availability = "exceeds_stock"
)

func (i LineItem) Availability() Availability {
	switch {
	case i.StockAvailable == 0:
		return OutOfStock
	case i.Quantity > i.StockAvailable:
		return ExceedsStock
	default:
		return Available
	}
}
