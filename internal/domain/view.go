package domain

import "github.com/shopspring/decimal"

// ItemView is a line item decorated with what a stepper control needs.
type ItemView struct {
	LineItem
	Pending      bool         `json:"pending"`
	CanIncrement bool         `json:"can_increment"`
	CanDecrement bool         `json:"can_decrement"`
	Availability Availability `json:"availability"`
}

// CartView is an immutable copy of the cart handed to the presentation layer.
// Version increases with every local mutation.
type CartView struct {
	Items    []ItemView      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Pending  int             `json:"pending"`
	Version  uint64          `json:"version"`
}

func NewItemView(item LineItem, pending bool) ItemView {
	return ItemView{
		LineItem:     item,
		Pending:      pending,
		CanIncrement: item.CanIncrement(),
		CanDecrement: item.CanDecrement(),
		Availability: item.Availability(),
	}
}

// Find returns the view of itemID, if present.
func (v CartView) Find(itemID string) (ItemView, bool) {
	for _, item := range v.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return ItemView{}, false
}
