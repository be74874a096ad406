package models

import (
	"github.com/shopspring/decimal"
)

// Totals is the derived monetary summary shared by carts and orders.
type Totals struct {
	TotalItems int
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
}

// ComputeTotals applies the shipping policy to a subtotal: free above the
// threshold, flat fee below. Tax is a flat zero for now.
func ComputeTotals(totalItems int, subtotal, freeThreshold, flatFee decimal.Decimal) Totals {
	shipping := flatFee
	if subtotal.GreaterThanOrEqual(freeThreshold) {
		shipping = decimal.Zero
	}

	tax := decimal.Zero

	return Totals{
		TotalItems: totalItems,
		Subtotal:   subtotal,
		Shipping:   shipping,
		Tax:        tax,
		Total:      subtotal.Add(shipping).Add(tax),
	}
}

// CartTotals recomputes a cart's derived fields from its items.
func CartTotals(items []CartItem, freeThreshold, flatFee decimal.Decimal) Totals {
	totalItems := 0
	subtotal := decimal.Zero

	for _, item := range items {
		totalItems += item.Quantity
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return ComputeTotals(totalItems, subtotal, freeThreshold, flatFee)
}
