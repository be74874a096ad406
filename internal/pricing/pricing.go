// Package pricing resolves the effective unit price of a product under the
// currently active promotions. It is pure: callers load promotions once per
// order and pass them in.
package pricing

import (
	"slices"
	"time"

	"github.com/lecas/commerce/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Result carries the resolved unit price and, when a promotion applied, its id.
type Result struct {
	Price       decimal.Decimal
	PromotionID *int64
}

var oneHundred = decimal.NewFromInt(100)

// Resolve picks the applicable promotion for the product, if any, and returns
// the discounted price. When several promotions match, the largest discount
// wins; ties break on earliest start, then lowest id, so the outcome does not
// depend on the order promotions were loaded in.
func Resolve(product models.Product, promotions []models.Promotion, now time.Time) Result {
	eligible := lo.Filter(promotions, func(p models.Promotion, _ int) bool {
		return applicable(p, product.ID, now)
	})

	if len(eligible) == 0 {
		return Result{Price: product.Price}
	}

	best := lo.MaxBy(eligible, func(a, b models.Promotion) bool {
		da, db := discount(a, product.Price), discount(b, product.Price)
		if !da.Equal(db) {
			return da.GreaterThan(db)
		}
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.ID < b.ID
	})

	price := product.Price.Sub(discount(best, product.Price))

	return Result{
		Price:       price,
		PromotionID: lo.ToPtr(best.ID),
	}
}

func applicable(p models.Promotion, productID int64, now time.Time) bool {
	if !p.IsActive || now.Before(p.StartsAt) || now.After(p.EndsAt) {
		return false
	}
	return slices.Contains(p.ProductIDs, productID)
}

// discount is clamped so the resulting price never goes negative.
func discount(p models.Promotion, price decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal

	switch p.DiscountType {
	case models.DiscountPercent:
		d = price.Mul(p.DiscountValue).Div(oneHundred)
	case models.DiscountAmount:
		d = p.DiscountValue
	default:
		return decimal.Zero
	}

	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(price) {
		return price
	}
	return d
}
