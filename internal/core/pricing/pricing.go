// Package pricing holds the side-effect free price rules: bulk quantity
// tiers, subscription discounts, shipping and cart totals. Amounts are whole
// currency units (kr); intermediate math is decimal and only totals are
// rounded, half away from zero.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

const (
	MinimumBulkUnits           = 20
	FreeShippingThreshold      = int64(300)
	StandardShipping           = int64(49)
	SubscriptionMonthlyMinimum = int64(500)
	EcoAddOn                   = int64(20)
)

// Tier unlocks Discount once an order reaches MinQuantity units.
type Tier struct {
	MinQuantity int
	Discount    decimal.Decimal
}

// BulkTiers is ordered highest threshold first; the first match wins.
var BulkTiers = []Tier{
	{MinQuantity: 1000, Discount: decimal.RequireFromString("0.35")},
	{MinQuantity: 500, Discount: decimal.RequireFromString("0.20")},
	{MinQuantity: 100, Discount: decimal.RequireFromString("0.10")},
	{MinQuantity: 20, Discount: decimal.RequireFromString("0.05")},
}

func BulkDiscount(units int) decimal.Decimal {
	for _, t := range BulkTiers {
		if units >= t.MinQuantity {
			return t.Discount
		}
	}
	return decimal.Zero
}

func BelowMinimum(units int) bool {
	return units < MinimumBulkUnits
}

// ShippingCost is free from the threshold upwards, inclusive.
func ShippingCost(subtotal int64) int64 {
	if subtotal >= FreeShippingThreshold {
		return 0
	}
	return StandardShipping
}

// Line is one priced row of a quote.
type Line struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func (l Line) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type BulkResult struct {
	Lines            []Line          `json:"lines"`
	TotalUnits       int             `json:"total_units"`
	Subtotal         int64           `json:"subtotal"`
	DiscountFraction decimal.Decimal `json:"discount_fraction"`
	DiscountPercent  int64           `json:"discount_percent"`
	Discount         int64           `json:"discount"`
	Total            int64           `json:"total"`
	BelowMinimum     bool            `json:"below_minimum"`
}

// BulkQuote prices the rows of the bulk calculator. Rows with no quantity
// are left out of Lines but do not affect anything else.
func BulkQuote(lines []Line) BulkResult {
	res := BulkResult{Lines: []Line{}}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		res.Lines = append(res.Lines, l)
		res.TotalUnits += l.Quantity
		res.Subtotal += l.Total()
	}

	res.DiscountFraction = BulkDiscount(res.TotalUnits)
	res.DiscountPercent = percent(res.DiscountFraction)
	res.BelowMinimum = BelowMinimum(res.TotalUnits)

	subtotal := decimal.NewFromInt(res.Subtotal)
	total := subtotal.Mul(decimal.NewFromInt(1).Sub(res.DiscountFraction))
	res.Total = round(total)
	res.Discount = res.Subtotal - res.Total
	return res
}

type CartResult struct {
	TotalUnits       int             `json:"total_units"`
	Subtotal         int64           `json:"subtotal"`
	DiscountFraction decimal.Decimal `json:"discount_fraction"`
	DiscountPercent  int64           `json:"discount_percent"`
	Discount         int64           `json:"discount"`
	DiscountedTotal  int64           `json:"discounted_total"`
	Shipping         int64           `json:"shipping"`
	FreeShipping     bool            `json:"free_shipping"`
	RemainingForFree int64           `json:"remaining_for_free_shipping"`
	ShippingProgress int64           `json:"shipping_progress"`
	Total            int64           `json:"total"`
}

// CartQuote applies the bulk tier to the whole cart. Shipping is judged on
// the item subtotal before discount; an empty cart ships nothing.
func CartQuote(c domain.Cart) CartResult {
	res := CartResult{
		TotalUnits: c.TotalUnits(),
		Subtotal:   c.Subtotal(),
	}

	res.DiscountFraction = BulkDiscount(res.TotalUnits)
	res.DiscountPercent = percent(res.DiscountFraction)
	discounted := decimal.NewFromInt(res.Subtotal).Mul(decimal.NewFromInt(1).Sub(res.DiscountFraction))
	res.DiscountedTotal = round(discounted)
	res.Discount = res.Subtotal - res.DiscountedTotal

	if !c.IsEmpty() {
		res.Shipping = ShippingCost(res.Subtotal)
	}
	res.FreeShipping = res.Subtotal >= FreeShippingThreshold
	if !res.FreeShipping {
		res.RemainingForFree = FreeShippingThreshold - res.Subtotal
	}
	res.ShippingProgress = min(res.Subtotal*100/FreeShippingThreshold, 100)
	res.Total = res.DiscountedTotal + res.Shipping
	return res
}

func percent(fraction decimal.Decimal) int64 {
	return fraction.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
