package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

func TestBulkDiscount_Boundaries(t *testing.T) {
	tests := []struct {
		units int
		want  string
	}{
		{0, "0"},
		{19, "0"},
		{20, "0.05"},
		{99, "0.05"},
		{100, "0.1"},
		{499, "0.1"},
		{500, "0.2"},
		{999, "0.2"},
		{1000, "0.35"},
		{25000, "0.35"},
	}

	for _, tt := range tests {
		got := BulkDiscount(tt.units)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("BulkDiscount(%d) = %s, want %s", tt.units, got, tt.want)
		}
	}
}

func TestBulkDiscount_MonotonicAndFromTable(t *testing.T) {
	allowed := []decimal.Decimal{decimal.Zero}
	for _, tier := range BulkTiers {
		allowed = append(allowed, tier.Discount)
	}

	prev := decimal.Zero
	for q := 0; q <= 1200; q++ {
		got := BulkDiscount(q)
		if got.LessThan(prev) {
			t.Fatalf("discount decreased at %d: %s < %s", q, got, prev)
		}
		found := false
		for _, a := range allowed {
			if got.Equal(a) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("unexpected discount %s at %d", got, q)
		}
		prev = got
	}
}

func TestBelowMinimum(t *testing.T) {
	if !BelowMinimum(19) {
		t.Error("19 units should be below minimum")
	}
	if BelowMinimum(20) {
		t.Error("20 units should meet the minimum")
	}
}

func TestShippingCost_Boundary(t *testing.T) {
	if got := ShippingCost(300); got != 0 {
		t.Errorf("ShippingCost(300) = %d, want 0", got)
	}
	if got := ShippingCost(299); got != 49 {
		t.Errorf("ShippingCost(299) = %d, want 49", got)
	}
}

func TestCartQuote_BulkTierApplied(t *testing.T) {
	cart := domain.Cart{Items: []domain.CartItem{
		{Key: "p80", Name: "Roll 80mm", Price: 100, Unit: domain.UnitBox, Quantity: 25},
	}}

	q := CartQuote(cart)

	if q.TotalUnits != 25 {
		t.Errorf("expected 25 units, got %d", q.TotalUnits)
	}
	if q.DiscountPercent != 5 {
		t.Errorf("expected 5%% discount, got %d", q.DiscountPercent)
	}
	if q.DiscountedTotal != 2375 {
		t.Errorf("expected discounted total 2375, got %d", q.DiscountedTotal)
	}
	if q.Shipping != 0 {
		t.Errorf("expected free shipping, got %d", q.Shipping)
	}
	if q.Total != 2375 {
		t.Errorf("expected total 2375, got %d", q.Total)
	}
}

func TestCartQuote_SmallCartPaysShipping(t *testing.T) {
	cart := domain.Cart{Items: []domain.CartItem{
		{Key: "p57", Name: "Roll 57mm", Price: 100, Unit: domain.UnitBox, Quantity: 2},
	}}

	q := CartQuote(cart)

	if q.Discount != 0 {
		t.Errorf("expected no discount, got %d", q.Discount)
	}
	if q.Shipping != 49 {
		t.Errorf("expected shipping 49, got %d", q.Shipping)
	}
	if q.Total != 249 {
		t.Errorf("expected total 249, got %d", q.Total)
	}
	if q.RemainingForFree != 100 {
		t.Errorf("expected 100 remaining, got %d", q.RemainingForFree)
	}
	if q.ShippingProgress != 66 {
		t.Errorf("expected progress 66, got %d", q.ShippingProgress)
	}
}

func TestCartQuote_EmptyCart(t *testing.T) {
	q := CartQuote(domain.Cart{})

	if q.Shipping != 0 || q.Total != 0 {
		t.Errorf("expected zero totals for empty cart, got shipping=%d total=%d", q.Shipping, q.Total)
	}
	if q.RemainingForFree != FreeShippingThreshold {
		t.Errorf("expected %d remaining, got %d", FreeShippingThreshold, q.RemainingForFree)
	}
}

func TestBulkQuote_Rounding(t *testing.T) {
	q := BulkQuote([]Line{
		{ID: "a", Name: "A", UnitPrice: 33, Quantity: 21},
		{ID: "b", Name: "B", UnitPrice: 50, Quantity: 0},
	})

	if len(q.Lines) != 1 {
		t.Fatalf("expected 1 quoted line, got %d", len(q.Lines))
	}
	if q.Subtotal != 693 {
		t.Errorf("expected subtotal 693, got %d", q.Subtotal)
	}
	// 693 * 0.95 = 658.35
	if q.Total != 658 {
		t.Errorf("expected total 658, got %d", q.Total)
	}
	if q.Discount != 35 {
		t.Errorf("expected discount 35, got %d", q.Discount)
	}
	if q.BelowMinimum {
		t.Error("21 units should not be below minimum")
	}
}

func TestBulkQuote_BelowMinimum(t *testing.T) {
	q := BulkQuote([]Line{{ID: "a", UnitPrice: 100, Quantity: 5}})

	if !q.BelowMinimum {
		t.Error("expected below minimum flag")
	}
	if q.Total != 500 {
		t.Errorf("expected undiscounted total 500, got %d", q.Total)
	}
}

func TestSubscriptionTotal(t *testing.T) {
	lines := func(first int) []SubscriptionLine {
		return []SubscriptionLine{
			{ID: "p80", UnitPrice: 200, Quality: QualityStandard, Quantity: first},
			{ID: "p57", UnitPrice: 150, Quality: QualityBPAFree, Quantity: 1},
		}
	}

	tests := []struct {
		name     string
		lines    []SubscriptionLine
		freq     Frequency
		subtotal int64
		total    int64
		perMonth int64
		accepted bool
		reason   RejectReason
	}{
		{"below monthly minimum", lines(2), DefaultFrequency, 570, 485, 485, false, RejectBelowMinimum},
		{"monthly accepted", lines(3), DefaultFrequency, 770, 655, 655, true, RejectNone},
		{"quarterly spread too thin", lines(3), DefaultFrequencies[2], 770, 732, 244, false, RejectBelowMinimum},
		{"nothing selected", nil, DefaultFrequency, 0, 0, 0, false, RejectEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubscriptionTotal(tt.lines, tt.freq)
			if got.Subtotal != tt.subtotal {
				t.Errorf("subtotal = %d, want %d", got.Subtotal, tt.subtotal)
			}
			if got.Total != tt.total {
				t.Errorf("total = %d, want %d", got.Total, tt.total)
			}
			if got.PerMonth != tt.perMonth {
				t.Errorf("per month = %d, want %d", got.PerMonth, tt.perMonth)
			}
			if got.Accepted != tt.accepted || got.Reason != tt.reason {
				t.Errorf("accepted=%v reason=%q, want %v %q", got.Accepted, got.Reason, tt.accepted, tt.reason)
			}
		})
	}
}

func TestFrequencyNormalize(t *testing.T) {
	f := Frequency{ID: "x", PeriodMonths: 0, DiscountPercent: 12}.Normalize()

	if f.PeriodMonths != 1 {
		t.Errorf("expected period clamped to 1, got %d", f.PeriodMonths)
	}
	if !f.Discount.Equal(decimal.RequireFromString("0.12")) {
		t.Errorf("expected discount 0.12, got %s", f.Discount)
	}
}

func TestParseQuality(t *testing.T) {
	if q, err := ParseQuality(""); err != nil || q != QualityStandard {
		t.Errorf("empty quality should default to standard, got %q %v", q, err)
	}
	if _, err := ParseQuality("gold"); err != ErrUnknownQuality {
		t.Errorf("expected ErrUnknownQuality, got %v", err)
	}
}
