package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUnknownQuality = errors.New("unknown quality")

type Quality string

const (
	QualityStandard Quality = "standard"
	QualityBPAFree  Quality = "bpa-free"
)

func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case "", QualityStandard:
		return QualityStandard, nil
	case QualityBPAFree:
		return QualityBPAFree, nil
	}
	return "", ErrUnknownQuality
}

func (q Quality) AddOn() int64 {
	if q == QualityBPAFree {
		return EcoAddOn
	}
	return 0
}

// Short is the label used in order details.
func (q Quality) Short() string {
	if q == QualityBPAFree {
		return "Eco"
	}
	return "Std"
}

// Frequency is a delivery plan: every PeriodMonths months at a discount.
// Config files carry DiscountPercent; Discount is derived from it.
type Frequency struct {
	ID              string          `json:"id" yaml:"id"`
	Label           string          `json:"label" yaml:"label"`
	PeriodMonths    int             `json:"period_months" yaml:"period_months"`
	Discount        decimal.Decimal `json:"discount" yaml:"-"`
	DiscountPercent int64           `json:"discount_percent" yaml:"discount_percent"`
}

// Normalize fills Discount from DiscountPercent and guards the period.
func (f Frequency) Normalize() Frequency {
	if f.Discount.IsZero() && f.DiscountPercent != 0 {
		f.Discount = decimal.NewFromInt(f.DiscountPercent).Div(decimal.NewFromInt(100))
	}
	f.DiscountPercent = percent(f.Discount)
	if f.PeriodMonths < 1 {
		f.PeriodMonths = 1
	}
	return f
}

// DefaultFrequency is the plan selected when a builder opens.
var DefaultFrequency = Frequency{ID: "monthly", Label: "1 Month", PeriodMonths: 1, DiscountPercent: 15}.Normalize()

// DefaultFrequencies is used when no plans are configured.
var DefaultFrequencies = []Frequency{
	DefaultFrequency,
	Frequency{ID: "bimonthly", Label: "2 Months", PeriodMonths: 2, DiscountPercent: 10}.Normalize(),
	Frequency{ID: "quarterly", Label: "3 Months", PeriodMonths: 3, DiscountPercent: 5}.Normalize(),
}

type SubscriptionLine struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice int64   `json:"unit_price"`
	Quality   Quality `json:"quality"`
	Quantity  int     `json:"quantity"`
}

func (l SubscriptionLine) Total() int64 {
	return (l.UnitPrice + l.Quality.AddOn()) * int64(l.Quantity)
}

type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectEmpty        RejectReason = "empty"
	RejectBelowMinimum RejectReason = "below_monthly_minimum"
)

type SubscriptionResult struct {
	Lines     []SubscriptionLine `json:"lines"`
	Frequency Frequency          `json:"frequency"`
	Subtotal  int64              `json:"subtotal"`
	Discount  int64              `json:"discount"`
	Total     int64              `json:"total"`
	PerMonth  int64              `json:"per_month"`
	Accepted  bool               `json:"accepted"`
	Reason    RejectReason       `json:"reason,omitempty"`
}

// SubscriptionTotal prices the selected lines under a frequency. The monthly
// minimum is checked on the unrounded per-month average.
func SubscriptionTotal(lines []SubscriptionLine, freq Frequency) SubscriptionResult {
	freq = freq.Normalize()
	res := SubscriptionResult{Lines: []SubscriptionLine{}, Frequency: freq}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		res.Lines = append(res.Lines, l)
		res.Subtotal += l.Total()
	}

	subtotal := decimal.NewFromInt(res.Subtotal)
	discount := subtotal.Mul(freq.Discount)
	total := subtotal.Sub(discount)
	perMonth := total.Div(decimal.NewFromInt(int64(freq.PeriodMonths)))

	res.Total = round(total)
	res.Discount = res.Subtotal - res.Total
	res.PerMonth = round(perMonth)

	switch {
	case res.Subtotal == 0:
		res.Reason = RejectEmpty
	case perMonth.LessThan(decimal.NewFromInt(SubscriptionMonthlyMinimum)):
		res.Reason = RejectBelowMinimum
	default:
		res.Accepted = true
	}
	return res
}
