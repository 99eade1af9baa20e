package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/port"
)

type PostalOutcome string

const (
	PostalAutofilled  PostalOutcome = "autofilled"
	PostalMatch       PostalOutcome = "match"
	PostalMismatch    PostalOutcome = "mismatch"
	PostalInvalid     PostalOutcome = "invalid"
	PostalUnavailable PostalOutcome = "unavailable"
	PostalSkipped     PostalOutcome = "skipped"
)

type PostalResult struct {
	Outcome PostalOutcome `json:"outcome"`
	City    string        `json:"city,omitempty"`
}

// PostalService checks a postal code against the city the customer typed.
// It is advisory: an unreachable lookup never blocks an order.
type PostalService struct {
	lookup port.PostalLookup
	log    *zap.Logger
}

func NewPostalService(lookup port.PostalLookup, log *zap.Logger) *PostalService {
	return &PostalService{lookup: lookup, log: log}
}

func (s *PostalService) Check(ctx context.Context, zip, city string) PostalResult {
	zip = NormalizeZip(zip)
	if !ValidZip(zip) {
		return PostalResult{Outcome: PostalSkipped}
	}

	place, found, err := s.lookup.Lookup(ctx, zip)
	if err != nil {
		s.log.Warn("postal lookup failed", zap.String("zip", zip), zap.Error(err))
		return PostalResult{Outcome: PostalUnavailable}
	}
	if !found {
		return PostalResult{Outcome: PostalInvalid}
	}

	city = strings.TrimSpace(city)
	switch {
	case city == "":
		return PostalResult{Outcome: PostalAutofilled, City: place}
	case strings.EqualFold(city, place):
		return PostalResult{Outcome: PostalMatch, City: place}
	}
	return PostalResult{Outcome: PostalMismatch, City: place}
}
