package port

import (
	"context"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// CatalogSource is the authority for the product catalog.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]domain.Product, error)
}

// OrderGateway posts submissions to the order intake endpoint. A nil error
// only means the request went out and came back; the endpoint's answer is
// opaque.
type OrderGateway interface {
	Submit(ctx context.Context, submission domain.Submission) error
}

// PostalLookup resolves a postal code to its locality.
type PostalLookup interface {
	// Lookup returns found=false for codes the service does not know
	Lookup(ctx context.Context, zip string) (place string, found bool, err error)
}
