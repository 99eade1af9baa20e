package port

import (
	"context"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

type OrderRepository interface {
	// ArchiveOrder records an accepted submission; it is never consulted on the submit path
	ArchiveOrder(ctx context.Context, submission domain.Submission) error
}

type CatalogRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// GetProduct returns nil when the key is unknown
	GetProduct(ctx context.Context, key string) (*domain.Product, int, error)

	// UpdatePrices changes both unit prices with a version check for optimistic locking
	UpdatePrices(ctx context.Context, key string, priceBox, priceRoll int64, version int) error
}
