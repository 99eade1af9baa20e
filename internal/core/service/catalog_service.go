package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

const maxPriceUpdateAttempts = 3

// CatalogService serves the catalog feed that pollers read and applies
// price changes to it.
type CatalogService struct {
	repo port.CatalogRepository
	log  *zap.Logger
}

func NewCatalogService(repo port.CatalogRepository, log *zap.Logger) *CatalogService {
	return &CatalogService{repo: repo, log: log}
}

func (s *CatalogService) Feed(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// FetchCatalog lets the local feed stand in as the poller's source.
func (s *CatalogService) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	return s.Feed(ctx)
}

// UpdatePrices re-reads and retries when another writer got there first.
func (s *CatalogService) UpdatePrices(ctx context.Context, key string, priceBox, priceRoll int64) (*domain.Product, error) {
	if priceBox < 0 || priceRoll < 0 {
		return nil, domain.ErrInvalidPrice
	}

	for attempt := 1; ; attempt++ {
		p, version, err := s.repo.GetProduct(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if p == nil {
			return nil, domain.ErrProductNotFound
		}

		err = s.repo.UpdatePrices(ctx, key, priceBox, priceRoll, version)
		if err == nil {
			p.PriceBox, p.PriceRoll = priceBox, priceRoll
			s.log.Info("prices updated",
				zap.String("product", key),
				zap.Int64("price_box", priceBox),
				zap.Int64("price_roll", priceRoll),
			)
			return p, nil
		}
		if !errors.Is(err, domain.ErrOptimisticLock) || attempt >= maxPriceUpdateAttempts {
			return nil, err
		}
		s.log.Debug("price update conflict, retrying", zap.String("product", key), zap.Int("attempt", attempt))
	}
}
