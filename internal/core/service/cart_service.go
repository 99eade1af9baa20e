package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

// CartService owns the persisted cart of each session. Writers in this
// process are serialized per session; writers elsewhere are last-writer-wins.
type CartService struct {
	store    port.LocalStorage
	notifier port.Notifier
	locks    *keyedMutex
	log      *zap.Logger
}

func NewCartService(store port.LocalStorage, notifier port.Notifier, log *zap.Logger) *CartService {
	return &CartService{
		store:    store,
		notifier: notifier,
		locks:    newKeyedMutex(),
		log:      log,
	}
}

// Get never fails: missing, unreadable or corrupt data reads as an empty cart.
func (s *CartService) Get(ctx context.Context, session string) domain.Cart {
	raw, ok, err := s.store.GetItem(ctx, session, domain.CartKey)
	if err != nil {
		s.log.Warn("cart unreadable, using empty cart", zap.String("session", session), zap.Error(err))
		return domain.Cart{Items: []domain.CartItem{}}
	}
	if !ok || raw == "" {
		return domain.Cart{Items: []domain.CartItem{}}
	}

	var items []domain.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.log.Warn("cart corrupt, using empty cart", zap.String("session", session), zap.Error(err))
		return domain.Cart{Items: []domain.CartItem{}}
	}

	cart := domain.Cart{Items: make([]domain.CartItem, 0, len(items))}
	for _, it := range items {
		unit, err := domain.ParseUnit(string(it.Unit))
		if err != nil || it.Quantity < 1 || it.Price < 0 {
			s.log.Debug("dropping invalid cart line", zap.String("session", session), zap.String("name", it.Name))
			continue
		}
		it.Unit = unit
		cart.Items = append(cart.Items, it)
	}
	return cart
}

func (s *CartService) Add(ctx context.Context, scope domain.Scope, item domain.CartItem, quantity int) (domain.Cart, error) {
	unit, err := domain.ParseUnit(string(item.Unit))
	if err != nil {
		return domain.Cart{}, err
	}
	item.Unit = unit

	return s.update(ctx, scope, func(c domain.Cart) (domain.Cart, error) {
		return c.Add(item, quantity)
	})
}

// SetQuantity removes the line when quantity <= 0.
func (s *CartService) SetQuantity(ctx context.Context, scope domain.Scope, id domain.Identity, quantity int) (domain.Cart, error) {
	return s.update(ctx, scope, func(c domain.Cart) (domain.Cart, error) {
		return c.SetQuantity(id, quantity)
	})
}

// Adjust steps a line by delta, as the drawer's +/- buttons do.
func (s *CartService) Adjust(ctx context.Context, scope domain.Scope, id domain.Identity, delta int) (domain.Cart, error) {
	return s.update(ctx, scope, func(c domain.Cart) (domain.Cart, error) {
		return c.Adjust(id, delta)
	})
}

func (s *CartService) Remove(ctx context.Context, scope domain.Scope, id domain.Identity) (domain.Cart, error) {
	return s.update(ctx, scope, func(c domain.Cart) (domain.Cart, error) {
		return c.Remove(id)
	})
}

func (s *CartService) Clear(ctx context.Context, scope domain.Scope) error {
	unlock := s.locks.Lock(scope.Session)
	err := s.store.RemoveItem(ctx, scope, domain.CartKey)
	unlock()
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.notifier.Notify(ctx, scope, domain.TopicCartChanged)
	return nil
}

func (s *CartService) update(ctx context.Context, scope domain.Scope, fn func(domain.Cart) (domain.Cart, error)) (domain.Cart, error) {
	unlock := s.locks.Lock(scope.Session)
	current := s.Get(ctx, scope.Session)
	next, err := fn(current)
	if err != nil {
		unlock()
		return current, err
	}

	err = s.save(ctx, scope, next)
	unlock()
	if err != nil {
		return current, err
	}

	s.notifier.Notify(ctx, scope, domain.TopicCartChanged)
	return next, nil
}

func (s *CartService) save(ctx context.Context, scope domain.Scope, cart domain.Cart) error {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.store.SetItem(ctx, scope, domain.CartKey, string(data)); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
