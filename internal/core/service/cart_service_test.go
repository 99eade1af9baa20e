package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

func newTestCartService() (*CartService, *mockStorage, *mockNotifier) {
	store := newMockStorage()
	notifier := &mockNotifier{}
	return NewCartService(store, notifier, zap.NewNop()), store, notifier
}

var tabA = domain.Scope{Session: "s1", Tab: "a"}

func TestCartAdd_MergesSameIdentity(t *testing.T) {
	svc, _, notifier := newTestCartService()
	ctx := context.Background()

	item := domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 100}
	svc.Add(ctx, tabA, item, 2)
	cart, err := svc.Add(ctx, tabA, item, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", cart.Items[0].Quantity)
	}
	if cart.Items[0].Unit != domain.UnitBox {
		t.Errorf("expected default unit box, got %q", cart.Items[0].Unit)
	}
	if notifier.count(domain.TopicCartChanged) != 2 {
		t.Errorf("expected 2 cart signals, got %d", notifier.count(domain.TopicCartChanged))
	}
}

func TestCartAdd_UnitsAreSeparateLines(t *testing.T) {
	svc, _, _ := newTestCartService()
	ctx := context.Background()

	svc.Add(ctx, tabA, domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 100, Unit: domain.UnitBox}, 1)
	cart, _ := svc.Add(ctx, tabA, domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 5, Unit: domain.UnitRoll}, 1)

	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(cart.Items))
	}
	if cart.Items[0].Identity() != "p57-box" || cart.Items[1].Identity() != "p57-roll" {
		t.Errorf("unexpected identities %q %q", cart.Items[0].Identity(), cart.Items[1].Identity())
	}
}

func TestCartAdd_Rejects(t *testing.T) {
	svc, _, notifier := newTestCartService()
	ctx := context.Background()

	if _, err := svc.Add(ctx, tabA, domain.CartItem{Name: "x", Unit: "pallet"}, 1); !errors.Is(err, domain.ErrInvalidUnit) {
		t.Errorf("expected ErrInvalidUnit, got %v", err)
	}
	if _, err := svc.Add(ctx, tabA, domain.CartItem{Name: "x"}, 0); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.Add(ctx, tabA, domain.CartItem{Name: "x", Price: -1000}, 1); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if notifier.count(domain.TopicCartChanged) != 0 {
		t.Error("rejected changes must not signal")
	}
}

func TestCartSetQuantity_ZeroRemoves(t *testing.T) {
	svc, _, _ := newTestCartService()
	ctx := context.Background()

	svc.Add(ctx, tabA, domain.CartItem{Name: "Plain roll", Price: 10}, 4)
	id := domain.NewIdentity("", "Plain roll", domain.UnitBox)

	cart, err := svc.SetQuantity(ctx, tabA, id, 7)
	if err != nil || cart.Items[0].Quantity != 7 {
		t.Fatalf("expected quantity 7, got %+v %v", cart.Items, err)
	}

	cart, err = svc.SetQuantity(ctx, tabA, id, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cart.IsEmpty() {
		t.Errorf("expected empty cart, got %+v", cart.Items)
	}
}

func TestCartAdjust_StepsToRemoval(t *testing.T) {
	svc, _, _ := newTestCartService()
	ctx := context.Background()

	svc.Add(ctx, tabA, domain.CartItem{Key: "p80", Name: "Roll 80mm", Price: 200}, 1)
	id := domain.NewIdentity("p80", "", domain.UnitBox)

	cart, _ := svc.Adjust(ctx, tabA, id, 1)
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", cart.Items[0].Quantity)
	}
	svc.Adjust(ctx, tabA, id, -1)
	cart, _ = svc.Adjust(ctx, tabA, id, -1)
	if !cart.IsEmpty() {
		t.Errorf("expected line removed at zero, got %+v", cart.Items)
	}

	if _, err := svc.Adjust(ctx, tabA, id, 1); !errors.Is(err, domain.ErrItemNotInCart) {
		t.Errorf("expected ErrItemNotInCart, got %v", err)
	}
}

func TestCartGet_CorruptDataReadsEmpty(t *testing.T) {
	svc, store, _ := newTestCartService()
	ctx := context.Background()

	store.SetItem(ctx, tabA, domain.CartKey, "{not json")

	cart := svc.Get(ctx, "s1")
	if !cart.IsEmpty() {
		t.Errorf("expected empty cart, got %+v", cart.Items)
	}

	// a write after corruption starts over from an empty cart
	cart, err := svc.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 1}, 1)
	if err != nil || len(cart.Items) != 1 {
		t.Errorf("expected 1 line after recovery, got %+v %v", cart.Items, err)
	}
}

func TestCartGet_StorageErrorReadsEmpty(t *testing.T) {
	svc, store, _ := newTestCartService()
	store.failGet = true

	if cart := svc.Get(context.Background(), "s1"); !cart.IsEmpty() {
		t.Errorf("expected empty cart, got %+v", cart.Items)
	}
}

func TestCartGet_DropsInvalidLines(t *testing.T) {
	svc, store, _ := newTestCartService()
	ctx := context.Background()

	store.SetItem(ctx, tabA, domain.CartKey, `[{"name":"a","price":10,"quantity":2},{"name":"b","price":10,"quantity":0},{"name":"c","price":1,"unit":"crate","quantity":1},{"name":"d","price":-1000,"quantity":1}]`)

	cart := svc.Get(ctx, "s1")
	if len(cart.Items) != 1 || cart.Items[0].Name != "a" || cart.Items[0].Unit != domain.UnitBox {
		t.Errorf("expected only line a with unit box, got %+v", cart.Items)
	}
}

func TestCartPersistsAsArray(t *testing.T) {
	svc, store, _ := newTestCartService()
	ctx := context.Background()

	svc.Add(ctx, tabA, domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 100}, 1)

	raw, _ := store.raw("s1", domain.CartKey)
	want := `[{"key":"p57","name":"Roll 57mm","price":100,"unit":"box","quantity":1}]`
	if raw != want {
		t.Errorf("stored cart = %s, want %s", raw, want)
	}
}

func TestCartClear(t *testing.T) {
	svc, store, notifier := newTestCartService()
	ctx := context.Background()

	svc.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 1}, 1)
	if err := svc.Clear(ctx, tabA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.raw("s1", domain.CartKey); ok {
		t.Error("expected cart key removed")
	}
	if notifier.count(domain.TopicCartChanged) != 2 {
		t.Errorf("expected 2 cart signals, got %d", notifier.count(domain.TopicCartChanged))
	}
}

func TestCartAdd_ConcurrentSameSession(t *testing.T) {
	svc, _, _ := newTestCartService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(tab string) {
			defer wg.Done()
			svc.Add(ctx, domain.Scope{Session: "s1", Tab: tab}, domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 100}, 1)
		}(string(rune('a' + i%5)))
	}
	wg.Wait()

	cart := svc.Get(ctx, "s1")
	if cart.TotalUnits() != 100 {
		t.Errorf("expected 100 units, got %d", cart.TotalUnits())
	}
}
