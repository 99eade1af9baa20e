package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
)

type orderFixture struct {
	carts   *CartService
	gateway *mockGateway
	guard   *mockGuard
	svc     *OrderService
}

func newOrderFixture(timeouts Timeouts) *orderFixture {
	log := zap.NewNop()
	carts := NewCartService(newMockStorage(), &mockNotifier{}, log)
	gateway := &mockGateway{}
	guard := newMockGuard()
	svc := NewOrderService(carts, gateway, guard, timeouts, 10, log)
	svc.orderNumber = func(prefix string) string { return prefix + "12345" }
	return &orderFixture{carts: carts, gateway: gateway, guard: guard, svc: svc}
}

func validDelivery() map[string]string {
	return map[string]string{
		FieldName:    "Anna Svensson",
		FieldEmail:   "anna@example.se",
		FieldPhone:   "+46 70-123 45 67",
		FieldAddress: "Storgatan 12",
		FieldZip:     "114 55",
		FieldCity:    "Stockholm",
		FieldPayment: "invoice",
	}
}

func TestCheckout_Success(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	f.carts.Add(ctx, tabA, domain.CartItem{Key: "p80", Name: "Roll 80mm", Price: 100}, 25)
	f.carts.Add(ctx, tabA, domain.CartItem{Key: "p57", Name: "Roll 57mm", Price: 5, Unit: domain.UnitRoll}, 2)

	receipt, err := f.svc.Checkout(ctx, tabA, validDelivery())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if receipt.OrderNumber != "NR-12345" || !receipt.Delivered {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	subs := f.gateway.submissions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	sub := subs[0]
	wantDetails := "Roll 80mm (box) x25 - 2500 kr\nRoll 57mm (roll) x2 - 10 kr"
	if sub.Details != wantDetails {
		t.Errorf("details = %q, want %q", sub.Details, wantDetails)
	}
	// 27 units: 2510 * 0.95 = 2384.5
	if sub.Total != "2385 kr" {
		t.Errorf("expected total 2385 kr, got %s", sub.Total)
	}
	if sub.Status != domain.OrderStatusPending || sub.Source != domain.FormSourceCheckout {
		t.Errorf("unexpected status/source %s/%s", sub.Status, sub.Source)
	}

	if !f.carts.Get(ctx, "s1").IsEmpty() {
		t.Error("expected cart cleared after checkout")
	}
	if f.guard.isHeld("checkout:s1") {
		t.Error("expected guard released")
	}

	select {
	case archived := <-f.svc.GetArchiveQueue():
		if archived.OrderNumber != "NR-12345" {
			t.Errorf("unexpected archived order %s", archived.OrderNumber)
		}
	default:
		t.Error("expected submission queued for archive")
	}
}

func TestCheckout_TimeoutIsConnectionError(t *testing.T) {
	f := newOrderFixture(Timeouts{Checkout: 20 * time.Millisecond})
	defer f.svc.Close()
	ctx := context.Background()

	f.carts.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 100}, 1)
	f.gateway.hang = true

	start := time.Now()
	_, err := f.svc.Checkout(ctx, tabA, validDelivery())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("submission was not cut off by its timeout")
	}

	if f.carts.Get(ctx, "s1").IsEmpty() {
		t.Error("cart must survive a failed checkout")
	}
	if f.guard.isHeld("checkout:s1") {
		t.Error("guard must be released after a failure")
	}

	// the customer can try again
	f.gateway.mu.Lock()
	f.gateway.hang = false
	f.gateway.mu.Unlock()
	if _, err := f.svc.Checkout(ctx, tabA, validDelivery()); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
}

func TestCheckout_InFlight(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	f.carts.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 100}, 1)
	f.guard.Acquire(ctx, "checkout:s1", time.Minute)

	if _, err := f.svc.Checkout(ctx, tabA, validDelivery()); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("expected ErrSubmissionInProgress, got %v", err)
	}
	if len(f.gateway.submissions()) != 0 {
		t.Error("nothing should be sent while a submission is in flight")
	}
}

func TestCheckout_Rejections(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	if _, err := f.svc.Checkout(ctx, tabA, validDelivery()); !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got %v", err)
	}

	f.carts.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 100}, 1)
	fields := validDelivery()
	fields[FieldEmail] = "not-an-email"
	fields[FieldAddress] = "Main"

	_, err := f.svc.Checkout(ctx, tabA, fields)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrInvalidForm) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Fields[FieldEmail] != FieldInvalid || verr.Fields[FieldAddress] != FieldInvalid || verr.Fields[FieldPhone] != FieldValid {
		t.Errorf("unexpected field statuses %+v", verr.Fields)
	}
}

func TestCheckout_HoneypotIsDroppedSilently(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	f.carts.Add(ctx, tabA, domain.CartItem{Name: "a", Price: 100}, 1)
	fields := validDelivery()
	fields[HoneypotField] = "http://spam"

	receipt, err := f.svc.Checkout(ctx, tabA, fields)
	if err != nil || receipt.Delivered {
		t.Errorf("expected silent drop, got %+v %v", receipt, err)
	}
	if len(f.gateway.submissions()) != 0 {
		t.Error("bot submission must not be forwarded")
	}
	if f.carts.Get(ctx, "s1").IsEmpty() {
		t.Error("cart must be kept")
	}
}

func TestSubscribe(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	ws := newWorkspace("en", pricing.DefaultFrequencies)
	ws.apply(CatalogUpdate{Products: testProducts()})

	if _, err := f.svc.Subscribe(ctx, tabA, ws, validDelivery()); !errors.Is(err, ErrSubscriptionRejected) {
		t.Errorf("expected ErrSubscriptionRejected for an empty plan, got %v", err)
	}

	ws.SetSubscriptionLine("p80", 3, pricing.QualityStandard)
	ws.SetSubscriptionLine("p57", 1, pricing.QualityBPAFree)

	receipt, err := f.svc.Subscribe(ctx, tabA, ws, validDelivery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.OrderNumber != "SUB-12345" || receipt.Total != "612 kr" {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	sub := f.gateway.submissions()[0]
	wantDetails := "Plan: 1 Month\nItems:\n• Roll 57mm (box) (Eco) x1\n• Roll 80mm (box) (Std) x3\n"
	if sub.Details != wantDetails {
		t.Errorf("details = %q, want %q", sub.Details, wantDetails)
	}
	if sub.Payment != SubscriptionPayment || sub.Frequency != "1 Month" || sub.Source != domain.FormSourceSubscription {
		t.Errorf("unexpected submission %+v", sub)
	}
}

func TestLead(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	ctx := context.Background()

	receipt, err := f.svc.Lead(ctx, tabA, map[string]string{"name": "Bo", "message": "Need 2000 rolls", HoneypotField: ""})
	if err != nil || !receipt.Delivered {
		t.Fatalf("expected delivered lead, got %+v %v", receipt, err)
	}

	sub := f.gateway.submissions()[0]
	if sub.Status != domain.OrderStatusNew || sub.Source != domain.FormSourceContact {
		t.Errorf("unexpected status/source %s/%s", sub.Status, sub.Source)
	}
	form := sub.Form()
	if form.Get("message") != "Need 2000 rolls" || form.Has(HoneypotField) {
		t.Errorf("unexpected form %v", form)
	}
	if form.Has("Order Number") {
		t.Error("leads carry no order number")
	}
}

func TestSubmit_GatewayErrorWrapped(t *testing.T) {
	f := newOrderFixture(DefaultTimeouts)
	defer f.svc.Close()
	f.gateway.err = errors.New("connection refused")

	_, err := f.svc.Lead(context.Background(), tabA, map[string]string{"name": "Bo"})
	if !errors.Is(err, ErrConnection) || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped ErrConnection, got %v", err)
	}
}

func TestRandomOrderNumber(t *testing.T) {
	for i := 0; i < 200; i++ {
		n := randomOrderNumber(CheckoutOrderPrefix)
		if len(n) != len("NR-")+5 || !strings.HasPrefix(n, "NR-") || n[3] == '0' {
			t.Fatalf("malformed order number %q", n)
		}
	}
}
