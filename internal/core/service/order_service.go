package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
	"github.com/rl1809/cart-sync/internal/port"
)

var (
	ErrConnection           = errors.New("connection error")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrSubscriptionRejected = errors.New("subscription not accepted")
)

const (
	CheckoutOrderPrefix     = "NR-"
	SubscriptionOrderPrefix = "SUB-"
	SubscriptionPayment     = "Subscription Billing"

	guardTTL = time.Minute
)

type Timeouts struct {
	Checkout     time.Duration
	Subscription time.Duration
	Lead         time.Duration
}

var DefaultTimeouts = Timeouts{
	Checkout:     12 * time.Second,
	Subscription: 12 * time.Second,
	Lead:         10 * time.Second,
}

// OrderService posts checkout, subscription and contact forms to the order
// intake endpoint. Accepted submissions are queued for archiving.
type OrderService struct {
	carts        *CartService
	gateway      port.OrderGateway
	guard        port.SubmissionGuard
	timeouts     Timeouts
	archiveQueue chan domain.Submission
	log          *zap.Logger

	now         func() time.Time
	orderNumber func(prefix string) string
}

func NewOrderService(carts *CartService, gateway port.OrderGateway, guard port.SubmissionGuard, timeouts Timeouts, queueSize int, log *zap.Logger) *OrderService {
	return &OrderService{
		carts:        carts,
		gateway:      gateway,
		guard:        guard,
		timeouts:     timeouts,
		archiveQueue: make(chan domain.Submission, queueSize),
		log:          log,
		now:          time.Now,
		orderNumber:  randomOrderNumber,
	}
}

func randomOrderNumber(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, 10000+rand.IntN(90000))
}

// Checkout submits the session's cart. A filled honeypot is accepted
// silently and nothing is sent. The cart is cleared only after the endpoint
// took the request.
func (s *OrderService) Checkout(ctx context.Context, scope domain.Scope, fields map[string]string) (domain.Receipt, error) {
	if isBot(fields) {
		s.log.Warn("honeypot filled, dropping checkout", zap.String("session", scope.Session))
		return domain.Receipt{}, nil
	}
	if v := ValidateDelivery(fields); !v.OK() {
		return domain.Receipt{}, &ValidationError{Fields: v}
	}

	release, err := s.acquire(ctx, "checkout:"+scope.Session)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer release()

	cart := s.carts.Get(ctx, scope.Session)
	if cart.IsEmpty() {
		return domain.Receipt{}, ErrEmptyCart
	}
	quote := pricing.CartQuote(cart)

	sub := domain.Submission{
		OrderNumber: s.orderNumber(CheckoutOrderPrefix),
		Source:      domain.FormSourceCheckout,
		Status:      domain.OrderStatusPending,
		Details:     checkoutDetails(cart),
		Total:       formatKr(quote.Total),
		Payment:     fields[FieldPayment],
		Fields:      customerFields(fields),
		CreatedAt:   s.now(),
	}
	receipt, err := s.submit(ctx, sub, s.timeouts.Checkout)
	if err != nil {
		return domain.Receipt{}, err
	}

	if err := s.carts.Clear(ctx, scope); err != nil {
		s.log.Error("failed to clear cart after checkout", zap.String("order", sub.OrderNumber), zap.Error(err))
	}
	return receipt, nil
}

// Subscribe submits the subscription builder of a tab once its plan meets
// the monthly minimum.
func (s *OrderService) Subscribe(ctx context.Context, scope domain.Scope, ws *Workspace, fields map[string]string) (domain.Receipt, error) {
	if isBot(fields) {
		s.log.Warn("honeypot filled, dropping subscription", zap.String("session", scope.Session))
		return domain.Receipt{}, nil
	}
	if v := ValidateDelivery(fields); !v.OK() {
		return domain.Receipt{}, &ValidationError{Fields: v}
	}

	view := ws.SubscriptionView()
	if !view.Quote.Accepted {
		return domain.Receipt{}, fmt.Errorf("%w: %s", ErrSubscriptionRejected, view.Quote.Reason)
	}

	release, err := s.acquire(ctx, "subscription:"+scope.Session)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer release()

	freq := view.Quote.Frequency
	sub := domain.Submission{
		OrderNumber: s.orderNumber(SubscriptionOrderPrefix),
		Source:      domain.FormSourceSubscription,
		Status:      domain.OrderStatusPending,
		Details:     "Plan: " + freq.Label + "\nItems:\n" + subscriptionItems(view.Quote.Lines),
		Total:       formatKr(view.Quote.Total),
		Frequency:   freq.Label,
		Payment:     SubscriptionPayment,
		Fields:      customerFields(fields),
		CreatedAt:   s.now(),
	}
	return s.submit(ctx, sub, s.timeouts.Subscription)
}

// Lead forwards the contact form as it was filled in.
func (s *OrderService) Lead(ctx context.Context, scope domain.Scope, fields map[string]string) (domain.Receipt, error) {
	if isBot(fields) {
		s.log.Warn("honeypot filled, dropping lead", zap.String("session", scope.Session))
		return domain.Receipt{}, nil
	}

	release, err := s.acquire(ctx, "lead:"+scope.Session)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer release()

	sub := domain.Submission{
		Source:    domain.FormSourceContact,
		Status:    domain.OrderStatusNew,
		Fields:    customerFields(fields),
		CreatedAt: s.now(),
	}
	return s.submit(ctx, sub, s.timeouts.Lead)
}

func (s *OrderService) GetArchiveQueue() <-chan domain.Submission {
	return s.archiveQueue
}

func (s *OrderService) Close() {
	close(s.archiveQueue)
}

// acquire holds the in-flight guard for key; the returned func releases it.
func (s *OrderService) acquire(ctx context.Context, key string) (func(), error) {
	ok, err := s.guard.Acquire(ctx, key, guardTTL)
	if err != nil {
		return nil, fmt.Errorf("submission guard: %w", err)
	}
	if !ok {
		return nil, ErrSubmissionInProgress
	}

	return func() {
		// the request context may already be done
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn("failed to release submission guard", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *OrderService) submit(ctx context.Context, sub domain.Submission, timeout time.Duration) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.gateway.Submit(ctx, sub); err != nil {
		s.log.Error("submission failed",
			zap.String("source", string(sub.Source)),
			zap.String("order", sub.OrderNumber),
			zap.Error(err),
		)
		return domain.Receipt{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.log.Info("submission sent",
		zap.String("source", string(sub.Source)),
		zap.String("order", sub.OrderNumber),
	)

	select {
	case s.archiveQueue <- sub:
	default:
		s.log.Warn("archive queue full, skipping", zap.String("order", sub.OrderNumber))
	}

	return domain.Receipt{
		OrderNumber: sub.OrderNumber,
		Total:       sub.Total,
		Delivered:   true,
		SubmittedAt: sub.CreatedAt,
	}, nil
}

func checkoutDetails(cart domain.Cart) string {
	lines := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		lines = append(lines, fmt.Sprintf("%s (%s) x%d - %d kr", it.Name, it.Unit, it.Quantity, it.LineTotal()))
	}
	return strings.Join(lines, "\n")
}

func subscriptionItems(lines []pricing.SubscriptionLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "• %s (%s) (%s) x%d\n", l.Name, domain.UnitBox, l.Quality.Short(), l.Quantity)
	}
	return b.String()
}

func formatKr(amount int64) string {
	return fmt.Sprintf("%d kr", amount)
}
