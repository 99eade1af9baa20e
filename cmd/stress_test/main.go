package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
	"github.com/rl1809/cart-sync/internal/core/signal"
)

const (
	defaultRedisAddr = "localhost:6379"
	tabCount         = 4
	addsPerTab       = 50
	checkoutRacers   = 20
	queueSize        = 100
	gatewayLatency   = 200 * time.Millisecond
)

// slowGateway stands in for the order intake endpoint.
type slowGateway struct {
	calls atomic.Int32
}

func (g *slowGateway) Submit(ctx context.Context, sub domain.Submission) error {
	g.calls.Add(1)
	select {
	case <-time.After(gatewayLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = defaultRedisAddr
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	session := "stress-" + uuid.NewString()
	defer rdb.Del(context.Background(), "session:"+session)

	// Initialize adapter, hub and services
	store := storage.NewRedisAdapter(rdb, time.Hour, log.Named("redis"))
	hub := signal.NewHub(log.Named("signal"))
	carts := service.NewCartService(store, hub, log.Named("cart"))

	gateway := &slowGateway{}
	orders := service.NewOrderService(carts, gateway, store, service.DefaultTimeouts, queueSize, log.Named("orders"))
	defer orders.Close()

	// Drain the archive queue in background
	go func() {
		for range orders.GetArchiveQueue() {
		}
	}()

	// Count the cross-tab relays every tab receives
	go hub.Run(ctx, store)
	var relayed atomic.Int32
	tabs := make([]domain.Scope, tabCount)
	for i := range tabs {
		tabs[i] = domain.Scope{Session: session, Tab: fmt.Sprintf("tab-%d", i)}
		hub.Subscribe(tabs[i], func(sig domain.Signal) {
			if sig.Remote && sig.Topic == domain.TopicCartChanged {
				relayed.Add(1)
			}
		})
	}
	// give the pattern subscription time to attach
	time.Sleep(100 * time.Millisecond)

	// Every tab hammers the same line concurrently
	var wg sync.WaitGroup
	var addFailures atomic.Int32
	start := time.Now()

	item := domain.CartItem{Key: "p57", Name: "Thermal roll 57mm", Price: 100, Unit: domain.UnitBox}
	for _, tab := range tabs {
		wg.Add(1)
		go func(scope domain.Scope) {
			defer wg.Done()
			for i := 0; i < addsPerTab; i++ {
				if _, err := carts.Add(ctx, scope, item, 1); err != nil {
					addFailures.Add(1)
				}
			}
		}(tab)
	}
	wg.Wait()
	addElapsed := time.Since(start)

	cart := carts.Get(ctx, session)
	wantQuantity := tabCount * addsPerTab

	// Race checkouts of the same cart from every tab
	fields := map[string]string{
		"name":    "Stress Test",
		"email":   "stress@example.se",
		"phone":   "0701234567",
		"address": "Storgatan 12",
		"zip":     "11455",
		"city":    "Stockholm",
	}
	var accepted, inFlight, otherErrors atomic.Int32
	for i := 0; i < checkoutRacers; i++ {
		wg.Add(1)
		go func(scope domain.Scope) {
			defer wg.Done()
			_, err := orders.Checkout(ctx, scope, fields)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, service.ErrSubmissionInProgress):
				inFlight.Add(1)
			default:
				otherErrors.Add(1)
			}
		}(tabs[i%tabCount])
	}
	wg.Wait()

	// let the last relays land
	time.Sleep(200 * time.Millisecond)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Tabs:               %d\n", tabCount)
	fmt.Printf("Adds per tab:       %d\n", addsPerTab)
	fmt.Printf("Add failures:       %d\n", addFailures.Load())
	fmt.Printf("Add duration:       %v\n", addElapsed)
	fmt.Printf("Cross-tab relays:   %d\n", relayed.Load())
	fmt.Printf("Checkout racers:    %d\n", checkoutRacers)
	fmt.Printf("Accepted:           %d\n", accepted.Load())
	fmt.Printf("Rejected in flight: %d\n", inFlight.Load())
	fmt.Printf("Other errors:       %d\n", otherErrors.Load())
	fmt.Printf("Gateway calls:      %d\n", gateway.calls.Load())
	fmt.Println("==========================================")

	// Assertions
	if len(cart.Items) == 1 && cart.Items[0].Quantity == wantQuantity {
		fmt.Printf("PASS: no lost updates, quantity %d\n", wantQuantity)
	} else {
		fmt.Printf("FAIL: expected one line of %d, got %+v\n", wantQuantity, cart.Items)
	}

	if gateway.calls.Load() == accepted.Load() && accepted.Load() >= 1 {
		fmt.Println("PASS: every accepted checkout was sent exactly once")
	} else {
		fmt.Printf("FAIL: %d accepted but %d sent\n", accepted.Load(), gateway.calls.Load())
	}

	if final := carts.Get(ctx, session); final.IsEmpty() {
		fmt.Println("PASS: cart cleared after checkout")
	} else {
		fmt.Printf("FAIL: cart still holds %+v\n", final.Items)
	}
}
