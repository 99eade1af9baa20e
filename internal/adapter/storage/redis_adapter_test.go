package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func testScope(tab string) domain.Scope {
	return domain.Scope{Session: "test-" + uuid.NewString(), Tab: tab}
}

func TestRedisSetItem_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, zap.NewNop())
	scope := testScope("tab-a")
	defer client.Del(ctx, sessionKey(scope.Session))

	if _, ok, err := adapter.GetItem(ctx, scope.Session, domain.CartKey); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := adapter.SetItem(ctx, scope, domain.CartKey, `[{"name":"a"}]`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok, err := adapter.GetItem(ctx, scope.Session, domain.CartKey)
	if err != nil || !ok {
		t.Fatalf("expected stored value, got ok=%v err=%v", ok, err)
	}
	if value != `[{"name":"a"}]` {
		t.Errorf("unexpected value %q", value)
	}

	ttl := client.PTTL(ctx, sessionKey(scope.Session)).Val()
	if ttl <= 0 {
		t.Errorf("expected session ttl to be set, got %v", ttl)
	}
}

func TestRedisEvents_OnlyOnChange(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := NewRedisAdapter(client, 0, zap.NewNop())
	scope := testScope("tab-a")
	defer client.Del(context.Background(), sessionKey(scope.Session))

	events, err := adapter.Events(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	adapter.SetItem(ctx, scope, domain.ThemeKey, "dark")
	adapter.SetItem(ctx, scope, domain.ThemeKey, "dark")
	adapter.RemoveItem(ctx, scope, domain.ThemeKey)
	adapter.RemoveItem(ctx, scope, domain.ThemeKey)

	var got []domain.StorageEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			if ev.Session == scope.Session {
				got = append(got, ev)
			}
		case <-timeout:
			t.Fatalf("expected 2 events, got %d", len(got))
		}
	}

	select {
	case ev := <-events:
		if ev.Session == scope.Session {
			t.Errorf("unexpected extra event %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
	}

	if got[0].Tab != "tab-a" || got[0].Key != domain.ThemeKey {
		t.Errorf("unexpected event %+v", got[0])
	}
}

func TestRedisSnapshot(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, 0, zap.NewNop())
	client.Del(ctx, domain.InventoryCacheKey)
	defer client.Del(ctx, domain.InventoryCacheKey)

	snap, err := adapter.LoadSnapshot(ctx)
	if err != nil || snap != nil {
		t.Fatalf("expected empty cache, got %v %v", snap, err)
	}

	want := domain.Snapshot{
		Products:  []domain.Product{{Key: "p57", Names: domain.Localized{"en": "Roll 57"}, PriceBox: 100}},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := adapter.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err = adapter.LoadSnapshot(ctx)
	if err != nil || snap == nil {
		t.Fatalf("expected snapshot, got %v %v", snap, err)
	}
	if !domain.SameCatalog(snap.Products, want.Products) {
		t.Errorf("snapshot products differ: %+v", snap.Products)
	}
}

func TestRedisAcquire_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, 0, zap.NewNop())
	key := "checkout:" + uuid.NewString()
	defer adapter.Release(ctx, key)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Acquire(ctx, key, time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}

	adapter.Release(ctx, key)
	ok, err := adapter.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Errorf("expected acquire after release, got ok=%v err=%v", ok, err)
	}
}
