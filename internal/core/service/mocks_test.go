package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// Mock LocalStorage
type mockStorage struct {
	mu      sync.Mutex
	items   map[string]map[string]string
	failGet bool
}

func newMockStorage() *mockStorage {
	return &mockStorage{items: make(map[string]map[string]string)}
}

func (m *mockStorage) GetItem(ctx context.Context, session, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failGet {
		return "", false, errors.New("storage unavailable")
	}
	v, ok := m.items[session][key]
	return v, ok, nil
}

func (m *mockStorage) SetItem(ctx context.Context, scope domain.Scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items[scope.Session] == nil {
		m.items[scope.Session] = make(map[string]string)
	}
	m.items[scope.Session][key] = value
	return nil
}

func (m *mockStorage) RemoveItem(ctx context.Context, scope domain.Scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items[scope.Session], key)
	return nil
}

func (m *mockStorage) raw(session, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[session][key]
	return v, ok
}

// Mock Notifier
type notified struct {
	scope domain.Scope
	topic domain.Topic
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notified
}

func (m *mockNotifier) Notify(ctx context.Context, scope domain.Scope, topic domain.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notified{scope: scope, topic: topic})
}

func (m *mockNotifier) count(topic domain.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sent {
		if s.topic == topic {
			n++
		}
	}
	return n
}

// Mock CatalogSource
type mockCatalogSource struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
	calls    int
}

func (m *mockCatalogSource) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *mockCatalogSource) set(products []domain.Product, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
	m.err = err
}

// Mock SnapshotCache
type mockSnapshotCache struct {
	mu    sync.Mutex
	snap  *domain.Snapshot
	saves int
}

func (m *mockSnapshotCache) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *mockSnapshotCache) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snapshot
	m.saves++
	return nil
}

// Mock OrderGateway. With hang set, Submit waits for the context to end.
type mockGateway struct {
	mu   sync.Mutex
	subs []domain.Submission
	err  error
	hang bool
}

func (m *mockGateway) Submit(ctx context.Context, sub domain.Submission) error {
	m.mu.Lock()
	hang, err := m.hang, m.err
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

func (m *mockGateway) submissions() []domain.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Submission(nil), m.subs...)
}

// Mock SubmissionGuard
type mockGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMockGuard() *mockGuard {
	return &mockGuard{held: make(map[string]bool)}
}

func (m *mockGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *mockGuard) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

func (m *mockGuard) isHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}

// Mock PostalLookup
type mockPostal struct {
	places map[string]string
	err    error
}

func (m *mockPostal) Lookup(ctx context.Context, zip string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	place, ok := m.places[zip]
	return place, ok, nil
}

// Mock CatalogRepository
type mockCatalogRepo struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	versions  map[string]int
	conflicts int
}

func newMockCatalogRepo(products ...domain.Product) *mockCatalogRepo {
	m := &mockCatalogRepo{products: make(map[string]domain.Product), versions: make(map[string]int)}
	for _, p := range products {
		m.products[p.Key] = p
	}
	return m
}

func (m *mockCatalogRepo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockCatalogRepo) GetProduct(ctx context.Context, key string) (*domain.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[key]
	if !ok {
		return nil, 0, nil
	}
	return &p, m.versions[key], nil
}

// UpdatePrices simulates a concurrent writer for the first conflicts calls.
func (m *mockCatalogRepo) UpdatePrices(ctx context.Context, key string, priceBox, priceRoll int64, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts > 0 {
		m.conflicts--
		m.versions[key]++
		return domain.ErrOptimisticLock
	}
	if m.versions[key] != version {
		return domain.ErrOptimisticLock
	}
	p := m.products[key]
	p.PriceBox, p.PriceRoll = priceBox, priceRoll
	m.products[key] = p
	m.versions[key]++
	return nil
}

func testProducts() []domain.Product {
	return []domain.Product{
		{Key: "p57", Names: domain.Localized{"en": "Roll 57mm", "sv": "Rulle 57mm"}, PriceBox: 100, PriceRoll: 5},
		{Key: "p80", Names: domain.Localized{"en": "Roll 80mm", "sv": "Rulle 80mm"}, PriceBox: 200, PriceRoll: 9},
	}
}
