package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

const DefaultPollInterval = 60 * time.Second

type InventoryState string

const (
	StateUninitialized InventoryState = "uninitialized"
	StateCacheHit      InventoryState = "cache_hit"
	StateCacheMiss     InventoryState = "cache_miss"
	StateFetching      InventoryState = "fetching"
	StateUnchanged     InventoryState = "unchanged"
	StateUpdated       InventoryState = "updated"
	StateFetchFailed   InventoryState = "fetch_failed"
)

// CatalogUpdate is handed to listeners whenever rendered data changes, or
// when the first load failed and there is nothing to show.
type CatalogUpdate struct {
	Products  []domain.Product
	FetchedAt time.Time
	Err       error
}

type CatalogListener func(CatalogUpdate)

// InventoryPoller renders the catalog from cache first, then keeps it in step
// with the remote source. Listeners are only called when the fetched catalog
// differs from what they last saw.
type InventoryPoller struct {
	source   port.CatalogSource
	cache    port.SnapshotCache
	interval time.Duration
	log      *zap.Logger

	mu        sync.RWMutex
	state     InventoryState
	current   *domain.Snapshot
	listeners map[int]CatalogListener
	nextID    int
}

func NewInventoryPoller(source port.CatalogSource, cache port.SnapshotCache, interval time.Duration, log *zap.Logger) *InventoryPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &InventoryPoller{
		source:    source,
		cache:     cache,
		interval:  interval,
		log:       log,
		state:     StateUninitialized,
		listeners: make(map[int]CatalogListener),
	}
}

func (p *InventoryPoller) State() InventoryState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot returns the rendered catalog, nil before anything was rendered.
func (p *InventoryPoller) Snapshot() *domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	snap := *p.current
	return &snap
}

// Subscribe registers a listener; the returned func removes it.
func (p *InventoryPoller) Subscribe(fn CatalogListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Load renders the cached snapshot when there is one and then fetches.
func (p *InventoryPoller) Load(ctx context.Context) error {
	snap, err := p.cache.LoadSnapshot(ctx)
	if err != nil {
		p.log.Warn("inventory cache unreadable", zap.Error(err))
		snap = nil
	}

	if snap != nil {
		p.mu.Lock()
		p.state = StateCacheHit
		p.current = snap
		p.mu.Unlock()

		p.log.Info("rendering cached inventory", zap.Int("products", len(snap.Products)))
		p.emit(CatalogUpdate{Products: snap.Products, FetchedAt: snap.FetchedAt})
	} else {
		p.setState(StateCacheMiss)
	}

	return p.refresh(ctx)
}

// Poll fetches once and re-renders only on change.
func (p *InventoryPoller) Poll(ctx context.Context) error {
	return p.refresh(ctx)
}

// Run loads, then polls on the interval until ctx is done. Fetch failures
// are logged and never clear what was rendered.
func (p *InventoryPoller) Run(ctx context.Context) {
	if err := p.Load(ctx); err != nil {
		p.log.Warn("initial inventory load failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.log.Warn("inventory poll failed", zap.Error(err))
			}
		}
	}
}

func (p *InventoryPoller) refresh(ctx context.Context) error {
	p.setState(StateFetching)

	products, err := p.source.FetchCatalog(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateFetchFailed
		empty := p.current == nil
		p.mu.Unlock()

		err = fmt.Errorf("fetch catalog: %w", err)
		if empty {
			p.emit(CatalogUpdate{Err: err})
		}
		return err
	}

	p.mu.Lock()
	if p.current != nil && domain.SameCatalog(p.current.Products, products) {
		p.state = StateUnchanged
		p.mu.Unlock()
		p.log.Debug("inventory unchanged")
		return nil
	}
	snap := domain.Snapshot{Products: products, FetchedAt: time.Now().UTC()}
	p.current = &snap
	p.state = StateUpdated
	p.mu.Unlock()

	if err := p.cache.SaveSnapshot(ctx, snap); err != nil {
		p.log.Warn("inventory cache write failed", zap.Error(err))
	}

	p.log.Info("inventory updated", zap.Int("products", len(products)))
	p.emit(CatalogUpdate{Products: snap.Products, FetchedAt: snap.FetchedAt})
	return nil
}

func (p *InventoryPoller) setState(s InventoryState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *InventoryPoller) emit(update CatalogUpdate) {
	p.mu.RLock()
	listeners := make([]CatalogListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(update)
	}
}
