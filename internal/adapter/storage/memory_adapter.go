package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// MemoryAdapter keeps everything in process. It backs single-node runs
// without Redis and the tests; values survive only as long as the process.
type MemoryAdapter struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
	snapshot []byte
	guards   map[string]time.Time

	subsMu sync.Mutex
	subs   map[chan domain.StorageEvent]struct{}
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		sessions: make(map[string]map[string]string),
		guards:   make(map[string]time.Time),
		subs:     make(map[chan domain.StorageEvent]struct{}),
	}
}

func (m *MemoryAdapter) GetItem(ctx context.Context, session, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.sessions[session][key]
	return value, ok, nil
}

func (m *MemoryAdapter) SetItem(ctx context.Context, scope domain.Scope, key, value string) error {
	m.mu.Lock()
	items := m.sessions[scope.Session]
	if items == nil {
		items = make(map[string]string)
		m.sessions[scope.Session] = items
	}
	current, existed := items[key]
	items[key] = value
	m.mu.Unlock()

	if !existed || current != value {
		m.publish(domain.StorageEvent{Session: scope.Session, Tab: scope.Tab, Key: key})
	}
	return nil
}

func (m *MemoryAdapter) RemoveItem(ctx context.Context, scope domain.Scope, key string) error {
	m.mu.Lock()
	_, existed := m.sessions[scope.Session][key]
	delete(m.sessions[scope.Session], key)
	m.mu.Unlock()

	if existed {
		m.publish(domain.StorageEvent{Session: scope.Session, Tab: scope.Tab, Key: key})
	}
	return nil
}

func (m *MemoryAdapter) publish(ev domain.StorageEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *MemoryAdapter) Events(ctx context.Context) (<-chan domain.StorageEvent, error) {
	ch := make(chan domain.StorageEvent, eventBuffer)

	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subsMu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.subsMu.Unlock()
	}()

	return ch, nil
}

func (m *MemoryAdapter) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	m.mu.RLock()
	data := m.snapshot
	m.mu.RUnlock()

	if data == nil {
		return nil, nil
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (m *MemoryAdapter) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.snapshot = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if until, ok := m.guards[key]; ok && now.Before(until) {
		return false, nil
	}
	m.guards[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryAdapter) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.guards, key)
	return nil
}
