package port

import (
	"context"
	"time"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// LocalStorage is the durable per-session key/value space every tab reads
// and writes. Values are opaque strings, usually JSON.
type LocalStorage interface {
	// GetItem returns ok=false when the key was never written
	GetItem(ctx context.Context, session, key string) (value string, ok bool, err error)

	// SetItem stores value and raises a StorageEvent when it differs from the stored one
	SetItem(ctx context.Context, scope domain.Scope, key, value string) error

	// RemoveItem deletes key and raises a StorageEvent when it existed
	RemoveItem(ctx context.Context, scope domain.Scope, key string) error
}

// StorageEvents streams change notifications raised by LocalStorage writes.
type StorageEvents interface {
	// Events delivers events for all sessions until ctx is done
	Events(ctx context.Context) (<-chan domain.StorageEvent, error)
}

// SnapshotCache is a best-effort read-through cache of the catalog.
type SnapshotCache interface {
	LoadSnapshot(ctx context.Context) (*domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error
}

// SubmissionGuard keeps a form from being submitted twice while a request
// for it is still in flight.
type SubmissionGuard interface {
	// Acquire returns false if the key is already held
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Release(ctx context.Context, key string) error
}
