package port

import (
	"context"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// Notifier tells the originating tab about a change it just made.
type Notifier interface {
	Notify(ctx context.Context, scope domain.Scope, topic domain.Topic)
}
