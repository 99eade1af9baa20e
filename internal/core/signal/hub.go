// Package signal fans change notifications out to open tabs. A tab that
// changes something hears about it synchronously through Notify; the other
// tabs of the same session hear about it when storage raises an event for
// the written key. Neither path carries the new value.
package signal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

const watchBuffer = 16

type Handler func(domain.Signal)

type subscription struct {
	scope   domain.Scope
	handler Handler
}

type Hub struct {
	log  *zap.Logger
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe registers fn for signals addressed to scope. The returned func
// removes the subscription.
func (h *Hub) Subscribe(scope domain.Scope, fn Handler) func() {
	sub := &subscription{scope: scope, handler: fn}

	h.mu.Lock()
	if h.subs[scope.Session] == nil {
		h.subs[scope.Session] = make(map[*subscription]struct{})
	}
	h.subs[scope.Session][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[scope.Session], sub)
			if len(h.subs[scope.Session]) == 0 {
				delete(h.subs, scope.Session)
			}
		})
	}
}

// Notify delivers an in-page signal to the subscribers of the same tab
// before returning.
func (h *Hub) Notify(ctx context.Context, scope domain.Scope, topic domain.Topic) {
	sig := domain.Signal{Topic: topic, Session: scope.Session, Origin: scope.Tab}
	for _, sub := range h.matching(scope.Session, func(s *subscription) bool {
		return s.scope.Tab == scope.Tab
	}) {
		sub.handler(sig)
	}
}

// Run relays storage events to the other tabs of the writing session until
// ctx is done.
func (h *Hub) Run(ctx context.Context, events port.StorageEvents) error {
	ch, err := events.Events(ctx)
	if err != nil {
		return fmt.Errorf("subscribe storage events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			h.relay(ev)
		}
	}
}

func (h *Hub) relay(ev domain.StorageEvent) {
	topic, ok := domain.TopicForKey(ev.Key)
	if !ok {
		return
	}

	sig := domain.Signal{Topic: topic, Session: ev.Session, Origin: ev.Tab, Remote: true}
	subs := h.matching(ev.Session, func(s *subscription) bool {
		return s.scope.Tab != ev.Tab
	})
	h.log.Debug("relaying storage event",
		zap.String("session", ev.Session),
		zap.String("key", ev.Key),
		zap.Int("receivers", len(subs)),
	)
	for _, sub := range subs {
		sub.handler(sig)
	}
}

func (h *Hub) matching(session string, keep func(*subscription) bool) []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*subscription, 0, len(h.subs[session]))
	for sub := range h.subs[session] {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	return out
}

// Watch exposes the signals of one tab as a channel, closed once ctx is
// done. A watcher that falls behind loses signals; each one only asks the
// tab to re-read, so a later signal covers a dropped one.
func (h *Hub) Watch(ctx context.Context, scope domain.Scope) <-chan domain.Signal {
	out := make(chan domain.Signal, watchBuffer)

	var mu sync.Mutex
	closed := false
	cancel := h.Subscribe(scope, func(sig domain.Signal) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- sig:
		default:
			h.log.Debug("watcher behind, dropping signal",
				zap.String("session", scope.Session),
				zap.String("tab", scope.Tab),
				zap.String("topic", string(sig.Topic)),
			)
		}
	})

	go func() {
		<-ctx.Done()
		cancel()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out
}
