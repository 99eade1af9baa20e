package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/pricing"
	"github.com/rl1809/cart-sync/internal/core/signal"
)

const languageReadTimeout = 2 * time.Second

// SignalSource is the part of the signal hub workspaces listen on.
type SignalSource interface {
	Subscribe(scope domain.Scope, fn signal.Handler) func()
}

// WorkspaceService keeps one Workspace per open tab and feeds it catalog
// updates and language changes.
type WorkspaceService struct {
	inventory   *InventoryPoller
	prefs       *PreferenceService
	signals     SignalSource
	frequencies []pricing.Frequency
	log         *zap.Logger

	mu         sync.Mutex
	workspaces map[domain.Scope]*Workspace
	stop       func()
}

func NewWorkspaceService(inventory *InventoryPoller, prefs *PreferenceService, signals SignalSource, frequencies []pricing.Frequency, log *zap.Logger) *WorkspaceService {
	if len(frequencies) == 0 {
		frequencies = pricing.DefaultFrequencies
	}
	s := &WorkspaceService{
		inventory:   inventory,
		prefs:       prefs,
		signals:     signals,
		frequencies: frequencies,
		log:         log,
		workspaces:  make(map[domain.Scope]*Workspace),
	}
	s.stop = inventory.Subscribe(s.onCatalog)
	return s
}

// Open returns the tab's workspace, creating and rendering it on first use.
func (s *WorkspaceService) Open(ctx context.Context, scope domain.Scope) *Workspace {
	s.mu.Lock()
	ws, ok := s.workspaces[scope]
	s.mu.Unlock()
	if ok {
		return ws
	}

	// the language read may hit the network; keep it outside the lock
	lang := s.prefs.Language(ctx, scope.Session)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[scope]; ok {
		return ws
	}

	ws = newWorkspace(lang, s.frequencies)
	if snap := s.inventory.Snapshot(); snap != nil {
		ws.apply(CatalogUpdate{Products: snap.Products, FetchedAt: snap.FetchedAt})
	} else if s.inventory.State() == StateFetchFailed {
		ws.apply(CatalogUpdate{Err: ErrCatalogUnavailable})
	}

	ws.unsubscribe = s.signals.Subscribe(scope, func(sig domain.Signal) {
		if sig.Topic != domain.TopicLanguageChanged {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), languageReadTimeout)
		defer cancel()
		lang := s.prefs.Language(ctx, scope.Session)
		s.log.Debug("re-rendering workspace for language",
			zap.String("session", scope.Session),
			zap.String("tab", scope.Tab),
			zap.String("lang", lang),
		)
		ws.setLanguage(lang)
	})

	s.workspaces[scope] = ws
	return ws
}

func (s *WorkspaceService) Close(scope domain.Scope) {
	s.mu.Lock()
	ws, ok := s.workspaces[scope]
	delete(s.workspaces, scope)
	s.mu.Unlock()

	if ok && ws.unsubscribe != nil {
		ws.unsubscribe()
	}
}

// Sweep closes workspaces nobody looked at for longer than idle.
func (s *WorkspaceService) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	var stale []domain.Scope
	s.mu.Lock()
	for scope, ws := range s.workspaces {
		ws.mu.Lock()
		old := ws.touched.Before(cutoff)
		ws.mu.Unlock()
		if old {
			stale = append(stale, scope)
		}
	}
	s.mu.Unlock()

	for _, scope := range stale {
		s.Close(scope)
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is done.
func (s *WorkspaceService) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				s.log.Info("closed idle workspaces", zap.Int("count", n))
			}
		}
	}
}

func (s *WorkspaceService) Shutdown() {
	s.stop()

	s.mu.Lock()
	scopes := make([]domain.Scope, 0, len(s.workspaces))
	for scope := range s.workspaces {
		scopes = append(scopes, scope)
	}
	s.mu.Unlock()

	for _, scope := range scopes {
		s.Close(scope)
	}
}

func (s *WorkspaceService) onCatalog(update CatalogUpdate) {
	s.mu.Lock()
	open := make([]*Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		open = append(open, ws)
	}
	s.mu.Unlock()

	for _, ws := range open {
		ws.apply(update)
	}
}
