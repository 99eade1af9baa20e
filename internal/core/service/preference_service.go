package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/port"
)

// PreferenceService stores language, theme and accessibility settings under
// their own keys. Each read falls back to its default on its own.
type PreferenceService struct {
	store    port.LocalStorage
	notifier port.Notifier
	log      *zap.Logger
}

func NewPreferenceService(store port.LocalStorage, notifier port.Notifier, log *zap.Logger) *PreferenceService {
	return &PreferenceService{store: store, notifier: notifier, log: log}
}

func (s *PreferenceService) Language(ctx context.Context, session string) string {
	lang, ok := s.read(ctx, session, domain.LanguageKey)
	if !ok || !domain.IsSupportedLanguage(lang) {
		return domain.DefaultLanguage
	}
	return lang
}

func (s *PreferenceService) SetLanguage(ctx context.Context, scope domain.Scope, lang string) error {
	if !domain.IsSupportedLanguage(lang) {
		return domain.ErrUnsupportedLanguage
	}
	if err := s.store.SetItem(ctx, scope, domain.LanguageKey, lang); err != nil {
		return fmt.Errorf("save language: %w", err)
	}

	s.notifier.Notify(ctx, scope, domain.TopicLanguageChanged)
	return nil
}

func (s *PreferenceService) Theme(ctx context.Context, session string) domain.Theme {
	v, ok := s.read(ctx, session, domain.ThemeKey)
	if ok && domain.Theme(v) == domain.ThemeDark {
		return domain.ThemeDark
	}
	return domain.ThemeLight
}

func (s *PreferenceService) SetTheme(ctx context.Context, scope domain.Scope, theme domain.Theme) error {
	if theme != domain.ThemeLight && theme != domain.ThemeDark {
		return domain.ErrUnsupportedTheme
	}
	if err := s.store.SetItem(ctx, scope, domain.ThemeKey, string(theme)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}

	s.notifier.Notify(ctx, scope, domain.TopicPreferencesChanged)
	return nil
}

func (s *PreferenceService) Accessibility(ctx context.Context, session string) domain.Accessibility {
	raw, ok := s.read(ctx, session, domain.AccessibilityKey)
	if !ok {
		return domain.DefaultAccessibility()
	}

	a := domain.DefaultAccessibility()
	if err := json.Unmarshal([]byte(raw), &a); err != nil || a.Validate() != nil {
		s.log.Warn("accessibility settings corrupt, using defaults", zap.String("session", session))
		return domain.DefaultAccessibility()
	}
	return a
}

func (s *PreferenceService) SetAccessibility(ctx context.Context, scope domain.Scope, a domain.Accessibility) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode accessibility: %w", err)
	}
	if err := s.store.SetItem(ctx, scope, domain.AccessibilityKey, string(data)); err != nil {
		return fmt.Errorf("save accessibility: %w", err)
	}

	s.notifier.Notify(ctx, scope, domain.TopicPreferencesChanged)
	return nil
}

func (s *PreferenceService) ResetAccessibility(ctx context.Context, scope domain.Scope) error {
	return s.SetAccessibility(ctx, scope, domain.DefaultAccessibility())
}

func (s *PreferenceService) Get(ctx context.Context, session string) domain.Preferences {
	lang := s.Language(ctx, session)
	return domain.Preferences{
		Language:      lang,
		Direction:     domain.TextDirection(lang),
		Theme:         s.Theme(ctx, session),
		Accessibility: s.Accessibility(ctx, session),
	}
}

func (s *PreferenceService) read(ctx context.Context, session, key string) (string, bool) {
	v, ok, err := s.store.GetItem(ctx, session, key)
	if err != nil {
		s.log.Warn("preference unreadable", zap.String("session", session), zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}
