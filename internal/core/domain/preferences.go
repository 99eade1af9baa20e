package domain

import "errors"

// Storage keys for independently persisted preferences.
const (
	LanguageKey      = "preferredLang"
	ThemeKey         = "theme"
	AccessibilityKey = "a11y-settings"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrUnsupportedTheme    = errors.New("unsupported theme")
	ErrUnsupportedFontSize = errors.New("unsupported font size")
)

// SupportedLanguages in the order the language switcher lists them.
var SupportedLanguages = []string{"en", "sv", "fa", "de", "ar", "tr"}

func IsSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// TextDirection is rtl for Farsi, ltr otherwise.
func TextDirection(lang string) string {
	if lang == "fa" {
		return "rtl"
	}
	return "ltr"
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type FontSize string

const (
	FontNormal FontSize = "font-normal"
	FontLarge  FontSize = "font-large"
	FontXL     FontSize = "font-xl"
)

type Accessibility struct {
	FontSize     FontSize `json:"fontSize"`
	HighContrast bool     `json:"highContrast"`
	Greyscale    bool     `json:"greyscale"`
}

func DefaultAccessibility() Accessibility {
	return Accessibility{FontSize: FontNormal}
}

func (a Accessibility) Validate() error {
	switch a.FontSize {
	case FontNormal, FontLarge, FontXL:
		return nil
	}
	return ErrUnsupportedFontSize
}

type Preferences struct {
	Language      string        `json:"language"`
	Direction     string        `json:"direction"`
	Theme         Theme         `json:"theme"`
	Accessibility Accessibility `json:"accessibility"`
}
