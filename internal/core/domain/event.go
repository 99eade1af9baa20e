package domain

// Scope addresses one open tab of one session. A session is the unit that
// shares stored state; tabs of the same session see each other's writes.
type Scope struct {
	Session string
	Tab     string
}

type Topic string

const (
	TopicCartChanged        Topic = "cart_changed"
	TopicLanguageChanged    Topic = "language_changed"
	TopicPreferencesChanged Topic = "preferences_changed"
)

// TopicForKey maps a storage key to the signal other tabs should react to.
func TopicForKey(key string) (Topic, bool) {
	switch key {
	case CartKey:
		return TopicCartChanged, true
	case LanguageKey:
		return TopicLanguageChanged, true
	case ThemeKey, AccessibilityKey:
		return TopicPreferencesChanged, true
	}
	return "", false
}

// StorageEvent is raised by a storage adapter when a stored value changed.
// It names the key only; receivers re-read the store.
type StorageEvent struct {
	Session string `json:"session"`
	Tab     string `json:"tab"`
	Key     string `json:"key"`
}

// Signal is what subscribers receive. Remote is set when the change came
// from another tab through storage.
type Signal struct {
	Topic   Topic  `json:"topic"`
	Session string `json:"session"`
	Origin  string `json:"origin"`
	Remote  bool   `json:"remote"`
}
