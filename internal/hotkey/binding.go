package hotkey

import (
	"fmt"
	"strings"

	"github.com/rbright/dictum/internal/config"
)

// Kind classifies what a binding does when its key combination fires.
type Kind int

const (
	KindPushToTalk Kind = iota + 1
	KindToggle
	KindLanguage
)

func (k Kind) String() string {
	switch k {
	case KindPushToTalk:
		return "push_to_talk"
	case KindToggle:
		return "toggle"
	case KindLanguage:
		return "language"
	default:
		return "unknown"
	}
}

// Binding is one resolved activation rule: a normalized primary key, the
// modifiers that must be held with it, and the recognition language the
// session switches to when it fires.
type Binding struct {
	Kind      Kind
	Key       string
	Modifiers []string
	Language  string
}

// keyAliases folds config spellings onto the canonical key names emitted by
// the hook source.
var keyAliases = map[string]string{
	"control": "ctrl",
	"command": "cmd",
	"super":   "cmd",
	"win":     "cmd",
	"option":  "alt",
	"esc":     "escape",
	"return":  "enter",
}

// NormalizeKey lowercases a key name and folds known aliases.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[key]; ok {
		return alias
	}
	return key
}

// CompileBindings resolves the configured hotkeys into an ordered rule list.
// Language bindings come first, then push-to-talk, then toggle, so a key
// shared across categories resolves to the language binding. A binding with
// no language falls back to defaultLanguage.
func CompileBindings(cfg config.HotkeysConfig, defaultLanguage string) ([]Binding, error) {
	var bindings []Binding

	for i, lb := range cfg.Languages {
		key := NormalizeKey(lb.Key)
		if key == "" {
			return nil, fmt.Errorf("language hotkey %d has no key", i+1)
		}
		language := strings.TrimSpace(lb.Language)
		if language == "" {
			language = defaultLanguage
		}
		bindings = append(bindings, Binding{
			Kind:      KindLanguage,
			Key:       key,
			Modifiers: normalizeModifiers(lb.Modifiers),
			Language:  language,
		})
	}

	if key := NormalizeKey(cfg.PushToTalk.Key); key != "" {
		bindings = append(bindings, Binding{
			Kind:      KindPushToTalk,
			Key:       key,
			Modifiers: normalizeModifiers(cfg.PushToTalk.Modifiers),
			Language:  defaultLanguage,
		})
	}

	if key := NormalizeKey(cfg.Toggle.Key); key != "" {
		bindings = append(bindings, Binding{
			Kind:      KindToggle,
			Key:       key,
			Modifiers: normalizeModifiers(cfg.Toggle.Modifiers),
			Language:  defaultLanguage,
		})
	}

	return bindings, nil
}

func normalizeModifiers(modifiers []string) []string {
	var out []string
	for _, m := range modifiers {
		key := NormalizeKey(m)
		if key == "" || containsKey(out, key) {
			continue
		}
		out = append(out, key)
	}
	return out
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
