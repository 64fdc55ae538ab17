// Package i18n translates panel phrases. Built-in locales are embedded;
// custom ones are read from <profile>/locale/<lang>.yaml (or .json).
package i18n

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"fxpanel/internal/domain"
)

//go:embed locales/*.yaml
var builtin embed.FS

// pluralSep separates the singular and plural forms of a phrase.
const pluralSep = "||||"

var varRe = regexp.MustCompile(`%\{(\w+)\}`)

// Translator implements domain.Translator over a flattened phrase table.
type Translator struct {
	mu      sync.RWMutex
	lang    string
	phrases map[string]string
	logger  *slog.Logger
}

// New loads lang, looking for custom locales in customDir.
func New(lang, customDir string, logger *slog.Logger) (*Translator, error) {
	t := &Translator{logger: logger}
	if err := t.Load(lang, customDir); err != nil {
		return nil, err
	}
	return t, nil
}

// Load replaces the active phrases. On error the previous phrases stay.
func (t *Translator) Load(lang, customDir string) error {
	phrases, err := loadPhrases(lang, customDir)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.lang = lang
	t.phrases = phrases
	t.mu.Unlock()
	return nil
}

// Language returns the active language code.
func (t *Translator) Language() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lang
}

// T implements domain.Translator. Missing keys are logged and returned as is.
func (t *Translator) T(key string, vars map[string]string) string {
	t.mu.RLock()
	phrase, ok := t.phrases[key]
	t.mu.RUnlock()
	if !ok {
		t.logger.Error("missing key from translation file", "key", key)
		return key
	}
	return Interpolate(choosePlural(phrase, vars), vars)
}

// Interpolate replaces %{name} placeholders with vars. Unknown names are kept.
func Interpolate(phrase string, vars map[string]string) string {
	if len(vars) == 0 {
		return phrase
	}
	return varRe.ReplaceAllStringFunc(phrase, func(m string) string {
		if v, ok := vars[m[2:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// choosePlural picks the singular or plural form using smart_count.
func choosePlural(phrase string, vars map[string]string) string {
	if !strings.Contains(phrase, pluralSep) {
		return phrase
	}
	forms := strings.Split(phrase, pluralSep)
	idx := 0
	if n, err := strconv.Atoi(vars["smart_count"]); err != nil || n != 1 {
		idx = 1
	}
	if idx >= len(forms) {
		idx = len(forms) - 1
	}
	return strings.TrimSpace(forms[idx])
}

// Languages lists the embedded language codes.
func Languages() []string {
	entries, _ := builtin.ReadDir("locales")
	langs := make([]string, 0, len(entries))
	for _, e := range entries {
		langs = append(langs, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(langs)
	return langs
}

func loadPhrases(lang, customDir string) (map[string]string, error) {
	if lang == "" {
		lang = "en"
	}
	data, err := builtin.ReadFile("locales/" + lang + ".yaml")
	if err != nil {
		data, err = readCustom(lang, customDir)
		if err != nil {
			return nil, domain.NewSubSystemError("i18n", "i18n.Load", domain.ErrNotFound,
				fmt.Sprintf("locale %q: %v", lang, err))
		}
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, domain.NewSubSystemError("i18n", "i18n.Load", domain.ErrInvalidInput,
			fmt.Sprintf("locale %q: %v", lang, err))
	}
	phrases := make(map[string]string)
	flatten("", tree, phrases)
	return phrases, nil
}

// readCustom reads <dir>/<lang>.yaml, falling back to .json.
func readCustom(lang, dir string) ([]byte, error) {
	if dir == "" {
		return nil, fmt.Errorf("no custom locale directory")
	}
	if strings.ContainsAny(lang, `/\.`) {
		return nil, fmt.Errorf("invalid language code")
	}
	data, err := os.ReadFile(filepath.Join(dir, lang+".yaml"))
	if err == nil {
		return data, nil
	}
	// JSON is valid YAML.
	return os.ReadFile(filepath.Join(dir, lang+".json"))
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

var _ domain.Translator = (*Translator)(nil)
