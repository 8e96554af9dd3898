// Package persona holds the localized assistant texts: system instructions,
// voice selection, fallback replies, follow-up questions and quick replies.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed persona.yaml
var defaultCatalog []byte

type Service struct {
	Slug    string   `yaml:"slug"`
	Aliases []string `yaml:"aliases"`
}

type Locale struct {
	Code          string              `yaml:"-"`
	LanguageCode  string              `yaml:"language_code"`
	Voice         string              `yaml:"voice"`
	Instructions  string              `yaml:"instructions"`
	Fallback      string              `yaml:"fallback"`
	Exhausted     string              `yaml:"exhausted"`
	LoginRequired string              `yaml:"login_required"`
	FollowUps     map[string]string   `yaml:"follow_ups"`
	QuickReplies  map[string][]string `yaml:"quick_replies"`
}

type Catalog struct {
	DefaultLocale string            `yaml:"default_locale"`
	Services      []Service         `yaml:"services"`
	Pages         []string          `yaml:"pages"`
	Locales       map[string]Locale `yaml:"locales"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode persona catalog: %w", err)
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	if len(c.Locales) == 0 {
		return nil, fmt.Errorf("persona catalog has no locales")
	}
	normalized := make(map[string]Locale, len(c.Locales))
	for code, loc := range c.Locales {
		code = NormalizeLocale(code)
		loc.Code = code
		if strings.TrimSpace(loc.Instructions) == "" {
			return nil, fmt.Errorf("persona locale %q: instructions are required", code)
		}
		if strings.TrimSpace(loc.Fallback) == "" {
			return nil, fmt.Errorf("persona locale %q: fallback is required", code)
		}
		normalized[code] = loc
	}
	c.Locales = normalized
	if _, ok := c.Locales[c.DefaultLocale]; !ok {
		return nil, fmt.Errorf("persona catalog: default locale %q is not defined", c.DefaultLocale)
	}
	return &c, nil
}

// NormalizeLocale reduces "tr-TR" or "TR" to "tr". Empty input yields "en".
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if locale == "" {
		return "en"
	}
	return locale
}

// For returns the texts for locale, falling back to the default locale.
func (c *Catalog) For(locale string) Locale {
	if loc, ok := c.Locales[NormalizeLocale(locale)]; ok {
		return loc
	}
	return c.Locales[c.DefaultLocale]
}

// ServiceAliases maps every alias and slug (lowercased) to its canonical slug.
func (c *Catalog) ServiceAliases() map[string]string {
	out := make(map[string]string)
	for _, svc := range c.Services {
		slug := strings.ToLower(strings.TrimSpace(svc.Slug))
		if slug == "" {
			continue
		}
		out[slug] = slug
		for _, a := range svc.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				out[a] = slug
			}
		}
	}
	return out
}

func (l Locale) FollowUp(field string) string {
	return l.FollowUps[field]
}

func (l Locale) QuickRepliesFor(key string) []string {
	replies := l.QuickReplies[key]
	if len(replies) == 0 {
		return nil
	}
	out := make([]string, len(replies))
	copy(out, replies)
	return out
}

// ExhaustedReply falls back to the generic fallback when no dedicated text exists.
func (l Locale) ExhaustedReply() string {
	if strings.TrimSpace(l.Exhausted) != "" {
		return l.Exhausted
	}
	return l.Fallback
}

// Caller is the per-request context appended to a locale's instructions.
type Caller struct {
	IsLoggedIn bool
	Latitude   *float64
	Longitude  *float64
	Voice      bool
}

// SystemInstruction renders the locale instructions for one caller.
func (l Locale) SystemInstruction(c Caller) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(l.Instructions))
	b.WriteString("\n\n")
	if c.IsLoggedIn {
		b.WriteString("The user is logged in; profile changes such as save_cv_data are allowed.\n")
	} else {
		b.WriteString("The user is not logged in; save_cv_data will ask them to log in first.\n")
	}
	if c.Latitude != nil && c.Longitude != nil {
		fmt.Fprintf(&b, "The user's device location is latitude %.5f, longitude %.5f. Prefer nearby results.\n", *c.Latitude, *c.Longitude)
	}
	if c.Voice {
		b.WriteString("This is a spoken conversation: answer briefly, without markdown or lists.\n")
	}
	return strings.TrimSpace(b.String())
}
