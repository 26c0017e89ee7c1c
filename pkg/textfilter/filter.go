// Package textfilter separates genuine user content from system noise in
// raw CRM message payloads. Messenger integrations prefix messages with
// BB-style markup ([img]...[/img] platform icons, [url=...] wrappers) and
// inject template notifications; both must be recognized before records
// reach the user.
package textfilter

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultSystemMarker identifies messages generated by the messenger
// bridge itself. A message containing it is system-internal as a whole.
const DefaultSystemMarker = "=== SYSTEM WZ ==="

// DefaultTemplatePhrases are boilerplate notification fragments observed
// in exported data ("you have N unread", "reply in the chat", deal-created
// banners). The set is filter data, not a documented API contract.
var DefaultTemplatePhrases = []string{
	"непрочитанных из",
	"Ответить в",
	"на канал",
	"Сделка по обращению",
}

// nbsp is the non-breaking-space artifact left next to platform icons.
const nbsp = "&nbsp;"

var (
	imgTagPattern = regexp.MustCompile(`(?is)\[img\].*?\[/img\]`)
	urlTagPattern = regexp.MustCompile(`(?is)\[url(?:=[^\]]*)?\]|\[/url\]`)
)

// Config holds the filter's marker and phrase lists.
type Config struct {
	// SystemMarkers discard the whole message on an exact substring match.
	SystemMarkers []string

	// TemplatePhrases discard the whole message when any phrase occurs.
	TemplatePhrases []string
}

// DefaultConfig returns the marker and phrase sets observed in sampled
// production data.
func DefaultConfig() Config {
	return Config{
		SystemMarkers:   []string{DefaultSystemMarker},
		TemplatePhrases: DefaultTemplatePhrases,
	}
}

// Filter classifies and cleans raw message text.
type Filter struct {
	cfg    Config
	policy *bluemonday.Policy
}

// New creates a filter. Zero-valued config fields fall back to defaults;
// an explicitly empty slice disables that rule set.
func New(cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.SystemMarkers == nil {
		cfg.SystemMarkers = def.SystemMarkers
	}
	if cfg.TemplatePhrases == nil {
		cfg.TemplatePhrases = def.TemplatePhrases
	}
	return &Filter{
		cfg:    cfg,
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean decides whether raw text is genuine user content and returns its
// cleaned form. ok=false means discard: the message is empty, system-
// internal, or boilerplate. Discard rules run before any stripping, so a
// system marker buried mid-message still discards the whole payload.
func (f *Filter) Clean(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	for _, marker := range f.cfg.SystemMarkers {
		if strings.Contains(raw, marker) {
			return "", false
		}
	}

	for _, phrase := range f.cfg.TemplatePhrases {
		if strings.Contains(raw, phrase) {
			return "", false
		}
	}

	cleaned := f.strip(raw)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

// strip removes markup wrappers and artifacts: [img] spans go entirely
// (they wrap platform icon URLs), [url] tags go but their inner text
// stays, then residual HTML and the &nbsp; artifact are dropped.
func (f *Filter) strip(text string) string {
	text = imgTagPattern.ReplaceAllString(text, "")
	text = urlTagPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, nbsp, "")
	text = f.policy.Sanitize(text)
	// Sanitizing entity-escapes the survivors; undo that for plain text.
	text = html.UnescapeString(text)
	return strings.TrimSpace(text)
}
