package catalog

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
)

// ErrNoValidSources is returned when none of the requested sources is
// whitelisted.
var ErrNoValidSources = domain.InvalidRequest("no valid sources selected", nil)

// DefaultSources are the retailer tables the scrapers populate.
var DefaultSources = []string{
	"hm_products",
	"weekday_products",
	"zara_products",
	"follestad_products",
}

// Whitelist is the fixed set of retailer sources the service may query.
// Membership never changes after construction.
type Whitelist struct {
	order []string
	set   map[string]struct{}
}

// NewWhitelist builds a whitelist. Blank and repeated ids are ignored.
func NewWhitelist(sources []string) *Whitelist {
	w := &Whitelist{set: make(map[string]struct{}, len(sources))}
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := w.set[s]; ok {
			continue
		}
		w.set[s] = struct{}{}
		w.order = append(w.order, s)
	}
	return w
}

// Allows reports whether source is whitelisted.
func (w *Whitelist) Allows(source string) bool {
	_, ok := w.set[source]
	return ok
}

// Sources returns the whitelisted ids in configured order.
func (w *Whitelist) Sources() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Filter keeps the requested sources that are whitelisted, in request order.
// Unknown entries are dropped silently; duplicates pass through.
func (w *Whitelist) Filter(requested []string) ([]string, error) {
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if w.Allows(r) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoValidSources
	}
	return out, nil
}

// SplitSources splits a comma-separated source list, trimming blanks.
func SplitSources(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
