// Package scrape fetches event pages and dispatches site-specific scrapers.
package scrape

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Capability extracts an event record from a URL on a particular site. The
// returned fields follow the run's schema order.
type Capability interface {
	// Domain is the key matched as a substring of a URL's host.
	Domain() string
	Extract(ctx context.Context, rawURL string) ([]string, error)
}

// FieldDeclarer is implemented by capabilities whose output has a fixed
// column layout.
type FieldDeclarer interface {
	Fields() []string
}

// Registry maps domain keys to capabilities. It is built once at startup and
// not modified afterwards.
type Registry struct {
	caps  map[string]Capability
	order []string // registration order decides ties
}

// NewRegistry builds a registry from caps. Domain keys must be unique and
// non-empty.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		key := strings.ToLower(strings.TrimSpace(c.Domain()))
		if key == "" {
			return nil, eris.New("scrape: capability with empty domain key")
		}
		if _, dup := r.caps[key]; dup {
			return nil, eris.Errorf("scrape: duplicate domain key %q", key)
		}
		r.caps[key] = c
		r.order = append(r.order, key)
	}
	return r, nil
}

// Lookup returns the first registered capability whose domain key occurs in
// the URL's host.
func (r *Registry) Lookup(rawURL string) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	for _, key := range r.order {
		if strings.Contains(host, key) {
			return r.caps[key], true
		}
	}
	return nil, false
}

// Domains returns the registered domain keys in registration order.
func (r *Registry) Domains() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ForFields returns a registry holding only the capabilities whose declared
// fields equal names, plus the domain keys that were left out. Capabilities
// that declare no fields are kept.
func (r *Registry) ForFields(names []string) (*Registry, []string) {
	if r == nil {
		return nil, nil
	}
	out := &Registry{caps: make(map[string]Capability, len(r.caps))}
	var skipped []string
	for _, key := range r.order {
		c := r.caps[key]
		if d, ok := c.(FieldDeclarer); ok && !slices.Equal(d.Fields(), names) {
			skipped = append(skipped, key)
			continue
		}
		out.caps[key] = c
		out.order = append(out.order, key)
	}
	return out, skipped
}
