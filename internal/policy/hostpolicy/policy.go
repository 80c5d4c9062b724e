// Package hostpolicy decides which hosts may be submitted for extraction.
package hostpolicy

import (
	"net/url"
	"strings"
)

// Policy blocks exact hosts and wildcard suffixes such as "*.internal" or
// ".local". The zero value allows everything.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy from blocklist patterns. Blank patterns are ignored.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Blocked reports whether host matches an exact entry or a suffix.
func (p *Policy) Blocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowURL reports whether rawURL's host may be fetched. Unparseable URLs are
// left to the caller's own validation.
func (p *Policy) AllowURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return !p.Blocked(u.Hostname())
}
