package websocket

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy accepts same-origin handshakes, handshakes without an Origin
// header (non-browser clients) and origins from the allow list.
type originPolicy struct {
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o = normalizeOrigin(o); o != "" {
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

func (p *originPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

// normalizeOrigin lowercases scheme://host and drops any trailing slash.
func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}
