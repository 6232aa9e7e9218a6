package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed validates r's Origin header against an allow-list.
//
// Entries may be:
//   - "*", allowing any origin
//   - a full origin with scheme, e.g. "https://snap.example.com"
//   - a hostname, e.g. "example.com" (any scheme or port)
//   - a host:port pair, e.g. "localhost:5173"
//   - a wildcard, e.g. "*.example.com" (subdomains only)
//
// Hostname comparisons ignore case. A request without Origin is accepted only
// when allowNoOrigin is set.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	var host, hostname string
	if u, err := url.Parse(origin); err == nil {
		host = strings.ToLower(u.Host)
		hostname = strings.ToLower(u.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			return true
		case strings.Contains(entry, "://"):
			if strings.EqualFold(strings.TrimSuffix(entry, "/"), origin) {
				return true
			}
		case strings.HasPrefix(entry, "*."):
			base := strings.ToLower(strings.TrimPrefix(entry, "*."))
			if base != "" && strings.HasSuffix(hostname, "."+base) {
				return true
			}
		default:
			entry = strings.ToLower(entry)
			if _, _, err := net.SplitHostPort(entry); err == nil {
				if host == entry {
					return true
				}
				continue
			}
			if hostname != "" && hostname == entry {
				return true
			}
		}
	}
	return false
}

// NewOriginChecker returns a websocket upgrader CheckOrigin function.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
