// Package httputil holds small request helpers shared by the API and the
// stream handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address used to key per-client limits.
//
// When trustProxy is true the first parseable address from X-Forwarded-For,
// Forwarded (RFC 7239 "for=") and X-Real-IP, in that order, wins. Header
// values that are not IP addresses are ignored so a client cannot pick an
// arbitrary limiter key. Only enable trustProxy behind a reverse proxy that
// overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if fwd := r.Header.Get("Forwarded"); fwd != "" {
			if ip, ok := forwardedFor(fwd); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor extracts the first hop's for= parameter.
func forwardedFor(header string) (string, bool) {
	first, _, _ := strings.Cut(header, ",")
	for _, pair := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(k, "for") {
			continue
		}
		return parseIP(strings.Trim(v, `"`))
	}
	return "", false
}

// parseIP accepts a bare address or one with a port, IPv6 optionally
// bracketed, and returns it in canonical form.
func parseIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
