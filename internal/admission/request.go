package admission

import (
	"net"
	"net/http"
	"strings"
)

// Request is what the guard needs to know about an inbound request.
type Request struct {
	Path       string
	Method     string
	UserID     string // authenticated principal, empty when anonymous
	RemoteAddr string
	Header     http.Header
}

// ClientKey identifies who a request is counted against. Authenticated
// requests are keyed by user so the quota follows the account across
// addresses; anonymous ones by the client address.
func ClientKey(r Request) string {
	if r.UserID != "" {
		return "user:" + r.UserID
	}
	return "ip:" + clientAddr(r)
}

func clientAddr(r Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if host != "" {
				return host
			}
		} else {
			return r.RemoteAddr
		}
	}
	return "unknown"
}
