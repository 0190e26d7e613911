package replay

import (
	"slices"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
)

// Filter selects traffic records for replay. Zero fields match everything.
type Filter struct {
	Clients []string  // client keys, e.g. "user:alice" or "ip:203.0.113.9"
	Paths   []string  // substrings of the request path
	Methods []string  // case-insensitive
	After   time.Time // exclusive
	Before  time.Time // exclusive
}

// Match reports whether r passes the filter.
func (f *Filter) Match(r recorder.TrafficRecord) bool {
	if len(f.Clients) > 0 && !slices.Contains(f.Clients, r.ClientKey()) {
		return false
	}
	if len(f.Paths) > 0 && !slices.ContainsFunc(f.Paths, func(p string) bool { return strings.Contains(r.Path, p) }) {
		return false
	}
	if len(f.Methods) > 0 && !slices.ContainsFunc(f.Methods, func(m string) bool { return strings.EqualFold(m, r.Method) }) {
		return false
	}
	if !f.After.IsZero() && !r.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}
