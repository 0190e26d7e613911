package admission

import (
	"net/http"
	"strconv"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
)

// ErrorCode is the machine-readable code carried by every denial.
const ErrorCode = "RATE_LIMIT_EXCEEDED"

// resetLayout is ISO-8601 in UTC with millisecond precision.
const resetLayout = "2006-01-02T15:04:05.000Z"

// Header names set on admitted and denied responses.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderWindow     = "X-RateLimit-Window"
	HeaderRetryAfter = "Retry-After"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed bool
	Status  int         // 429 on denial, 0 otherwise
	Body    *DenialBody // set on denial only
	Header  http.Header // response headers to apply, empty on fail-open

	Policy  policy.Policy
	Key     string // store key: policy name + ":" + client key
	Count   int64
	ResetAt time.Time

	// FailOpen is set when the store could not be consulted and the request
	// was admitted without being counted.
	FailOpen bool

	counted bool
}

// Remaining is how many more requests fit in the current window. It is 0
// for fail-open results, whose count is unknown.
func (r Result) Remaining() int {
	if r.FailOpen {
		return 0
	}
	if rem := int64(r.Policy.MaxRequests) - r.Count; rem > 0 {
		return int(rem)
	}
	return 0
}

// DenialBody is the JSON body of a 429 response.
type DenialBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetTime  string `json:"resetTime"`
}

func formatReset(t time.Time) string {
	return t.UTC().Format(resetLayout)
}

func counterHeaders(p policy.Policy, remaining int, resetAt time.Time) http.Header {
	h := make(http.Header, 5)
	h.Set(HeaderLimit, strconv.Itoa(p.MaxRequests))
	h.Set(HeaderRemaining, strconv.Itoa(remaining))
	h.Set(HeaderReset, formatReset(resetAt))
	h.Set(HeaderWindow, strconv.FormatInt(p.Window.Milliseconds(), 10))
	return h
}

// retryAfterSeconds rounds the time left in the window up to whole seconds.
func retryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
