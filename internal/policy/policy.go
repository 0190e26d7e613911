// Package policy defines the named quotas requests are admitted against and
// the selector that maps a request path to one of them.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Names of the built-in policies.
const (
	Auth     = "auth"
	API      = "api"
	Upload   = "upload"
	Critical = "critical"
	Public   = "public"
)

// ErrInvalid is returned for policies that can never admit a request.
var ErrInvalid = errors.New("invalid policy")

// Policy is a fixed-window quota: at most MaxRequests counted requests per
// client within Window.
type Policy struct {
	Name        string        `json:"name" yaml:"name"`
	Window      time.Duration `json:"window" yaml:"window"`
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Message     string        `json:"message" yaml:"message"`

	// CountSuccessResponses and CountFailureResponses decide whether a request
	// keeps its slot once the response status is known. A request whose
	// outcome is not counted is given back after the handler runs.
	CountSuccessResponses bool `json:"count_success_responses" yaml:"count_success_responses"`
	CountFailureResponses bool `json:"count_failure_responses" yaml:"count_failure_responses"`
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: %s: window must be positive, got %s", ErrInvalid, p.Name, p.Window)
	}
	if p.MaxRequests < 1 {
		return fmt.Errorf("%w: %s: max requests must be at least 1, got %d", ErrInvalid, p.Name, p.MaxRequests)
	}
	return nil
}

// Rate is the admitted request rate in requests per second.
func (p Policy) Rate() float64 {
	if p.Window <= 0 {
		return 0
	}
	return float64(p.MaxRequests) / p.Window.Seconds()
}

// Defaults returns the built-in catalogue. The slice is freshly allocated on
// every call.
func Defaults() []Policy {
	return []Policy{
		{
			Name:                  Auth,
			Window:                15 * time.Minute,
			MaxRequests:           5,
			Message:               "Too many authentication attempts, please try again later.",
			CountSuccessResponses: false,
			CountFailureResponses: true,
		},
		{
			Name:                  API,
			Window:                time.Hour,
			MaxRequests:           1000,
			Message:               "API rate limit exceeded, please try again later.",
			CountSuccessResponses: true,
			CountFailureResponses: true,
		},
		{
			Name:                  Upload,
			Window:                time.Hour,
			MaxRequests:           20,
			Message:               "Upload limit exceeded, please try again later.",
			CountSuccessResponses: true,
			CountFailureResponses: true,
		},
		{
			Name:                  Critical,
			Window:                time.Hour,
			MaxRequests:           10,
			Message:               "Rate limit exceeded for critical operations.",
			CountSuccessResponses: true,
			CountFailureResponses: true,
		},
		{
			Name:                  Public,
			Window:                5 * time.Minute,
			MaxRequests:           300,
			Message:               "Too many requests, please slow down.",
			CountSuccessResponses: true,
			CountFailureResponses: true,
		},
	}
}
