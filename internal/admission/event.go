package admission

import (
	"time"

	"github.com/google/uuid"
)

// Event describes one admission decision. Events are delivered to the
// OnDecision observer after the decision is made.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Policy    string    `json:"policy"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Allowed   bool      `json:"allowed"`
	FailOpen  bool      `json:"fail_open"`
	Count     int64     `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
}

func newEvent(now time.Time, req Request, res Result) Event {
	return Event{
		ID:        uuid.NewString(),
		Time:      now,
		Policy:    res.Policy.Name,
		Key:       res.Key,
		Method:    req.Method,
		Path:      req.Path,
		Allowed:   res.Allowed,
		FailOpen:  res.FailOpen,
		Count:     res.Count,
		Limit:     res.Policy.MaxRequests,
		Remaining: res.Remaining(),
		ResetAt:   res.ResetAt,
	}
}
