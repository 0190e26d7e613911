package recorder

import (
	"net/http"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
)

// TrafficRecord is one request seen by the gateway and the status it was
// answered with.
type TrafficRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	UserID       string    `json:"user_id,omitempty"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	ForwardedFor string    `json:"forwarded_for,omitempty"`
	RealIP       string    `json:"real_ip,omitempty"`
	Status       int       `json:"status"`
}

// Request rebuilds the admission request the record was captured from.
func (r TrafficRecord) Request() admission.Request {
	h := http.Header{}
	if r.ForwardedFor != "" {
		h.Set("X-Forwarded-For", r.ForwardedFor)
	}
	if r.RealIP != "" {
		h.Set("X-Real-IP", r.RealIP)
	}
	return admission.Request{
		Path:       r.Path,
		Method:     r.Method,
		UserID:     r.UserID,
		RemoteAddr: r.RemoteAddr,
		Header:     h,
	}
}

// ClientKey is the key the record is counted against.
func (r TrafficRecord) ClientKey() string {
	return admission.ClientKey(r.Request())
}
