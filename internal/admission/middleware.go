package admission

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

// IdentityFunc extracts the authenticated user id from a request, or returns
// "" for anonymous requests.
type IdentityFunc func(*http.Request) string

// HeaderIdentity trusts a header set by an upstream authenticator.
func HeaderIdentity(name string) IdentityFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// Middleware guards next with g. Denied requests get a 429 JSON body and
// never reach next; admitted ones are settled once next returns.
func Middleware(g *Guard, identity IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := Request{
				Path:       r.URL.Path,
				Method:     r.Method,
				RemoteAddr: r.RemoteAddr,
				Header:     r.Header,
			}
			if identity != nil {
				req.UserID = identity(r)
			}

			res := g.Evaluate(r.Context(), req)
			for k, v := range res.Header {
				w.Header()[k] = v
			}

			if !res.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(res.Status)
				json.NewEncoder(w).Encode(res.Body)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			g.Settle(r.Context(), res, rec.Status())
		})
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Status is the code the handler wrote, 200 if it wrote nothing.
func (w *statusRecorder) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}

// Flush supports streaming handlers such as reverse proxies.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket handlers take over the connection. The request is
// settled as a successful protocol switch.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil && !w.wroteHeader {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}
