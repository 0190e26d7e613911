package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

// Handler serves the admin HTTP API.
type Handler struct {
	svc    *Service
	hub    *Hub
	logger *slog.Logger
}

// NewHandler creates a Handler. hub may be nil, in which case the event
// stream is not served.
func NewHandler(svc *Service, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, hub: hub, logger: logger}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Routes returns the router to mount under /admin/rate-limits.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Delete("/", h.handleClearAll)
	if h.hub != nil {
		r.Get("/events", h.hub.HandleWebSocket)
	}
	r.Delete("/{key}", h.handleClear)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ListCounters(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.fail(w, "list counters", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid counter key"})
		return
	}
	if err := h.svc.ClearCounter(r.Context(), key); err != nil {
		h.fail(w, "clear counter", err)
		return
	}
	h.logger.Info("counter cleared", "key", key)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"cleared": key}})
}

func (h *Handler) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearAllCounters(r.Context()); err != nil {
		h.fail(w, "clear all counters", err)
		return
	}
	h.logger.Info("all counters cleared")
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]bool{"cleared": true}})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrListUnsupported):
		status = http.StatusNotImplemented
	}
	h.logger.Error("admin request failed", "op", op, "error", err)
	writeJSON(w, status, envelope{Error: err.Error()})
}

// RequireToken rejects requests that do not carry "Authorization: Bearer
// <token>".
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tollgate-admin"`)
				writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
