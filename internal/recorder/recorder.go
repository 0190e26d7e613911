// Package recorder captures gateway traffic so it can be replayed later
// against different policies.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

// Recorder captures traffic records. It is safe for concurrent use.
//
// With a writer, records are streamed to it as newline-delimited JSON and
// not kept in memory. Without one, they are kept for Records and ExportJSON.
type Recorder struct {
	mu      sync.Mutex
	records []TrafficRecord
	enc     *json.Encoder
}

// New creates a Recorder. w may be nil.
func New(w io.Writer) *Recorder {
	r := &Recorder{}
	if w != nil {
		r.enc = json.NewEncoder(w)
	}
	return r
}

// Record captures a single traffic record.
func (r *Recorder) Record(rec TrafficRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc != nil {
		return r.enc.Encode(rec)
	}
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of the retained records.
func (r *Recorder) Records() []TrafficRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TrafficRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ExportJSON writes the retained records to w as a JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.records
	if records == nil {
		records = []TrafficRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportFile writes the retained records to a file as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Middleware records every request passing through it once the response
// status is known.
func (r *Recorder) Middleware(identity admission.IdentityFunc, c clock.Clock, logger *slog.Logger) func(http.Handler) http.Handler {
	if c == nil {
		c = clock.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := TrafficRecord{
				Timestamp:    c.Now(),
				Method:       req.Method,
				Path:         req.URL.Path,
				RemoteAddr:   req.RemoteAddr,
				ForwardedFor: req.Header.Get("X-Forwarded-For"),
				RealIP:       req.Header.Get("X-Real-IP"),
			}
			if identity != nil {
				rec.UserID = identity(req)
			}

			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)

			rec.Status = ww.Status()
			if rec.Status == 0 {
				rec.Status = http.StatusOK
			}
			if err := r.Record(rec); err != nil {
				logger.Warn("recording traffic failed", "error", err)
			}
		})
	}
}

// Load reads traffic records written either as a JSON array (ExportJSON)
// or as newline-delimited JSON (a streaming Recorder).
func Load(r io.Reader) ([]TrafficRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []TrafficRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		return records, nil
	}

	var records []TrafficRecord
	for {
		var rec TrafficRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

// LoadFile reads traffic records from path.
func LoadFile(path string) ([]TrafficRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
