// Package pollapi exposes a minimal HTTP surface for inspecting and nudging
// a running set of named poll.Poll instances, modeled on this codebase's own
// API server: context-keyed trace IDs, JSON responses, small interface-typed
// dependencies for testability.
package pollapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/pollwatch/pkg/poll"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// PollHandle is the subset of *poll.Poll[string] the API needs. Named polls
// are registered under a string key rather than a generic type parameter, so
// the server can hold a heterogeneous set of Polls behind one interface —
// every daemon-managed poll in this codebase's deployment shape reports a
// string summary value (an HTTP status line), so the constraint costs
// nothing in practice.
type PollHandle interface {
	Name() string
	State() poll.Tick[string]
	Refresh() <-chan poll.TickResult[string]
	IsDisposed() bool
}

// HistoryStore is the subset of pollstore.Store the API needs.
type HistoryStore interface {
	Recent(ctx context.Context, pollName string, limit int) ([]HistoryRecord, error)
}

// HistoryRecord mirrors pollstore.Record without importing that package
// directly, keeping pollapi decoupled from the storage backend's schema.
type HistoryRecord struct {
	Seq      int64      `json:"seq"`
	TickID   string     `json:"tick_id"`
	Phase    poll.Phase `json:"phase"`
	Interval string     `json:"interval"`
	Value    string     `json:"value,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

// Server serves the poll status/control HTTP surface.
type Server struct {
	polls   map[string]PollHandle
	history HistoryStore
	server  *http.Server
}

// NewServer constructs a Server for the given named polls. addr defaults to
// ":8099" if empty.
func NewServer(polls map[string]PollHandle, history HistoryStore, addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{polls: polls, history: history}

	mux.HandleFunc("/v1/polls/", s.routePoll)

	if addr == "" {
		addr = ":8099"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      withLogging(withRecovery(mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// routePoll dispatches GET /v1/polls/{name}, GET /v1/polls/{name}/history,
// and POST /v1/polls/{name}/refresh.
func (s *Server) routePoll(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/v1/polls/"):]
	if path == "" {
		http.Error(w, `{"error":"missing_poll_name"}`, http.StatusBadRequest)
		return
	}

	name := path
	suffix := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			name = path[:i]
			suffix = path[i:]
			break
		}
	}

	p, ok := s.polls[name]
	if !ok {
		http.Error(w, `{"error":"poll_not_found"}`, http.StatusNotFound)
		return
	}

	switch suffix {
	case "":
		s.handleStatus(w, r, p)
	case "/history":
		s.handleHistory(w, r, name)
	case "/refresh":
		s.handleRefresh(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, p PollHandle) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, p.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, `{"error":"history_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	records, err := s.history.Recent(r.Context(), name, limit)
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_read_history","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, p PollHandle) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if p.IsDisposed() {
		http.Error(w, `{"error":"poll_disposed"}`, http.StatusGone)
		return
	}

	ch := p.Refresh()
	select {
	case result := <-ch:
		if result.Err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"refresh_failed","details":%q}`, result.Err.Error()), http.StatusInternalServerError)
			return
		}
		writeJSON(w, result.Tick)
	case <-r.Context().Done():
		http.Error(w, `{"error":"request_canceled"}`, http.StatusRequestTimeout)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","error":"%v"}`+"\n", err)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Printf(`{"level":"error","msg":"panic_recovered","error":"%v","path":"%s"}`+"\n", err, r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r)

		fmt.Printf(`{"level":"info","msg":"http_request","trace_id":"%s","method":"%s","path":"%s","duration_ms":%d}`+"\n",
			traceID, r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
