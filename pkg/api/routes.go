package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/verdict"
)

type JSON map[string]any

// RegisterRoutes serves vc over HTTP. Requests share the one session and are
// serialized.
func RegisterRoutes(r *mux.Router, vc *verdict.Context) {
	h := &Handler{vc: vc, timeout: 120 * time.Second}

	r.Use(requestLogger)

	// Core endpoints
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/schemas", h.ListSchemas).Methods(http.MethodGet)
	r.HandleFunc("/tables", h.ListTables).Methods(http.MethodGet)
	r.HandleFunc("/query", h.PostQuery).Methods(http.MethodPost)

	// Scramble endpoints
	r.HandleFunc("/scrambles", h.GetScrambles).Methods(http.MethodGet)
	r.HandleFunc("/scrambles", h.PostCreateScramble).Methods(http.MethodPost)
	r.HandleFunc("/scrambles/{schema}/{name}", h.DeleteScramble).Methods(http.MethodDelete)
}

type Handler struct {
	vc      *verdict.Context
	mu      sync.Mutex
	timeout time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), JSON{"status": "error", "error": err.Error()})
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch errdefs.Kind(err) {
	case errdefs.ErrSyntax, errdefs.ErrInvalidArgument, errdefs.ErrUnsupportedQuery:
		return http.StatusBadRequest
	case errdefs.ErrObjectNotFound:
		return http.StatusNotFound
	case errdefs.ErrObjectAlreadyExists:
		return http.StatusConflict
	case errdefs.ErrConnection:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"elapsed":    time.Since(start),
		}).Info("request")
	})
}
