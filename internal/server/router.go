package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sysstats/internal/pipeline"
)

const (
	headerRunID      = "X-Run-Id"
	headerSucceeded  = "X-Points-Succeeded"
	headerFailed     = "X-Points-Failed"
	headerIncomplete = "X-Collection-Incomplete"
	headerAllFailed  = "X-Collection-Failed"
)

// Collector runs the stat pipeline for the selected stats.
// Params: ctx bounds the run; names optional stat selection.
// Returns: run report or ErrUnknownStat.
type Collector interface {
	Run(ctx context.Context, names ...string) (pipeline.Report, error)
}

// RouterConfig holds trigger endpoint dependencies.
type RouterConfig struct {
	Collector      Collector
	Gatherer       prometheus.Gatherer
	ExecuteTimeout time.Duration
	Logger         *slog.Logger
}

type handlers struct {
	collector Collector
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRouter builds the trigger HTTP handler.
// Params: cfg collector, metrics gatherer, execute timeout, and logger.
// Returns: router with /, /execute, and /metrics routes.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{
		collector: cfg.Collector,
		timeout:   cfg.ExecuteTimeout,
		logger:    cfg.Logger,
	}

	router := mux.NewRouter()
	router.Use(h.recoverPanics)
	router.HandleFunc("/", h.handlePing).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/execute", h.handleExecute).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

// handlePing answers liveness probes.
func (h *handlers) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

// handleExecute runs a collection and returns the collected points per stat.
// Params: w response writer; r request with optional repeated stat query values.
// Returns: none.
func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.collector.Run(ctx, r.URL.Query()["stat"]...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrUnknownStat) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	header := w.Header()
	header.Set(headerRunID, report.RunID)
	header.Set(headerSucceeded, strconv.Itoa(report.Succeeded))
	header.Set(headerFailed, strconv.Itoa(report.Failed))
	if report.Incomplete {
		header.Set(headerIncomplete, "true")
	}
	if report.AllFailed() {
		header.Set(headerAllFailed, "true")
	}
	writeJSON(w, http.StatusOK, report.Results)
}

// recoverPanics converts handler panics into 500 responses.
// Params: next wrapped handler.
// Returns: handler with panic recovery.
func (h *handlers) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			h.logger.Error(
				"http handler panic",
				slog.String("path", r.URL.Path),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes payload with status code.
// Params: w response writer; status HTTP status; payload JSON value.
// Returns: none.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
