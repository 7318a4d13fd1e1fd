package app

import (
	"context"
	"log/slog"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"

	"github.com/gorilla/mux"

	"sysstats/internal/config"
	"sysstats/internal/server"
)

// startPprofServer starts optional pprof HTTP endpoint on the shared server loop.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; logger reports runtime events.
// Returns: stop function (idempotent, waits for shutdown) and startup error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	srv, err := server.New(cfg.Listen, pprofRouter(), logger.With(slog.String("component", "pprof")))
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(runCtx); err != nil {
			logger.Error("pprof server failed", slog.String("addr", cfg.Listen), slog.String("error", err.Error()))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// pprofRouter exposes the net/http/pprof handlers.
// Params: none.
// Returns: router serving /debug/pprof/.
func pprofRouter() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/debug/pprof/cmdline", pprofhttp.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprofhttp.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprofhttp.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprofhttp.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprofhttp.Index)
	return router
}
