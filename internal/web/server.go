package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/logging"
)

// NewServer creates and configures the HTTP server for the Retrace JSON API.
func NewServer(database *db.DB, cfg *config.Config, logger *log.Logger, version, bind string, port int) *http.Server {
	h := &Handlers{
		db:      database,
		cfg:     cfg,
		log:     logging.OrDiscard(logger),
		version: version,
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// routes builds the request multiplexer wrapped in the security headers.
func (h *Handlers) routes() http.Handler {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /api/search", h.HandleSearch)
	mux.HandleFunc("GET /api/search/count", h.HandleMatchCount)
	mux.HandleFunc("GET /api/timeline", h.HandleTimeline)
	mux.HandleFunc("GET /api/frames/{id}", h.HandleFrame)
	mux.HandleFunc("GET /api/frames/{id}/nodes", h.HandleFrameNodes)
	mux.HandleFunc("POST /api/frames/{id}/star", h.HandleStarFrame)
	mux.HandleFunc("DELETE /api/frames/{id}", h.HandleDeleteFrame)
	mux.HandleFunc("GET /api/sessions", h.HandleSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/tags", h.HandleTagSession)
	mux.HandleFunc("DELETE /api/sessions/{id}/tags/{tag}", h.HandleUntagSession)
	mux.HandleFunc("GET /api/stats", h.HandleStats)
	mux.HandleFunc("GET /api/queue", h.HandleQueue)
	mux.HandleFunc("POST /api/purge", h.HandlePurge)

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *log.Logger) error {
	logger = logging.OrDiscard(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("api listening", "addr", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
