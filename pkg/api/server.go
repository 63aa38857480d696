// Package api implements the multi-tenant execution HTTP server: button
// submissions, the persistent execution index, idempotency, rate and
// concurrency limits, cancel/retry, and server-sent event streams.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spellrun/spell/pkg/bus"
	"github.com/spellrun/spell/pkg/cast"
	"github.com/spellrun/spell/pkg/config"
)

// eventBacklog bounds each SSE subscriber's pending frames before the
// broker drops it.
const eventBacklog = 64

// Server is the execution API.
type Server struct {
	cfg     *config.Config
	caster  *cast.Caster
	buttons *ButtonRegistry
	store   *Store
	bus     *bus.Bus
	auth    *authenticator
	limits  *rateLimiters
	logger  *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	executions sync.WaitGroup
	cancels    sync.Map // execution_id -> context.CancelFunc
}

// NewServer wires the API over a configured caster.
func NewServer(cfg *config.Config, caster *cast.Caster, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	buttons, err := LoadButtons(cfg.Paths.ButtonsPath)
	if err != nil {
		return nil, err
	}
	b := bus.New(eventBacklog)
	store, err := OpenStore(cfg.Paths.LogsDir, b, logger)
	if err != nil {
		return nil, err
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		caster:     caster,
		buttons:    buttons,
		store:      store,
		bus:        b,
		auth:       newAuthenticator(cfg.API),
		limits:     newRateLimiters(cfg.API),
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.store.Prune(cfg.API.LogMaxFiles, cfg.API.LogRetentionDays, caster.Receipts.Path)
	return s, nil
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/buttons", s.handleButtons)
	mux.HandleFunc("POST /api/spell-executions", s.handleSubmit)
	mux.HandleFunc("GET /api/spell-executions", s.handleList)
	mux.HandleFunc("GET /api/spell-executions/events", s.handleListEvents)
	mux.HandleFunc("GET /api/spell-executions/{id}", s.handleDetail)
	mux.HandleFunc("GET /api/spell-executions/{id}/output", s.handleOutput)
	mux.HandleFunc("GET /api/spell-executions/{id}/events", s.handleExecutionEvents)
	mux.HandleFunc("POST /api/spell-executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/spell-executions/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /api/tenants/{tenant}/usage", s.handleUsage)

	var handler http.Handler = mux
	handler = s.limits.withRateLimits(handler)
	handler = s.auth.withAuth(handler)
	return handler
}

// ListenAndServe binds the configured port (0 requests an ephemeral one)
// and serves until ctx is canceled, then drains in-flight executions.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	s.logger.Info("api listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.cancelBase()
		s.executions.Wait()
		return nil
	case err := <-errCh:
		s.cancelBase()
		s.executions.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the server's execution context without serving.
func (s *Server) Close() {
	s.cancelBase()
	s.executions.Wait()
}
