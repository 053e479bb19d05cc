// Package server exposes installation and deployment over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/deploy"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

// DefaultMaxUpload caps uploaded package archives.
const DefaultMaxUpload int64 = 50 << 20

// Deployer runs a deployment.
type Deployer interface {
	Run(ctx context.Context, req deploy.Request) (*deploy.Result, error)
}

// Server serves the HTTP endpoints.
type Server struct {
	fs             afero.Fs
	roots          layout.Roots
	deps           installer.Deps
	deployer       Deployer
	metrics        metrics.Metrics
	metricsHandler http.Handler
	installerOpts  []installer.Option
	maxUpload      int64
	logger         *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDeployer enables /deploy.
func WithDeployer(d Deployer) Option {
	return func(s *Server) {
		s.deployer = d
	}
}

// WithMetrics records installs through m and serves h on /metrics.
func WithMetrics(m metrics.Metrics, h http.Handler) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
		s.metricsHandler = h
	}
}

// WithMaxUpload caps uploaded archives at n bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInstallerOptions are applied to every installer the server builds.
func WithInstallerOptions(opts ...installer.Option) Option {
	return func(s *Server) {
		s.installerOpts = append(s.installerOpts, opts...)
	}
}

// New creates a Server installing into roots.
func New(fs afero.Fs, roots layout.Roots, deps installer.Deps, opts ...Option) *Server {
	s := &Server{
		fs:        fs,
		roots:     roots,
		deps:      deps,
		metrics:   metrics.Noop{},
		maxUpload: DefaultMaxUpload,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/install", s.handleInstall)
	r.HandleFunc("/deploy", s.handleDeploy)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// statusFor maps an error kind onto a response status. Validation only
// becomes 400 where the caller supplied the invalid input.
func statusFor(err error, validationIsClient bool) int {
	switch apperr.KindOf(err) {
	case apperr.Auth:
		return http.StatusForbidden
	case apperr.RateLimit:
		return http.StatusTooManyRequests
	case apperr.Validation:
		if validationIsClient {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
