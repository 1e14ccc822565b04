// Package server exposes training and classification over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/output"
	"github.com/crimson-sun/doccat/internal/store"
)

// TrainFunc trains a fresh engine from the configured corpus. A non-nil
// engine returned with a maxent.ErrConvergence error is still used.
type TrainFunc func(ctx context.Context) (*engine.Engine, error)

// Config holds the listener settings.
type Config struct {
	ModelName       string
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Token, when set, is required as a bearer token on model uploads.
	Token string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithOutput records every prediction served.
func WithOutput(o output.Output) Option {
	return func(s *Server) { s.out = o }
}

// WithExtractors supplies extractors that stored models may need, such as
// the embedding extractor.
func WithExtractors(ext ...feature.Extractor) Option {
	return func(s *Server) { s.supplied = ext }
}

// Server serves one named model. The model is loaded from the store on first
// use and replaced atomically after training or upload.
type Server struct {
	cfg      Config
	store    store.Store
	train    TrainFunc
	log      *slog.Logger
	out      output.Output
	supplied []feature.Extractor

	current  atomic.Pointer[engine.Engine]
	loadMu   sync.Mutex
	training sync.Mutex
	mux      *http.ServeMux
}

func New(cfg Config, st store.Store, train TrainFunc, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		train: train,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", ln.Addr().String(), "model", s.cfg.ModelName)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Engine returns the serving engine, loading it from the store if needed.
// It returns (nil, nil) when no model has been trained yet.
func (s *Server) Engine(ctx context.Context) (*engine.Engine, error) {
	if e := s.current.Load(); e != nil {
		return e, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if e := s.current.Load(); e != nil {
		return e, nil
	}
	m, err := s.store.Load(ctx, s.cfg.ModelName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := engine.FromModel(m, s.supplied...)
	if err != nil {
		return nil, err
	}
	s.current.Store(e)
	s.log.Info("model loaded", "model", s.cfg.ModelName, "model_id", m.Metadata().ID)
	return e, nil
}

// Close flushes the prediction output.
func (s *Server) Close() error {
	if s.out == nil {
		return nil
	}
	return s.out.Close()
}
