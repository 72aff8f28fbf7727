// Package httpapi serves the Sand Garden REST API and its Server-Sent
// Events stream on top of a shared core.Core.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/core"
)

// Options configures the HTTP server. Zero fields take the defaults.
type Options struct {
	MaxBodyBytes int64         // limit for JSON request bodies
	SSEBuffer    int           // events queued per SSE client before dropping
	KeepAlive    time.Duration // SSE comment interval
	RateLimit    float64       // requests per second per client IP; 0 disables
	Clock        clockwork.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxBodyBytes: 4 << 10,
		SSEBuffer:    32,
		KeepAlive:    15 * time.Second,
		Clock:        clockwork.NewRealClock(),
	}
}

// Server routes REST requests into a core.Core and fans its events out to
// SSE clients.
type Server struct {
	core     *core.Core
	hub      *Hub
	validate *validator.Validate
	limiter  *ipRateLimiter
	opts     Options
	router   chi.Router
}

// New creates a server for c and registers its event hub as an observer.
func New(c *core.Core, opts Options) *Server {
	def := DefaultOptions()
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if opts.SSEBuffer <= 0 {
		opts.SSEBuffer = def.SSEBuffer
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = def.KeepAlive
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}

	s := &Server{
		core:     c,
		hub:      NewHub(c, opts.SSEBuffer, opts.KeepAlive, opts.Clock),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = newIPRateLimiter(opts.RateLimit, opts.Clock)
	}
	c.AddObserver(s.hub)
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the SSE hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
		r.NotFound(notFound)
		r.MethodNotAllowed(notFound)
		r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		r.Get("/events", s.hub.ServeHTTP)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.middleware)
			}
			r.Get("/state", s.handleGetState)
			r.Post("/speed", s.handleSetSpeed)
			r.Post("/pattern", s.handleSetPattern)
			r.Post("/mode", s.handleSetMode)
			r.Post("/run", s.handleSetRun)
			r.Post("/command", s.handleCommand)
			r.Post("/led/effect", s.handleLedEffect)
			r.Post("/led/color", s.handleLedColor)
			r.Post("/led/brightness", s.handleLedBrightness)
		})

		r.Route("/script", func(r chi.Router) {
			r.Post("/begin", s.handleScriptBegin)
			r.Post("/chunk", s.handleScriptChunk)
			r.Post("/end", s.handleScriptEnd)
			r.Post("/reset", s.handleScriptReset)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then closes SSE streams
// and shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[HTTP] listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	slog.Info("[HTTP] server stopped")
	return nil
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not Found"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("[HTTP] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
