package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chansync/internal/config"
	"chansync/internal/domain"
	"chansync/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the sync engine over JSON/HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    domain.SyncService
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc domain.SyncService, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: l}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.logRequests)

	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", s.cfg.Auth.HeaderAPIKey},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := NewHTTPAuth(s.cfg)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/sync", func(r chi.Router) {
				r.Post("/", s.handleSubmit)
				r.Get("/status", s.handleStatus)
				r.Post("/cancel", s.handleCancel)
				r.Get("/queues", s.handleQueues)
				r.Get("/export", s.handleExport)
				r.Get("/{syncID}", s.handleEntry)
			})
			r.Post("/channels/{channelID}/test", s.handleTestConnection)
		})
	})

	return r
}

// Handler returns the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(route, status)

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Interface("panic", rec).
					Msg("handler panic")
				writeError(w, http.StatusInternalServerError, codeInternal, "an unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
