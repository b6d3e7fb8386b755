// Package server exposes the aggregation service over HTTP and the live
// broadcaster over a websocket.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"quotehub/internal/aggregate"
	"quotehub/internal/broadcast"
	"quotehub/internal/metrics"
	"quotehub/internal/provider"
)

// QuoteService is implemented by *aggregate.Service.
type QuoteService interface {
	GetQuote(ctx context.Context, symbol string) (aggregate.QuoteResult, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]aggregate.QuoteResult, error)
	GetIndices(ctx context.Context) (map[string]aggregate.QuoteResult, error)
	GetTrending(ctx context.Context) (map[string]aggregate.QuoteResult, error)
	GetOverview(ctx context.Context, symbol string) (aggregate.Document[provider.Overview], error)
	GetHistory(ctx context.Context, symbol string, interval provider.Interval) (aggregate.Document[[]provider.HistoryPoint], error)
}

type Config struct {
	Addr           string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// Outbox is how many messages a live connection may have queued.
	Outbox  int
	Quotes  QuoteService
	Live    *broadcast.Broadcaster
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

type Server struct {
	router  *chi.Mux
	server  *http.Server
	quotes  QuoteService
	live    *broadcast.Broadcaster
	metrics *metrics.Metrics
	log     zerolog.Logger

	maxBodyBytes   int64
	requestTimeout time.Duration
	outbox         int
}

func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		quotes:         cfg.Quotes,
		live:           cfg.Live,
		metrics:        cfg.Metrics,
		log:            cfg.Log.With().Str("component", "server").Logger(),
		maxBodyBytes:   cfg.MaxBodyBytes,
		requestTimeout: cfg.RequestTimeout,
		outbox:         cfg.Outbox,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 30 * time.Second
	}
	if s.outbox <= 0 {
		s.outbox = 16
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	if s.live != nil {
		s.router.Get("/live", s.handleLive)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Use(middleware.Compress(5))
		r.Use(s.limitBody)

		r.Route("/quotes", func(r chi.Router) {
			r.Get("/", s.handleGetQuotes)
			r.Post("/", s.handlePostQuotes)
			r.Get("/{symbol}", s.handleGetQuote)
			r.Get("/{symbol}/overview", s.handleOverview)
			r.Get("/{symbol}/history", s.handleHistory)
		})
		r.Get("/indices", s.handleIndices)
		r.Get("/trending", s.handleTrending)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// limitBody caps request body size to avoid memory abuse.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
