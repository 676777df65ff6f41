// Package web is the HTTP surface of the capture pipeline: the mobile shell
// drives sessions through it and the outlet screens read and correct outlet
// records through it.
package web

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

	"github.com/dwisurya/fieldvisit/internal/capture"
	"github.com/dwisurya/fieldvisit/internal/compress"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

// OutletCatalog is the cached read path for outlet lookups.
type OutletCatalog interface {
	GetOutlet(ctx context.Context, id int64) (*domain.Outlet, error)
	Invalidate(id int64)
}

// OutletEditor is the write path behind the outlet screens.
type OutletEditor interface {
	Create(ctx context.Context, name, address string, location *domain.GeoPoint, radiusMeters uint32) (*domain.Outlet, error)
	List(ctx context.Context) ([]*domain.Outlet, error)
	SetLocation(ctx context.Context, id int64, location domain.GeoPoint, radiusMeters uint32) error
}

// Options bundles the server's collaborators. VideoEncoder may be nil; the
// outlet media endpoint then answers 503.
type Options struct {
	Pipeline     *capture.Pipeline
	Outlets      OutletCatalog
	Editor       OutletEditor
	VideoEncoder compress.VideoEncoder
	VideoPolicy  compress.VideoPolicy
	RateRPS      int
	RateBurst    int
	Logger       *slog.Logger
}

type Server struct {
	pipeline *capture.Pipeline
	outlets  OutletCatalog
	editor   OutletEditor
	video    compress.VideoEncoder
	videoPol compress.VideoPolicy
	sessions *sessionRegistry
	limiter  *ipLimiter
	router   chi.Router
	srv      *http.Server
	logger   *slog.Logger
}

func NewServer(addr string, opts Options) *Server {
	s := &Server{
		pipeline: opts.Pipeline,
		outlets:  opts.Outlets,
		editor:   opts.Editor,
		video:    opts.VideoEncoder,
		videoPol: opts.VideoPolicy,
		sessions: newSessionRegistry(),
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.RateRPS > 0 {
		s.limiter = newIPLimiter(opts.RateRPS, opts.RateBurst, 3*time.Minute)
		r.Use(s.limiter.middleware(opts.Logger))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/visits/checkin", s.handleCheckIn)
		r.Post("/visits/checkout", s.handleCheckOut)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCancelSession)
			r.Get("/events", s.handleSessionEvents)
			r.Post("/capture", s.handleCapture)
			r.Post("/fields", s.handleSetFields)
			r.Post("/submit", s.handleSubmit)
		})

		r.Get("/outlets", s.handleListOutlets)
		r.Post("/outlets", s.handleCreateOutlet)
		r.Get("/outlets/{id}", s.handleGetOutlet)
		r.Put("/outlets/{id}/location", s.handleSetOutletLocation)
		r.Post("/outlets/{id}/media", s.handleOutletMedia)
	})

	s.router = r
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("starting server", "addr", s.srv.Addr)

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.close()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
