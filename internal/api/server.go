// Package api exposes the species filter over HTTP. Handlers only translate
// between JSON and the locate and reconcile packages.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/observability"
	"github.com/tphakala/birdid/internal/reconcile"
	"github.com/tphakala/birdid/internal/region"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second

	// defaultBodyLimit caps reconcile request bodies.
	defaultBodyLimit = "1M"
)

// SpeciesResolver resolves species lists. *locate.Pipeline satisfies it.
type SpeciesResolver interface {
	Resolve(ctx context.Context, q locate.Query) (*locate.Resolution, error)
	ResolveRegion(ctx context.Context, id region.ID) (*locate.Resolution, error)
}

// ReferenceSource lists eBird regions. *ebird.Client satisfies it.
type ReferenceSource interface {
	Countries(ctx context.Context) ([]ebird.RegionInfo, error)
	Subdivisions(ctx context.Context, countryCode string) ([]ebird.RegionInfo, error)
}

// Dependencies are the handles the server routes to.
type Dependencies struct {
	Resolver   SpeciesResolver
	Reconciler *reconcile.Reconciler
	Lookup     reconcile.Lookup // may be nil; every candidate is then unmatched
	Reference  ReferenceSource  // nil disables the region listing routes
	Metrics    *observability.Metrics
	RadiusKm   int    // default query radius
	BodyLimit  string // request body cap such as "512K"; invalid or empty uses 1M
}

// Server is the HTTP surface of birdid.
type Server struct {
	echo *echo.Echo
	deps Dependencies
	log  logger.Logger
}

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("api")
	})
	return pkgLogger
}

// New builds a server with its middleware and routes registered.
func New(deps Dependencies) *Server {
	if deps.RadiusKm <= 0 {
		deps.RadiusKm = locate.DefaultRadiusKm
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(nil)
	}

	s := &Server{
		echo: echo.New(),
		deps: deps,
		log:  GetLogger(),
	}
	if deps.BodyLimit == "" {
		s.deps.BodyLimit = defaultBodyLimit
	} else if n, err := bytes.Parse(deps.BodyLimit); err != nil || n <= 0 {
		s.log.Warn("invalid body limit, using default",
			logger.String("body_limit", deps.BodyLimit),
			logger.String("default", defaultBodyLimit))
		s.deps.BodyLimit = defaultBodyLimit
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(echomw.BodyLimit(s.deps.BodyLimit))
	s.echo.Use(s.requestLogger)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/species", s.getSpecies)
	v1.POST("/reconcile", s.postReconcile)
	v1.GET("/countries", s.getCountries)
	v1.GET("/countries/:code/subdivisions", s.getSubdivisions)

	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}
}

// requestLogger tags the request context with the request id, so pipeline
// logs carry it as trace_id, and logs each request at debug level.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if rid != "" {
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), rid)))
		}

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.log.Debug("request",
			logger.String("method", req.Method),
			logger.String("path", c.Path()),
			logger.Int("status", c.Response().Status),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", rid))
		return nil
	}
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		limit, _ := bytes.Parse(s.deps.BodyLimit)
		s.log.Info("http server starting",
			logger.String("address", addr),
			logger.String("body_limit", bytes.Format(limit)))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Newf("http server shutdown: %w", err).
			Component("api").
			Category(errors.CategoryTimeout).
			Build()
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
