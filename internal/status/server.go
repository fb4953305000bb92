// Package status serves the monitor's HTTP status surface.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/kbclient/internal/auth"
	"github.com/danmuck/kbclient/internal/catalog"
	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/observability"
	"github.com/danmuck/kbclient/internal/pipeline"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Broker is the part of the pipeline the status routes read.
type Broker interface {
	Stats() pipeline.Stats
	Selections() []pipeline.Selection
}

// Server exposes health, broker statistics, the catalog and Prometheus
// metrics over HTTP.
type Server struct {
	ID       string
	Addr     string
	Endpoint string
	Appeared time.Time

	broker  Broker
	catalog *catalog.Catalog
	router  *gin.Engine
	logger  zerolog.Logger
}

type options struct {
	corsOrigins []string
	token       string
}

type Option func(*options)

// WithCorsOrigins installs CORS for origins. Without it no CORS headers are sent.
func WithCorsOrigins(origins []string) Option {
	return func(o *options) { o.corsOrigins = origins }
}

// WithToken requires "Authorization: Bearer <token>" on every route but
// /health. An empty token leaves the routes open.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func New(id, addr, endpoint string, broker Broker, cat *catalog.Catalog, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	if len(o.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: o.corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if o.token != "" {
		r.Use(auth.Middleware(auth.StaticToken{Token: o.token}, "/health"))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if cat == nil {
		cat = catalog.Default()
	}

	s := &Server{
		ID:       id,
		Addr:     addr,
		Endpoint: endpoint,
		Appeared: time.Now(),
		broker:   broker,
		catalog:  cat,
		router:   r,
		logger:   logging.Component("status"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.Appeared).String(),
			"service":  s.ID,
			"endpoint": s.Endpoint,
			"version":  version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.broker.Stats())
	})

	s.router.GET("/sources", func(c *gin.Context) {
		st := s.broker.Stats()
		sources := make([]SourceInfo, 0, len(st.Sources))
		for _, src := range st.Sources {
			cat, _ := s.catalog.CategoryOf(src)
			sources = append(sources, SourceInfo{Source: src, Category: cat})
		}
		c.JSON(http.StatusOK, gin.H{"train_id": st.LastTrainID, "sources": sources})
	})

	s.router.GET("/selections", func(c *gin.Context) {
		sels := s.broker.Selections()
		out := make([]SelectionInfo, 0, len(sels))
		for _, sel := range sels {
			out = append(out, SelectionInfo{
				Category: sel.Category,
				Source:   sel.Source,
				Property: sel.Property,
				Modules:  sel.NModules(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"selections": out})
	})

	s.router.GET("/catalog", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"categories": s.catalog.Summaries()})
	})

	s.router.GET("/catalog/:category", func(c *gin.Context) {
		cat, err := s.catalog.Category(c.Param("category"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, catalog.ErrUnknownCategory) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		sources := cat.Sources()
		props := make(map[string][]string, len(sources))
		for _, src := range sources {
			props[src] = cat.PropertiesFor(src)
		}
		c.JSON(http.StatusOK, gin.H{
			"name":       cat.Name(),
			"exclusive":  cat.Exclusive(),
			"modules":    cat.Modules(),
			"sources":    sources,
			"properties": props,
		})
	})
}

type SourceInfo struct {
	Source   string `json:"source"`
	Category string `json:"category,omitempty"`
}

type SelectionInfo struct {
	Category string `json:"category"`
	Source   string `json:"source"`
	Property string `json:"property"`
	Modules  int    `json:"modules"`
}

// Serve listens on s.Addr until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("status server stopped")
		return nil
	}
}
