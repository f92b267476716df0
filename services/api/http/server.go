package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/config"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/dashboard"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/db"
)

// Store is the read side of the sink tables.
type Store interface {
	Ping(ctx context.Context) error
	ListStations(ctx context.Context) ([]db.Station, error)
	GetStation(ctx context.Context, code string) (*db.Station, error)
	LatestPrices(ctx context.Context, fuelType string) ([]db.Price, error)
	PriceHistory(ctx context.Context, q db.PriceQuery) ([]db.Price, error)
}

// Server bundles router and dependencies for the dashboard API.
type Server struct {
	cfg    config.Config
	store  Store
	dash   *dashboard.Dashboard
	hub    *dashboard.Hub
	log    *logrus.Entry
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, dash *dashboard.Dashboard, hub *dashboard.Hub, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	engine.Use(corsMiddleware())

	if cfg.BearerToken != "" {
		engine.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	server := &Server{
		cfg:    cfg,
		store:  store,
		dash:   dash,
		hub:    hub,
		log:    log.WithField("component", "http"),
		engine: engine,
	}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.registerV1Routes()
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	if s.dash != nil {
		prices, stations := s.dash.Counts()
		body["prices"] = prices
		body["stations"] = stations
	}
	if s.hub != nil {
		body["ws_clients"] = s.hub.Clients()
	}
	if err := s.store.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}
