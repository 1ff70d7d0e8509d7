package server

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/trayfold/trayfold/internal/api/http"
	"github.com/trayfold/trayfold/internal/api/middleware"
	apiws "github.com/trayfold/trayfold/internal/api/ws"
	"github.com/trayfold/trayfold/internal/engine"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/platform/panel"
	"github.com/trayfold/trayfold/internal/platform/portal"
	"github.com/trayfold/trayfold/internal/platform/statusnotifier"
)

// Server wires the platform connections, the engine and the control
// API into one runnable daemon.
type Server struct {
	router  *gin.Engine
	engine  *engine.Engine
	conn    *dbus.Conn
	remote  *portal.RemoteInput
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New connects to the session bus, brings the engine up and builds the
// router. A missing panel extension fails construction; the service
// manager restarts the daemon once the session has settled.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	logger.Info("starting trayfold",
		zap.String("addr", cfg.API.Host+":"+cfg.API.Port),
		zap.Bool("always_hidden", cfg.Fold.AlwaysHidden),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("trayfold", logger.Logger)

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting session bus: %w", err)
	}

	ext := panel.New(conn, logger)
	remote, err := portal.New(conn, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing remote input portal: %w", err)
	}
	tree := statusnotifier.New(conn, ext, logger)

	eng := engine.New(cfg, engine.Deps{
		WindowSystem: ext,
		Tree:         tree,
		Gate:         remote,
		Synth:        remote,
		// The first name is this connection's unique name; scans must
		// not see the daemon itself.
		ExcludeServices: conn.Names()[:1],
	}, metrics, tracer, logger)

	if err := eng.Start(context.Background()); err != nil {
		remote.Close()
		conn.Close()
		return nil, fmt.Errorf("starting engine: %w", err)
	}

	router := buildRouter(cfg, eng, metrics, tracer, logger)

	return &Server{
		router:  router,
		engine:  eng,
		conn:    conn,
		remote:  remote,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

func buildRouter(
	cfg *config.Config,
	eng *engine.Engine,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(eng, metrics, logger)
	handlers.Register(router)

	stream := apiws.NewHandler(eng, metrics, logger)
	router.GET("/events", stream.HandleConnection)

	return router
}

// Run serves the control API. It blocks until the listener fails.
func (s *Server) Run() error {
	addr := s.config.API.Host + ":" + s.config.API.Port
	s.logger.Info("control API listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close tears the daemon down: the engine first, so the separator is
// restored while the panel connection is still alive.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	if err := s.engine.Close(); err != nil {
		s.logger.Error("engine shutdown failed", zap.Error(err))
	}
	if err := s.remote.Close(); err != nil {
		s.logger.Warn("closing portal session", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("closing session bus", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}
