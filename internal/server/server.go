package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apihttp "github.com/termgate/termgate/internal/api/http"
	"github.com/termgate/termgate/internal/api/middleware"
	"github.com/termgate/termgate/internal/api/ws"
	"github.com/termgate/termgate/internal/chat"
	"github.com/termgate/termgate/internal/domain/events"
	"github.com/termgate/termgate/internal/domain/gate"
	"github.com/termgate/termgate/internal/domain/manager"
	"github.com/termgate/termgate/internal/domain/policy"
	"github.com/termgate/termgate/internal/domain/session"
	"github.com/termgate/termgate/internal/infrastructure/config"
	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/infrastructure/monitoring"
	"github.com/termgate/termgate/internal/runtime/docker"
)

// Server wires the HTTP surface to the session manager and its
// collaborators.
type Server struct {
	router  *gin.Engine
	logger  *logging.Logger
	redis   *redis.Client
	janitor *session.Janitor
	cancel  context.CancelFunc
}

// NewServer builds a fully wired server from configuration. Unreachable
// collaborators are a warning, not a startup failure: commands fail with a
// clear reply until the collaborator returns.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	metrics := monitoring.NewMetrics()

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("session store unreachable at startup; commands will fail until it returns",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}
	cancelPing()

	store := session.NewRedis(redisClient, logger, session.WithTTL(cfg.Session.TTL))

	dockerClient, err := docker.New(docker.Options{
		Host:        cfg.Docker.Host,
		Shell:       cfg.Exec.Shell,
		OutputLimit: cfg.Exec.OutputLimitKB * 1024,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build docker client: %w", err)
	}
	pingCtx, cancelPing = context.WithTimeout(context.Background(), 5*time.Second)
	if err := dockerClient.Ping(pingCtx); err != nil {
		logger.Warn("container runtime unreachable at startup",
			zap.String("host", cfg.Docker.Host),
			zap.Error(err),
		)
	}
	cancelPing()

	hub := events.NewHub()
	mgr := manager.New(
		store,
		gate.New(),
		dockerClient,
		policy.NewDenylist(),
		hub,
		metrics,
		logger,
		manager.Config{
			ExecTimeout:     cfg.Exec.Timeout,
			OutputLimit:     cfg.Exec.OutputLimitKB * 1024,
			MaxReplyBytes:   cfg.Exec.MaxReplyKB * 1024,
			DefaultImage:    cfg.Container.DefaultImage,
			MemoryLimitMB:   cfg.Container.MemoryLimitMB,
			CPUQuota:        cfg.Container.CPUQuota,
			CPUPeriod:       cfg.Container.CPUPeriod,
			PidsLimit:       cfg.Container.PidsLimit,
			NetworkDisabled: cfg.Container.NetworkDisabled,
		},
	)

	var notifier *chat.Notifier
	if cfg.Transport.CallbackURL != "" {
		notifier = chat.NewNotifier(cfg.Transport.CallbackURL, logger.Named("notifier"))
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	janitor := session.NewJanitor(
		store,
		dockerClient,
		dockerClient,
		cfg.Session.IdleTimeout,
		cfg.Session.SweepInterval,
		metrics,
		logger,
	)
	janitor.Start(janitorCtx)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(mgr, store, notifier, store, dockerClient, cfg.Transport.Async, logger)
	wsHandler := ws.NewHandler(hub, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/v1/messages", handlers.HandleMessage)
	router.GET("/v1/sessions", handlers.ListSessions)
	router.GET("/v1/sessions/:user_id", handlers.GetSession)

	router.GET("/stream", wsHandler.HandleConnection)

	return &Server{
		router:  router,
		logger:  logger,
		redis:   redisClient,
		janitor: janitor,
		cancel:  cancel,
	}, nil
}

// Run starts serving on the given address.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops the janitor and releases connections.
func (s *Server) Close() error {
	s.cancel()
	s.janitor.Stop()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("error closing redis client", zap.Error(err))
	}
	_ = s.logger.Sync()
	return nil
}
