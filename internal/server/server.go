// Package server wires the engine together and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/ai"
	"github.com/pixelmuse/backend/internal/config"
	"github.com/pixelmuse/backend/internal/images"
	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/middleware"
	"github.com/pixelmuse/backend/internal/monitoring"
	"github.com/pixelmuse/backend/internal/session"
	"github.com/pixelmuse/backend/internal/storage"
	"github.com/pixelmuse/backend/internal/ws"
)

// Server hosts the session engine and its HTTP surface.
type Server struct {
	router  *gin.Engine
	store   *session.Store
	remover *session.FileRemover
	kv      *storage.KVTier
	handler *ws.Handler
	logger  *logging.Logger
	metrics *monitoring.Metrics
	cfg     *config.Config
	httpSrv *http.Server
}

// NewServer creates a fully wired server.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: false,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		logger = l
	}

	logger.Info("initializing pixelmuse engine",
		zap.String("port", cfg.Server.Port),
		zap.String("storage_root", cfg.Storage.Root),
	)

	metrics := monitoring.NewMetrics()

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	// Read order is the compatibility order: per-session files first, then
	// the legacy key-value database, then the original full-list record.
	tiers := []storage.Tier{storage.NewFileTier(cfg.Storage.Root)}
	var kv *storage.KVTier
	if t, err := storage.NewKVTier(context.Background(), filepath.Join(cfg.Storage.Root, "sessions.db")); err != nil {
		logger.Warn("legacy key-value tier unavailable", zap.Error(err))
	} else {
		kv = t
		tiers = append(tiers, t)
	}
	tiers = append(tiers, storage.NewListTier(cfg.Storage.Root))

	backend := storage.NewBackend(tiers, logger).WithMetrics(metrics)
	indexFile := storage.NewIndexFile(cfg.Storage.Root)

	// The removal worker reports per-batch outcomes; the notifier is bound
	// after the ws handler exists.
	var notify func(session.RemovalResult)
	remover := session.NewFileRemover(100*time.Millisecond, func(res session.RemovalResult) {
		if notify != nil {
			notify(res)
		}
	}, logger).WithMetrics(metrics)

	lifecycle := session.NewImageLifecycle(remover, logger).WithMetrics(metrics)

	store, err := session.NewStore(session.Config{
		Backend:   backend,
		Index:     indexFile,
		Lifecycle: lifecycle,
		Window:    cfg.Storage.DebounceWindow,
		Disabled:  cfg.Storage.DisableDebounce,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	if cfg.Storage.DisableDebounce {
		logger.Warn("debounced writes disabled by kill switch; session mutations will not persist")
	}

	var generator ai.Generator
	if cfg.AI.APIKey != "" {
		g, err := ai.NewOpenAIGenerator(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create image generator: %w", err)
		}
		generator = g
	} else {
		logger.Warn("no API key configured; send-message will report generation unavailable")
	}

	saver := images.NewSaver(cfg.Storage.ImagesDir, logger)
	resolver := images.NewResolver()

	handler := ws.NewHandler(store, generator, saver, resolver, logger).WithMetrics(metrics)
	notify = func(res session.RemovalResult) {
		handler.Notify(fmt.Sprintf("Deleted %d of %d files", res.Removed, res.Requested))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	router.GET("/ws", handler.HandleConnection)
	router.GET("/metrics", func(c *gin.Context) {
		metrics.UpdateUptime()
		gin.WrapH(promhttp.Handler())(c)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(store.Summaries()),
		})
	})

	return &Server{
		router:  router,
		store:   store,
		remover: remover,
		kv:      kv,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the server down: stop accepting traffic, flush pending
// session writes, drain the removal queue, release storage handles.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown failed", zap.Error(err))
		}
	}

	s.store.Close(ctx)
	s.remover.Close()
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			s.logger.Warn("failed to close key-value tier", zap.Error(err))
		}
	}
	s.logger.Sync()
	return nil
}
