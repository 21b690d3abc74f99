package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lawble/courtsync/internal/api"
	"github.com/lawble/courtsync/internal/cache"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/rotation"
	"github.com/lawble/courtsync/internal/store"
	syncsvc "github.com/lawble/courtsync/internal/sync"
	"github.com/lawble/courtsync/pkg/logger"
	"gorm.io/gorm"
)

type Server struct {
	cfg        *config.Config
	db         *gorm.DB
	cache      cache.SnapshotCache
	logger     *logger.Logger
	router     *gin.Engine
	challenges *portal.ChallengeProvider
}

func New(cfg *config.Config, db *gorm.DB, snapCache cache.SnapshotCache, logger *logger.Logger) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())

	portalClient := portal.NewClient(cfg, logger)

	var challenges *portal.ChallengeProvider
	if cfg.ChallengeEnabled {
		var err error
		challenges, err = portal.NewChallengeProvider(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize challenge provider", "error", err)
		}
	}

	identities := store.NewIdentityStore(db)
	credentials := store.NewCredentialStore(db)
	snapshots := store.NewSnapshotStore(db)
	hearings := store.NewHearingStore(db)
	syncLogs := store.NewSyncLogStore(db)

	reconciler := syncsvc.NewReconciler(hearings, logger)
	syncService := syncsvc.NewService(cfg, portalClient, identities, credentials, snapshots, snapCache, reconciler, syncLogs, logger)
	rotationScheduler := rotation.NewScheduler(cfg, portalClient, identities, credentials, logger)

	server := &Server{
		cfg:        cfg,
		db:         db,
		cache:      snapCache,
		logger:     logger,
		router:     router,
		challenges: challenges,
	}

	api.SetupRoutes(router, db, snapCache, syncService, rotationScheduler, challenges, logger, cfg)

	return server
}

func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", "error", err)
		}
	}()

	s.logger.Info("Server started", "address", srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.challenges != nil {
		if err := s.challenges.Close(); err != nil {
			s.logger.Error("Failed to close challenge provider", "error", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", "error", err)
		return err
	}

	s.logger.Info("Server exited gracefully")
	return nil
}

func loggingMiddleware(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Info("HTTP Request",
			"client_ip", clientIP,
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
