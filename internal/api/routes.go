package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lawble/courtsync/internal/cache"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/rotation"
	syncsvc "github.com/lawble/courtsync/internal/sync"
	"github.com/lawble/courtsync/pkg/logger"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes
func SetupRoutes(
	router *gin.Engine,
	db *gorm.DB,
	snapCache cache.SnapshotCache,
	syncService *syncsvc.Service,
	rotationScheduler *rotation.Scheduler,
	challenges *portal.ChallengeProvider,
	logger *logger.Logger,
	cfg *config.Config,
) {
	h := NewHandlers(db, snapCache, syncService, rotationScheduler, challenges, logger, cfg)

	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", h.HealthCheck)

		// Case sync endpoints
		api.POST("/cases/:id/sync", h.SyncCase)
		api.GET("/cases/:id/hearings", h.ListHearings)
		api.GET("/cases/:id/snapshot", h.GetSnapshot)

		// Session rotation, invoked by the periodic job runner
		api.POST("/sessions/renew", h.RenewSessions)

		// CAPTCHA challenge for first-time searches
		api.GET("/captcha/challenge", h.GetChallenge)

		// Audit / observability
		api.GET("/sync/logs", h.ListSyncLogs)
		api.GET("/cache/stats", h.CacheStats)
	}
}
