package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lawble/courtsync/internal/cache"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/rotation"
	"github.com/lawble/courtsync/internal/store"
	syncsvc "github.com/lawble/courtsync/internal/sync"
	"github.com/lawble/courtsync/pkg/logger"
	"gorm.io/gorm"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	db         *gorm.DB
	cache      cache.SnapshotCache
	sync       *syncsvc.Service
	rotation   *rotation.Scheduler
	challenges *portal.ChallengeProvider
	identities store.IdentityStore
	hearings   store.HearingStore
	snapshots  store.SnapshotStore
	syncLogs   store.SyncLogStore
	logger     *logger.Logger
	cfg        *config.Config
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	db *gorm.DB,
	snapCache cache.SnapshotCache,
	syncService *syncsvc.Service,
	rotationScheduler *rotation.Scheduler,
	challenges *portal.ChallengeProvider,
	logger *logger.Logger,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		db:         db,
		cache:      snapCache,
		sync:       syncService,
		rotation:   rotationScheduler,
		challenges: challenges,
		identities: store.NewIdentityStore(db),
		hearings:   store.NewHearingStore(db),
		snapshots:  store.NewSnapshotStore(db),
		syncLogs:   store.NewSyncLogStore(db),
		logger:     logger,
		cfg:        cfg,
	}
}

// SyncCase triggers a sync for a case. A first-time sync needs the
// search fields plus a CAPTCHA answer; subsequent syncs run off the
// cached credential with an empty body.
func (h *Handlers) SyncCase(c *gin.Context) {
	caseID := c.Param("id")

	var req struct {
		Principal     string `json:"principal"`
		CourtCode     string `json:"court_code"`
		CaseYear      string `json:"case_year"`
		CaseTypeCode  string `json:"case_type_code"`
		CaseSerial    string `json:"case_serial"`
		PartyName     string `json:"party_name"`
		CaptchaAnswer string `json:"captcha_answer"`
	}

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid request body: " + err.Error(),
			})
			return
		}
	}

	timeout := h.cfg.PortalTimeout * time.Duration(h.cfg.SyncMaxRetries+1)
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	outcome, err := h.sync.SyncCase(ctx, syncsvc.SyncRequest{
		CaseID:        caseID,
		Principal:     req.Principal,
		CourtCode:     req.CourtCode,
		CaseYear:      req.CaseYear,
		CaseTypeCode:  req.CaseTypeCode,
		CaseSerial:    req.CaseSerial,
		PartyName:     req.PartyName,
		CaptchaAnswer: req.CaptchaAnswer,
	})
	if err != nil {
		kind := portal.KindOf(err)
		c.JSON(statusForKind(kind), gin.H{
			"success": false,
			"error":   err.Error(),
			"kind":    string(kind),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    outcome,
	})
}

// RenewSessions runs one rotation pass; intended to be called by an
// external scheduler.
func (h *Handlers) RenewSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.PortalTimeout*10)
	defer cancel()

	summary, err := h.rotation.Run(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
	})
}

// GetChallenge issues a fresh CAPTCHA challenge for the principal's
// active session. The image is base64 in the JSON body.
func (h *Handlers) GetChallenge(c *gin.Context) {
	if h.challenges == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Challenge fetcher is disabled",
		})
		return
	}

	principal := c.Query("principal")
	if principal == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required parameter: principal",
		})
		return
	}

	identity, err := h.identities.ActiveForPrincipal(principal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   "No active session for principal",
				"kind":    string(portal.KindSessionExpired),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.PortalTimeout)
	defer cancel()

	challenge, err := h.challenges.Issue(ctx, identity)
	if err != nil {
		kind := portal.KindOf(err)
		c.JSON(statusForKind(kind), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"challenge": challenge,
	})
}

// ListHearings returns local hearing rows for a case.
func (h *Handlers) ListHearings(c *gin.Context) {
	caseID := c.Param("id")

	records, err := h.hearings.ListByCase(caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
	})
}

// GetSnapshot returns the latest stored snapshot for a case.
func (h *Handlers) GetSnapshot(c *gin.Context) {
	caseID := c.Param("id")

	if snap, found := h.cache.Get(cache.GenerateCacheKey(caseID)); found {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"data":      snap,
			"fromCache": true,
		})
		return
	}

	snap, err := h.snapshots.Get(caseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Snapshot not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      snap,
		"fromCache": false,
	})
}

// ListSyncLogs returns recent sync attempts
func (h *Handlers) ListSyncLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.syncLogs.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
	})
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	var count int64
	dbHealthy := h.db.Model(&database.SyncLog{}).Count(&count).Error == nil

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealthy,
		"cache":    h.cache.Stats(),
		"time":     time.Now().Unix(),
	})
}

// CacheStats returns cache statistics
func (h *Handlers) CacheStats(c *gin.Context) {
	stats := h.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// statusForKind maps the portal error taxonomy onto HTTP statuses.
func statusForKind(kind portal.Kind) int {
	switch kind {
	case portal.KindInvalidCaptcha, portal.KindPartyNameMismatch:
		return http.StatusUnprocessableEntity
	case portal.KindCaseNotFound:
		return http.StatusNotFound
	case portal.KindSessionExpired:
		return http.StatusConflict
	case portal.KindPortalUnavailable, portal.KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
