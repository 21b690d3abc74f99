package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lawble/courtsync/internal/cache"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/store"
	"github.com/lawble/courtsync/pkg/logger"
)

// PortalAPI is the slice of the portal client the sync service needs.
type PortalAPI interface {
	Search(ctx context.Context, identity *database.SessionIdentity, req portal.SearchRequest) (*portal.SearchResult, error)
	FetchDetail(ctx context.Context, identity *database.SessionIdentity, credential string) (*portal.RawCasePayload, error)
}

// SyncRequest describes one case sync. The search fields and captcha
// answer are only required when a search has to run: the first sync of
// a case, or a re-search after the owning identity dies.
type SyncRequest struct {
	CaseID    string
	Principal string

	CourtCode     string
	CaseYear      string
	CaseTypeCode  string
	CaseSerial    string
	PartyName     string
	CaptchaAnswer string
}

// SyncOutcome is the result of a successful sync.
type SyncOutcome struct {
	CaseID         string           `json:"case_id"`
	FirstSync      bool             `json:"first_sync"`
	Changed        bool             `json:"changed"`
	ContentHash    string           `json:"content_hash"`
	Reconciliation *ReconcileResult `json:"reconciliation,omitempty"`
}

// Service orchestrates the on-demand case sync flow: credential lookup
// (or first-time CAPTCHA search), detail fetch with backoff on
// transient errors, change detection, and hearing reconciliation.
type Service struct {
	cfg         *config.Config
	portal      PortalAPI
	identities  store.IdentityStore
	credentials store.CredentialStore
	snapshots   store.SnapshotStore
	cache       cache.SnapshotCache
	reconciler  *Reconciler
	logs        store.SyncLogStore
	logger      *logger.Logger
}

func NewService(
	cfg *config.Config,
	portalAPI PortalAPI,
	identities store.IdentityStore,
	credentials store.CredentialStore,
	snapshots store.SnapshotStore,
	snapCache cache.SnapshotCache,
	reconciler *Reconciler,
	logs store.SyncLogStore,
	logger *logger.Logger,
) *Service {
	return &Service{
		cfg:         cfg,
		portal:      portalAPI,
		identities:  identities,
		credentials: credentials,
		snapshots:   snapshots,
		cache:       snapCache,
		reconciler:  reconciler,
		logs:        logs,
		logger:      logger,
	}
}

// SyncCase runs one sync attempt for a case. The credential status is
// only advanced to "synced" after the fetch, reconciliation, and
// snapshot persist all complete; a timed-out or failed fetch leaves it
// "failed" with the last error recorded.
func (s *Service) SyncCase(ctx context.Context, req SyncRequest) (*SyncOutcome, error) {
	started := time.Now()
	outcome := &SyncOutcome{CaseID: req.CaseID}

	cred, err := s.credentials.GetByCaseID(req.CaseID)
	if errors.Is(err, store.ErrNotFound) {
		cred, err = s.firstSearch(ctx, req)
		if err != nil {
			s.logAttempt(req.CaseID, started, outcome, err)
			return nil, err
		}
		outcome.FirstSync = true
	} else if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	identity, err := s.identities.Get(cred.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load owning identity: %w", err)
	}

	if !identity.Live(time.Now()) {
		if req.CaptchaAnswer == "" {
			msg := "owning session identity is no longer live; re-search required"
			if err := s.credentials.SetSyncStatus(req.CaseID, database.SyncFailed, msg); err != nil {
				s.logger.Error("Failed to record sync failure", "case_id", req.CaseID, "error", err)
			}
			perr := portal.NewError(portal.KindSessionExpired, msg)
			s.logAttempt(req.CaseID, started, outcome, perr)
			return nil, perr
		}

		cred, identity, err = s.reSearch(ctx, req, cred)
		if err != nil {
			if serr := s.credentials.SetSyncStatus(req.CaseID, database.SyncFailed, err.Error()); serr != nil {
				s.logger.Error("Failed to record sync failure", "case_id", req.CaseID, "error", serr)
			}
			s.logAttempt(req.CaseID, started, outcome, err)
			return nil, err
		}
	}

	if err := s.credentials.SetSyncStatus(req.CaseID, database.SyncRunning, ""); err != nil {
		return nil, fmt.Errorf("mark syncing: %w", err)
	}

	payload, err := s.fetchWithRetry(ctx, identity, cred.Credential)
	if err != nil {
		if serr := s.credentials.SetSyncStatus(req.CaseID, database.SyncFailed, err.Error()); serr != nil {
			s.logger.Error("Failed to record sync failure", "case_id", req.CaseID, "error", serr)
		}
		s.logAttempt(req.CaseID, started, outcome, err)
		return nil, err
	}

	snap := Normalize(req.CaseID, payload)
	newHash := Hash(snap)
	outcome.ContentHash = newHash

	oldHash := s.lastHash(req.CaseID)
	if !HasChanged(oldHash, snap) {
		outcome.Changed = false
		if err := s.credentials.MarkSynced(req.CaseID, time.Now()); err != nil {
			return nil, fmt.Errorf("mark synced: %w", err)
		}
		s.logAttempt(req.CaseID, started, outcome, nil)
		return outcome, nil
	}

	outcome.Changed = true
	result := s.reconciler.Reconcile(req.CaseID, snap.Hearings)
	outcome.Reconciliation = &result

	payloadJSON, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	row := &database.CaseSnapshot{
		CaseID:      req.CaseID,
		Payload:     string(payloadJSON),
		ContentHash: newHash,
		CapturedAt:  time.Now(),
	}
	if err := s.snapshots.Save(row); err != nil {
		if serr := s.credentials.SetSyncStatus(req.CaseID, database.SyncFailed, err.Error()); serr != nil {
			s.logger.Error("Failed to record sync failure", "case_id", req.CaseID, "error", serr)
		}
		s.logAttempt(req.CaseID, started, outcome, err)
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	if err := s.cache.Set(cache.GenerateCacheKey(req.CaseID), row); err != nil {
		s.logger.Warn("Failed to cache snapshot", "case_id", req.CaseID, "error", err)
	}

	if err := s.credentials.MarkSynced(req.CaseID, time.Now()); err != nil {
		return nil, fmt.Errorf("mark synced: %w", err)
	}

	s.logAttempt(req.CaseID, started, outcome, nil)
	s.logger.Info("Case synced",
		"case_id", req.CaseID,
		"changed", outcome.Changed,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"item_errors", len(result.Errors),
	)

	return outcome, nil
}

// firstSearch performs the one-time CAPTCHA-gated search and stores the
// resulting credential.
func (s *Service) firstSearch(ctx context.Context, req SyncRequest) (*database.CaseCredential, error) {
	if req.CaptchaAnswer == "" {
		return nil, portal.NewError(portal.KindInvalidCaptcha, "captcha answer is required for a first-time search")
	}

	identity, err := s.identities.ActiveForPrincipal(req.Principal)
	if errors.Is(err, store.ErrNotFound) {
		return nil, portal.NewError(portal.KindSessionExpired, "no active session identity for principal")
	} else if err != nil {
		return nil, fmt.Errorf("load active identity: %w", err)
	}

	result, err := s.portal.Search(ctx, identity, portal.SearchRequest{
		CourtCode:     req.CourtCode,
		CaseYear:      req.CaseYear,
		CaseTypeCode:  req.CaseTypeCode,
		CaseSerial:    req.CaseSerial,
		PartyName:     req.PartyName,
		CaptchaAnswer: req.CaptchaAnswer,
	})
	if err != nil {
		return nil, err
	}

	cred := &database.CaseCredential{
		CaseID:       req.CaseID,
		Credential:   result.Credential,
		IdentityID:   identity.ID,
		CourtCode:    result.CourtCode,
		CaseTypeCode: req.CaseTypeCode,
		CaseYear:     req.CaseYear,
		CaseSerial:   req.CaseSerial,
		SyncStatus:   database.SyncNever,
	}
	if err := s.credentials.Put(cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	s.logger.Info("Case credential acquired", "case_id", req.CaseID, "identity_id", identity.ID)
	return cred, nil
}

// reSearch recovers a case whose owning identity died without being
// rotated (expired or revoked, so rotation never migrated it). A fresh
// CAPTCHA-gated search against the principal's current active identity
// yields a new credential, and the existing row is re-pointed in place.
// Search fields absent from the request fall back to the stored ones.
func (s *Service) reSearch(ctx context.Context, req SyncRequest, cred *database.CaseCredential) (*database.CaseCredential, *database.SessionIdentity, error) {
	identity, err := s.identities.ActiveForPrincipal(req.Principal)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, portal.NewError(portal.KindSessionExpired, "no active session identity for principal")
	} else if err != nil {
		return nil, nil, fmt.Errorf("load active identity: %w", err)
	}

	search := portal.SearchRequest{
		CourtCode:     req.CourtCode,
		CaseYear:      req.CaseYear,
		CaseTypeCode:  req.CaseTypeCode,
		CaseSerial:    req.CaseSerial,
		PartyName:     req.PartyName,
		CaptchaAnswer: req.CaptchaAnswer,
	}
	if search.CourtCode == "" {
		search.CourtCode = cred.CourtCode
	}
	if search.CaseYear == "" {
		search.CaseYear = cred.CaseYear
	}
	if search.CaseTypeCode == "" {
		search.CaseTypeCode = cred.CaseTypeCode
	}
	if search.CaseSerial == "" {
		search.CaseSerial = cred.CaseSerial
	}

	result, err := s.portal.Search(ctx, identity, search)
	if err != nil {
		return nil, nil, err
	}

	cred.Credential = result.Credential
	cred.IdentityID = identity.ID
	if result.CourtCode != "" {
		cred.CourtCode = result.CourtCode
	}
	if err := s.credentials.Put(cred); err != nil {
		return nil, nil, fmt.Errorf("store credential: %w", err)
	}

	s.logger.Info("Case credential re-acquired",
		"case_id", req.CaseID,
		"identity_id", identity.ID,
	)
	return cred, identity, nil
}

// fetchWithRetry retries only transient portal errors, with doubling
// backoff. CAPTCHA and session errors surface immediately.
func (s *Service) fetchWithRetry(ctx context.Context, identity *database.SessionIdentity, credential string) (*portal.RawCasePayload, error) {
	backoff := s.cfg.SyncRetryBackoff
	var lastErr error

	for attempt := 0; attempt <= s.cfg.SyncMaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("Retrying detail fetch", "attempt", attempt, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return nil, portal.WrapError(portal.KindTimeout, "fetch cancelled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		payload, err := s.portal.FetchDetail(ctx, identity, credential)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if !portal.Retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// lastHash returns the stored content hash for a case, preferring the
// in-memory cache.
func (s *Service) lastHash(caseID string) string {
	if snap, found := s.cache.Get(cache.GenerateCacheKey(caseID)); found {
		return snap.ContentHash
	}

	snap, err := s.snapshots.Get(caseID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Failed to load stored snapshot", "case_id", caseID, "error", err)
		}
		return ""
	}
	return snap.ContentHash
}

func (s *Service) logAttempt(caseID string, started time.Time, outcome *SyncOutcome, err error) {
	entry := &database.SyncLog{
		CaseID:     caseID,
		Success:    err == nil,
		Changed:    outcome.Changed,
		DurationMs: time.Since(started).Milliseconds(),
		SyncTime:   started,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	if outcome.Reconciliation != nil {
		entry.Created = outcome.Reconciliation.Created
		entry.Updated = outcome.Reconciliation.Updated
		entry.Skipped = outcome.Reconciliation.Skipped
	}

	if aerr := s.logs.Append(entry); aerr != nil {
		s.logger.Error("Failed to append sync log", "case_id", caseID, "error", aerr)
	}
}
