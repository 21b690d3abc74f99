package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/portal"
	"github.com/lawble/courtsync/internal/store"
	"github.com/lawble/courtsync/pkg/logger"
)

// SessionRefresher is the slice of the portal client rotation needs.
type SessionRefresher interface {
	RefreshSession(ctx context.Context, identity *database.SessionIdentity) (*portal.RenewedSession, error)
}

// Summary is the outcome of one rotation run.
type Summary struct {
	Considered int              `json:"considered"`
	Renewed    int              `json:"renewed"`
	Failed     int              `json:"failed"`
	Migrated   int64            `json:"migrated"`
	Failures   []RenewalFailure `json:"failures,omitempty"`
}

// RenewalFailure records one identity that could not be renewed.
type RenewalFailure struct {
	IdentityID uint   `json:"identity_id"`
	Error      string `json:"error"`
}

// Scheduler renews session identities nearing expiry and migrates
// their case credentials to the replacement identity. Identities are
// processed strictly sequentially: a concurrent renewal migrating the
// same credential rows would race.
type Scheduler struct {
	cfg         *config.Config
	portal      SessionRefresher
	identities  store.IdentityStore
	credentials store.CredentialStore
	logger      *logger.Logger
}

func NewScheduler(
	cfg *config.Config,
	refresher SessionRefresher,
	identities store.IdentityStore,
	credentials store.CredentialStore,
	logger *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		portal:      refresher,
		identities:  identities,
		credentials: credentials,
		logger:      logger,
	}
}

// Run renews every auto-rotating identity whose expiry falls within
// the renewal window. One identity's failure does not stop the rest;
// a failed identity stays "expiring" so the next run retries it.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	window := time.Duration(s.cfg.RenewalWindowDays) * 24 * time.Hour
	expiring, err := s.identities.ListExpiring(window)
	if err != nil {
		return nil, fmt.Errorf("list expiring identities: %w", err)
	}

	summary := &Summary{Considered: len(expiring)}

	for i := range expiring {
		identity := &expiring[i]

		if err := ctx.Err(); err != nil {
			s.logger.Warn("Rotation run cancelled", "remaining", len(expiring)-i)
			break
		}

		if identity.Status == database.IdentityActive {
			if err := s.identities.SetStatus(identity.ID, database.IdentityExpiring); err != nil {
				s.logger.Error("Failed to mark identity expiring", "identity_id", identity.ID, "error", err)
			} else {
				identity.Status = database.IdentityExpiring
			}
		}

		migrated, err := s.renew(ctx, identity)
		// Credentials can move before a later step fails (the expiry
		// update on the old identity), so count them on both branches.
		summary.Migrated += migrated
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, RenewalFailure{
				IdentityID: identity.ID,
				Error:      err.Error(),
			})
			s.logger.Error("Session renewal failed",
				"identity_id", identity.ID,
				"principal", identity.Principal,
				"error", err,
			)
			continue
		}

		summary.Renewed++
	}

	s.logger.Info("Rotation run complete",
		"considered", summary.Considered,
		"renewed", summary.Renewed,
		"failed", summary.Failed,
		"migrated", summary.Migrated,
	)

	return summary, nil
}

// renew obtains a fresh session, persists it as the new active
// identity, migrates every dependent credential, and only then expires
// the old identity. A failure before the migration leaves the old
// identity untouched; a failed expiry update still reports the rows
// that already moved.
func (s *Scheduler) renew(ctx context.Context, old *database.SessionIdentity) (int64, error) {
	renewed, err := s.portal.RefreshSession(ctx, old)
	if err != nil {
		return 0, err
	}

	replacement := &database.SessionIdentity{
		Token:      renewed.Token,
		Cookie:     renewed.Cookie,
		Principal:  old.Principal,
		IssuedAt:   time.Now(),
		ExpiresAt:  renewed.ExpiresAt,
		Status:     database.IdentityActive,
		AutoRotate: old.AutoRotate,
	}
	if err := s.identities.Put(replacement); err != nil {
		return 0, fmt.Errorf("persist renewed identity: %w", err)
	}

	migrated, err := s.credentials.MigrateOwner(old.ID, replacement.ID)
	if err != nil {
		return 0, fmt.Errorf("migrate credentials: %w", err)
	}

	if err := s.identities.SetStatus(old.ID, database.IdentityExpired); err != nil {
		return migrated, fmt.Errorf("expire old identity: %w", err)
	}

	s.logger.Info("Session renewed",
		"old_identity_id", old.ID,
		"new_identity_id", replacement.ID,
		"principal", old.Principal,
		"migrated", migrated,
	)

	return migrated, nil
}
