package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/notify"
)

type ContributorApplyRequest struct {
	TierID string `json:"tierId" validate:"required,max=64"`
}

// Eligibility is the referral prerequisite checked before an application is submitted.
type Eligibility struct {
	ActiveReferrals int  `json:"activeReferrals"`
	Required        int  `json:"required"`
	Eligible        bool `json:"eligible"`
}

type ContributorService struct {
	ledger       *ledger.Ledger
	catalog      catalog.Reader
	policy       AuthorizationPolicy
	alerts       *adminAlerts
	minReferrals int
	audit        *audit.Logger
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewContributorService(l *ledger.Ledger, cat catalog.Reader, policy AuthorizationPolicy, notifier notify.Notifier, strictNotify bool, minReferrals int, auditLog *audit.Logger, log logrus.FieldLogger) *ContributorService {
	return &ContributorService{
		ledger:       l,
		catalog:      cat,
		policy:       policy,
		alerts:       newAdminAlerts(notifier, strictNotify, log),
		minReferrals: minReferrals,
		audit:        auditLog,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CheckEligibility counts referred users that currently hold an active investment.
func (s *ContributorService) CheckEligibility(ctx context.Context, userID string) (*Eligibility, error) {
	var n int
	err := s.ledger.Run(ctx, "contributor_eligibility", func(tx ledger.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		n, err = tx.CountActiveReferrals(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Eligibility{ActiveReferrals: n, Required: s.minReferrals, Eligible: n >= s.minReferrals}, nil
}

// Apply debits the tier deposit and records a pending application in one unit of work.
// Only the balance is validated here; the referral prerequisite is the caller's.
func (s *ContributorService) Apply(ctx context.Context, actor models.Principal, tierID string) (*models.ContributorApplication, error) {
	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}

	tier, err := s.catalog.Tier(tierID)
	if err != nil {
		return nil, err
	}

	app := &models.ContributorApplication{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		TierID:    tier.ID,
		TierLevel: tier.Level,
		Deposit:   tier.Deposit,
		AppliedAt: s.now(),
		Status:    models.StatusPending,
	}

	err = s.ledger.Run(ctx, "contributor_apply", func(tx ledger.Tx) error {
		if _, err := activeUser(ctx, tx, actor.UserID); err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, tx, actor.UserID, ledger.Delta{
			Amount:    tier.Deposit.Neg(),
			Kind:      models.EntryContributorDeposit,
			Reference: app.ID,
		}); err != nil {
			return err
		}
		return tx.InsertApplication(ctx, app)
	})
	if err != nil {
		s.audit.LogError("CONTRIBUTOR_DEPOSIT", app.ID, actor.UserID, err)
		return nil, err
	}

	s.audit.LogMovement("CONTRIBUTOR_DEPOSIT", app.ID, actor.UserID, actor.UserID, tier.Deposit.Neg())
	s.log.WithFields(logrus.Fields{
		"user_id":        actor.UserID,
		"application_id": app.ID,
		"tier_id":        tier.ID,
		"deposit":        tier.Deposit.String(),
	}).Info("[Contributor] application submitted")

	return app, s.alerts.send(ctx, notify.Notification{
		Kind:      notify.KindContributorApplied,
		UserID:    actor.UserID,
		Reference: app.ID,
		Amount:    tier.Deposit,
	})
}

// Approve keeps the deposit. Admin only.
func (s *ContributorService) Approve(ctx context.Context, actor models.Principal, applicationID string) (*models.ContributorApplication, error) {
	return s.resolve(ctx, actor, applicationID, models.StatusApproved)
}

// Reject refunds the deposit together with the status change. Admin only.
func (s *ContributorService) Reject(ctx context.Context, actor models.Principal, applicationID string) (*models.ContributorApplication, error) {
	return s.resolve(ctx, actor, applicationID, models.StatusRejected)
}

func (s *ContributorService) resolve(ctx context.Context, actor models.Principal, applicationID string, to models.RequestStatus) (*models.ContributorApplication, error) {
	if err := requireAdmin(s.policy, actor); err != nil {
		return nil, err
	}

	var app *models.ContributorApplication
	err := s.ledger.Run(ctx, "contributor_"+string(to), func(tx ledger.Tx) error {
		var err error
		if app, err = tx.LockApplication(ctx, applicationID); err != nil {
			return err
		}
		if err := ensurePending("contributor application", applicationID, app.Status); err != nil {
			return err
		}

		if to == models.StatusRejected {
			if _, err := ledger.ApplyDelta(ctx, tx, app.UserID, ledger.Delta{
				Amount:          app.Deposit,
				CreateIfMissing: true,
				Kind:            models.EntryContributorRefund,
				Reference:       app.ID,
			}); err != nil {
				return err
			}
		}

		now := s.now()
		app.Status = to
		app.ResolvedBy = actor.UserID
		app.ResolvedAt = &now
		return tx.UpdateApplicationStatus(ctx, app)
	})
	if err != nil {
		s.audit.LogError("CONTRIBUTOR_RESOLUTION", applicationID, actor.UserID, err)
		return nil, err
	}

	if to == models.StatusRejected {
		s.audit.LogMovement("CONTRIBUTOR_REFUND", app.ID, app.UserID, actor.UserID, app.Deposit)
	}
	s.audit.LogTransition("CONTRIBUTOR_APPLICATION", app.ID, app.UserID, actor.UserID, string(models.StatusPending), string(to))
	s.log.WithFields(logrus.Fields{"application_id": app.ID, "user_id": app.UserID, "status": to}).Info("[Contributor] application resolved")
	return app, nil
}

// Err returns nil when eligible, otherwise ledger.ErrNotEligible with the counts.
func (e *Eligibility) Err() error {
	if e.Eligible {
		return nil
	}
	return fmt.Errorf("%w: %d active referrals, %d required", ledger.ErrNotEligible, e.ActiveReferrals, e.Required)
}
