package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/workpulse-hq/workpulse/app/models"
)

// SweepConfig tunes the periodic reconciliation sweeps. Batching with an
// inter-batch delay keeps a large backlog from saturating the DB or the
// provider APIs.
type SweepConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	// ProvisionalMinAge is how long a client-reported purchase may stay
	// unconfirmed before the finalizer sweep verifies it server-side.
	ProvisionalMinAge time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		BatchSize:         50,
		BatchDelay:        2 * time.Second,
		ProvisionalMinAge: 6 * time.Hour,
	}
}

// SetSweepConfig overrides the default sweep tuning.
func (s *Service) SetSweepConfig(cfg SweepConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	s.sweeps = cfg
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Scanned    int `json:"scanned"`
	Downgraded int `json:"downgraded"`
	Restored   int `json:"restored"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (r SweepReport) String() string {
	return fmt.Sprintf("scanned=%d downgraded=%d restored=%d skipped=%d failed=%d",
		r.Scanned, r.Downgraded, r.Restored, r.Skipped, r.Failed)
}

type sweepPage func(limit int, afterID uint) ([]models.SubscriptionLedger, error)

// forEachLedger walks a query in id-ordered batches. A panic or error on one
// record is logged and counted, never aborting the rest of the sweep.
func (s *Service) forEachLedger(name string, page sweepPage, report *SweepReport, handle func(*models.SubscriptionLedger) error) error {
	afterID := uint(0)
	for {
		batch, err := page(s.sweeps.BatchSize, afterID)
		if err != nil {
			return fmt.Errorf("%s sweep query failed: %w", name, err)
		}
		if len(batch) == 0 {
			return nil
		}

		for i := range batch {
			ledger := &batch[i]
			afterID = ledger.ID
			report.Scanned++
			if err := s.handleOne(name, ledger, handle); err != nil {
				report.Failed++
			}
		}

		if len(batch) < s.sweeps.BatchSize {
			return nil
		}
		if s.sweeps.BatchDelay > 0 {
			time.Sleep(s.sweeps.BatchDelay)
		}
	}
}

func (s *Service) handleOne(name string, ledger *models.SubscriptionLedger, handle func(*models.SubscriptionLedger) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			log.Errorf("%s sweep: ledger %d (user %d) failed: %v", name, ledger.ID, ledger.UserID, err)
		}
	}()
	return handle(ledger)
}

// RunExpiredCancelledSweep downgrades ledgers whose soft-cancelled plan has
// passed its paid-through date. The cancellation webhook already settled the
// question, so this sweep makes no provider calls at all.
func (s *Service) RunExpiredCancelledSweep(ctx context.Context) (SweepReport, error) {
	_ = ctx
	now := s.now()
	var report SweepReport

	err := s.forEachLedger("expired-cancelled", func(limit int, afterID uint) ([]models.SubscriptionLedger, error) {
		return s.repo.FindExpiredCancelled(now, limit, afterID)
	}, &report, func(ledger *models.SubscriptionLedger) error {
		downgradeToFree(ledger)
		if err := s.repo.SaveLedger(ledger); err != nil {
			return err
		}
		if err := s.repo.DeactivateHistory(ledger.ID); err != nil {
			return err
		}
		report.Downgraded++
		log.Infof("expired-cancelled sweep: user %d downgraded to free", ledger.UserID)
		return nil
	})

	log.Infof("expired-cancelled sweep done: %s", report)
	return report, err
}

// RunGraceExpiredSweep settles ledgers whose grace window has lapsed. Grace
// often ends in silent recovery (charge succeeds, no webhook guarantee), so
// each record is re-verified before any downgrade.
func (s *Service) RunGraceExpiredSweep(ctx context.Context) (SweepReport, error) {
	now := s.now()
	var report SweepReport

	err := s.forEachLedger("grace-expired", func(limit int, afterID uint) ([]models.SubscriptionLedger, error) {
		return s.repo.FindGraceExpired(now, limit, afterID)
	}, &report, func(ledger *models.SubscriptionLedger) error {
		ev := sweepEvent(ledger, EventRecover, "sweep.grace_expired")
		ver := s.verifier.Verify(ctx, ev)

		switch {
		case ver != nil && ver.Success:
			return s.restoreFromSweep(ctx, ledger, ev, ver, &report)
		case ver != nil && ver.ErrKind == VerifyErrTransport:
			// Indeterminate; leave the record for the next run.
			report.Skipped++
			log.Warnf("grace-expired sweep: user %d verification unavailable: %s", ledger.UserID, ver.Err)
			return nil
		default:
			downgradeToFree(ledger)
			if err := s.repo.SaveLedger(ledger); err != nil {
				return err
			}
			if err := s.repo.DeactivateHistory(ledger.ID); err != nil {
				return err
			}
			report.Downgraded++
			log.Infof("grace-expired sweep: user %d not recovered, downgraded", ledger.UserID)
			return nil
		}
	})

	log.Infof("grace-expired sweep done: %s", report)
	return report, err
}

// RunTrialExpiredSweep downgrades lapsed trials. Trials have no provider
// record, so there is nothing to verify.
func (s *Service) RunTrialExpiredSweep(ctx context.Context) (SweepReport, error) {
	_ = ctx
	now := s.now()
	var report SweepReport

	err := s.forEachLedger("trial-expired", func(limit int, afterID uint) ([]models.SubscriptionLedger, error) {
		return s.repo.FindTrialExpired(now, limit, afterID)
	}, &report, func(ledger *models.SubscriptionLedger) error {
		downgradeToFree(ledger)
		if err := s.repo.SaveLedger(ledger); err != nil {
			return err
		}
		if err := s.repo.DeactivateHistory(ledger.ID); err != nil {
			return err
		}
		report.Downgraded++
		log.Infof("trial-expired sweep: user %d trial ended", ledger.UserID)
		return nil
	})

	log.Infof("trial-expired sweep done: %s", report)
	return report, err
}

// RunProvisionalPurchaseSweep finalizes client-reported purchases whose
// confirming webhook never arrived: verify server-side, then grant or revert.
func (s *Service) RunProvisionalPurchaseSweep(ctx context.Context) (SweepReport, error) {
	cutoff := s.now().Add(-s.sweeps.ProvisionalMinAge)
	var report SweepReport

	err := s.forEachLedger("provisional-purchase", func(limit int, afterID uint) ([]models.SubscriptionLedger, error) {
		return s.repo.FindUnverifiedWithToken(cutoff, limit, afterID)
	}, &report, func(ledger *models.SubscriptionLedger) error {
		// Grace and soft-cancel records are unverified too but owned by
		// their dedicated sweeps.
		if ledger.IsGrace || ledger.IsCancelled {
			report.Skipped++
			return nil
		}

		ev := sweepEvent(ledger, EventPurchase, "sweep.provisional_purchase")
		ver := s.verifier.Verify(ctx, ev)

		switch {
		case ver != nil && ver.Success:
			return s.restoreFromSweep(ctx, ledger, ev, ver, &report)
		case ver != nil && ver.ErrKind == VerifyErrTransport:
			report.Skipped++
			log.Warnf("provisional-purchase sweep: user %d verification unavailable: %s", ledger.UserID, ver.Err)
			return nil
		default:
			if ledger.IsPaidPlan() {
				downgradeToFree(ledger)
				if err := s.repo.SaveLedger(ledger); err != nil {
					return err
				}
				if err := s.repo.DeactivateHistory(ledger.ID); err != nil {
					return err
				}
				report.Downgraded++
				log.Infof("provisional-purchase sweep: user %d purchase never confirmed, reverted", ledger.UserID)
				return nil
			}
			// Free ledger with a stale token: drop the token so the record
			// leaves the sweep's working set.
			ledger.LastPurchaseToken = ledger.PurchaseToken
			ledger.PurchaseToken = ""
			report.Downgraded++
			return s.repo.SaveLedger(ledger)
		}
	})

	log.Infof("provisional-purchase sweep done: %s", report)
	return report, err
}

func (s *Service) restoreFromSweep(ctx context.Context, ledger *models.SubscriptionLedger, ev NormalizedEvent, ver *VerificationResult, report *SweepReport) error {
	outcome := Apply(ledger, ev, ver, s.now())
	if outcome.Mutated {
		if err := s.persistOutcome(ledger, outcome); err != nil {
			return err
		}
	}
	if outcome.Effects.ActivateResources {
		if err := s.activator.ActivateAll(ctx, ledger.UserID); err != nil {
			log.Errorf("resource activation failed for user %d: %v", ledger.UserID, err)
		}
	}
	report.Restored++
	log.Infof("sweep restored user %d to plan %s (state %s)", ledger.UserID, ver.Plan, ver.RawState)
	return nil
}

// sweepEvent builds the synthetic event a sweep feeds to verification and the
// transition engine.
func sweepEvent(ledger *models.SubscriptionLedger, class EventClass, rawType string) NormalizedEvent {
	return NormalizedEvent{
		Provider:       ledger.PlanSource,
		Class:          class,
		RawType:        rawType,
		PurchaseToken:  ledger.PurchaseToken,
		SubscriptionID: ledger.GatewaySubscriptionID,
		CustomerID:     ledger.GatewayCustomerID,
	}
}
