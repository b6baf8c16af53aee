package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/entitlements"
)

// Service drives the full reconciliation path: correlation, verification,
// transition, persistence, and dead-letter capture.
type Service struct {
	repo      Repository
	verifier  Verifier
	activator ResourceActivator
	sweeps    SweepConfig
	now       func() time.Time
}

func NewService(repo Repository, verifier Verifier, activator ResourceActivator) *Service {
	return &Service{
		repo:      repo,
		verifier:  verifier,
		activator: activator,
		sweeps:    DefaultSweepConfig(),
		now:       time.Now,
	}
}

// NewServiceFromDB wires the service with the GORM-backed repository.
func NewServiceFromDB(db *gorm.DB, verifier Verifier, activator ResourceActivator) *Service {
	return NewService(NewRepository(db), verifier, activator)
}

// ProcessResult reports how an inbound event was handled.
type ProcessResult struct {
	Status string `json:"status"` // applied | duplicate | ignored | dead_lettered
	Note   string `json:"note,omitempty"`
}

type resolveState int

const (
	resolveMatched resolveState = iota
	resolveSilent               // no identifier, no token match: nothing actionable
	resolveOrphanPayment        // explicit account id with no matching ledger
)

// ProcessEvent runs one normalized webhook event through the reconciliation
// pipeline. The raw payload is persisted (idempotently) before any other
// work, so an internal failure after this point never loses the signal.
func (s *Service) ProcessEvent(ctx context.Context, ev NormalizedEvent) (*ProcessResult, error) {
	created, stored, err := s.recordWebhookEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("webhook persist failed: %w", err)
	}
	if !created {
		return &ProcessResult{Status: "duplicate"}, nil
	}

	result, procErr := s.applyEvent(ctx, ev)
	s.markProcessed(stored.ID, procErr)
	if procErr != nil {
		return nil, procErr
	}
	return result, nil
}

func (s *Service) applyEvent(ctx context.Context, ev NormalizedEvent) (*ProcessResult, error) {
	if ev.Class == EventUnknown {
		return &ProcessResult{Status: "ignored", Note: "event type not actionable: " + ev.RawType}, nil
	}

	ledger, state, err := s.resolveLedger(ev)
	if err != nil {
		return nil, err
	}
	switch state {
	case resolveSilent:
		return &ProcessResult{Status: "ignored", Note: "no correlation key matched"}, nil
	case resolveOrphanPayment:
		// A real charge exists but cannot be linked to an account. Silent
		// drop would be permanent revenue/record loss.
		if err := s.createDeadLetter(ev, nil, "no ledger matched embedded account id "+ev.AccountID); err != nil {
			return nil, err
		}
		return &ProcessResult{Status: "dead_lettered", Note: "unlinked payment captured"}, nil
	}

	var ver *VerificationResult
	if ev.Class.GrantsEntitlement() || ev.Class == EventGrace {
		ver = s.verifier.Verify(ctx, ev)
	}

	outcome := Apply(ledger, ev, ver, s.now())

	if reason := outcome.Effects.DeadLetterReason; reason != "" {
		if err := s.createDeadLetter(ev, ver, reason); err != nil {
			return nil, err
		}
		return &ProcessResult{Status: "dead_lettered", Note: reason}, nil
	}

	if outcome.Mutated {
		if err := s.persistOutcome(ledger, outcome); err != nil {
			return nil, err
		}
	}

	if outcome.Effects.ActivateResources {
		if err := s.activator.ActivateAll(ctx, ledger.UserID); err != nil {
			// The entitlement is already committed; activation is retried by
			// the consumer reading the ledger, so log and move on.
			log.Errorf("resource activation failed for user %d: %v", ledger.UserID, err)
		}
	}

	status := "applied"
	if !outcome.Mutated {
		status = "ignored"
	}
	return &ProcessResult{Status: status, Note: outcome.Note}, nil
}

// resolveLedger maps an event to a ledger. Lookup order tolerates token
// rotation across renewals: current token, previous token, then any history
// transaction id, then an embedded account id.
func (s *Service) resolveLedger(ev NormalizedEvent) (*models.SubscriptionLedger, resolveState, error) {
	if token := strings.TrimSpace(ev.PurchaseToken); token != "" {
		ledger, err := s.repo.FindLedgerByToken(token)
		if err == nil {
			return ledger, resolveMatched, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, resolveSilent, err
		}
	}

	if txn := strings.TrimSpace(ev.TransactionID); txn != "" {
		ledger, err := s.repo.FindLedgerByHistoryTransactionID(txn)
		if err == nil {
			return ledger, resolveMatched, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, resolveSilent, err
		}
	}

	if accountID := strings.TrimSpace(ev.AccountID); accountID != "" {
		userID, convErr := strconv.ParseUint(accountID, 10, 64)
		if convErr == nil {
			ledger, err := s.repo.GetLedgerByUserID(uint(userID))
			if err == nil {
				return ledger, resolveMatched, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, resolveSilent, err
			}
		}
		return nil, resolveOrphanPayment, nil
	}

	return nil, resolveSilent, nil
}

func (s *Service) persistOutcome(ledger *models.SubscriptionLedger, outcome Outcome) error {
	if err := s.repo.SaveLedger(ledger); err != nil {
		return err
	}
	if outcome.NewHistory != nil {
		return s.repo.ActivateHistoryEntry(ledger.ID, outcome.NewHistory)
	}
	if outcome.DeactivateHistory {
		return s.repo.DeactivateHistory(ledger.ID)
	}
	return nil
}

func (s *Service) recordWebhookEvent(ev NormalizedEvent) (bool, *models.WebhookEvent, error) {
	eventID := strings.TrimSpace(ev.EventID)
	if eventID == "" {
		sum := sha256.Sum256(ev.RawPayload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	return s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        ev.Provider,
		ProviderEventID: eventID,
		EventType:       ev.RawType,
		PayloadJSON:     string(ev.RawPayload),
		SignatureValid:  true,
	})
}

// ListFailedWebhookEvents returns captured events whose processing failed
// after capture. Dedup swallows the provider's redelivery for these, so the
// operator surface is where they get retried.
func (s *Service) ListFailedWebhookEvents(limit, offset int) ([]models.WebhookEvent, int64, error) {
	return s.repo.ListFailedWebhookEvents(limit, offset)
}

// ReplayWebhookEvent re-runs a captured event from its stored payload. A
// successful replay clears the recorded processing error.
func (s *Service) ReplayWebhookEvent(ctx context.Context, id uint) (*ProcessResult, error) {
	stored, err := s.repo.GetWebhookEvent(id)
	if err != nil {
		return nil, err
	}

	ev, err := reparseStoredEvent(stored)
	if err != nil {
		return nil, fmt.Errorf("stored payload is not replayable: %w", err)
	}

	result, procErr := s.applyEvent(ctx, *ev)
	s.markProcessed(stored.ID, procErr)
	if procErr != nil {
		return nil, procErr
	}
	return result, nil
}

func reparseStoredEvent(stored *models.WebhookEvent) (*NormalizedEvent, error) {
	switch stored.Provider {
	case models.PlanSourcePlay:
		return ParsePlayPushEvent([]byte(stored.PayloadJSON))
	case models.PlanSourceRazorpay:
		return ParseRazorpayEvent([]byte(stored.PayloadJSON), stored.ProviderEventID)
	default:
		return nil, fmt.Errorf("unknown provider %q", stored.Provider)
	}
}

func (s *Service) markProcessed(eventID uint, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(eventID, msg); err != nil {
		log.Errorf("failed to mark webhook event %d processed: %v", eventID, err)
	}
}

// createDeadLetter captures a payment signal that cannot be applied. The raw
// payload is stored unmodified; contact fields are best-effort.
func (s *Service) createDeadLetter(ev NormalizedEvent, ver *VerificationResult, reason string) error {
	snap := PlanSnapshot{
		ProductID:     ev.ProductRef,
		TransactionID: ev.TransactionID,
		PurchaseToken: ev.PurchaseToken,
		Source:        ev.Provider,
	}
	if ver != nil {
		snap.Plan = ver.Plan
		snap.BillingCycle = ver.BillingCycle
		snap.ExpiresAt = ver.ExpiresAt
		if snap.ProductID == "" {
			snap.ProductID = ver.ProductID
		}
		if snap.TransactionID == "" {
			snap.TransactionID = ver.SubscriptionID
		}
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	record := &models.DeadLetterEvent{
		RequestID:       uuid.NewString(),
		Source:          ev.Provider,
		Event:           ev.RawType,
		FailureReason:   reason,
		AttemptedUserID: ev.AccountID,
		SubscriptionID:  ev.SubscriptionID,
		CustomerID:      ev.CustomerID,
		PlanDetailsJSON: string(snapJSON),
		CustomerEmail:   ev.CustomerEmail,
		CustomerPhone:   ev.CustomerPhone,
		CustomerName:    ev.CustomerName,
		PaymentAmount:   ev.PaymentAmount,
		RawPayload:      string(ev.RawPayload),
		Status:          models.DeadLetterStatusPending,
	}
	if err := s.repo.CreateDeadLetter(record); err != nil {
		return err
	}
	log.Warnf("dead-letter captured: provider=%s event=%s reason=%s request_id=%s",
		ev.Provider, ev.RawType, reason, record.RequestID)
	return nil
}

// ApplySnapshot replays a dead-letter plan snapshot onto the corrected
// account, through the same mutation path as a normal verified purchase.
// Captured snapshots usually carry no plan details (verification never ran,
// or failed, at capture time), so the snapshot's purchase identifiers are
// re-verified against the provider first; the stored snapshot is only a
// fallback for when the provider cannot answer, and a replay whose effective
// plan is empty is rejected rather than written to the ledger.
func (s *Service) ApplySnapshot(ctx context.Context, userID uint, snap PlanSnapshot) error {
	ledger, err := s.repo.GetOrCreateLedger(userID)
	if err != nil {
		return err
	}

	ev := NormalizedEvent{
		Provider:      snap.Source,
		Class:         EventPurchase,
		RawType:       "operator.apply",
		PurchaseToken: snap.PurchaseToken,
		TransactionID: snap.TransactionID,
		ProductRef:    snap.ProductID,
	}

	ver := s.verifySnapshot(ctx, ev, snap)
	if ver == nil {
		return fmt.Errorf("snapshot carries no plan and the provider did not confirm one for token %q", snap.PurchaseToken)
	}

	outcome := Apply(ledger, ev, ver, s.now())
	if outcome.Mutated {
		if err := s.persistOutcome(ledger, outcome); err != nil {
			return err
		}
	}
	if outcome.Effects.ActivateResources {
		if err := s.activator.ActivateAll(ctx, userID); err != nil {
			log.Errorf("resource activation failed for user %d: %v", userID, err)
		}
	}
	return nil
}

// verifySnapshot prefers a fresh provider answer over the stored snapshot.
// Returns nil when neither yields a usable plan.
func (s *Service) verifySnapshot(ctx context.Context, ev NormalizedEvent, snap PlanSnapshot) *VerificationResult {
	if strings.TrimSpace(ev.PurchaseToken) != "" || strings.TrimSpace(ev.TransactionID) != "" {
		if ver := s.verifier.Verify(ctx, ev); ver != nil && ver.Success {
			return ver
		}
	}
	if strings.TrimSpace(snap.Plan) == "" {
		return nil
	}
	return &VerificationResult{
		Success:        true,
		Plan:           snap.Plan,
		BillingCycle:   snap.BillingCycle,
		ExpiresAt:      snap.ExpiresAt,
		ProductID:      snap.ProductID,
		RawState:       "operator_resolved",
		SubscriptionID: snap.TransactionID,
	}
}

// RegisterProvisionalPurchase records a client-reported purchase before its
// webhook arrives. The ledger keeps plan=current and is_payment_verified=false;
// the provisional-purchase finalizer sweep confirms or reverts it.
func (s *Service) RegisterProvisionalPurchase(ctx context.Context, userID uint, provider, productRef, purchaseToken string) error {
	_ = ctx
	token := strings.TrimSpace(purchaseToken)
	if token == "" {
		return errors.New("purchase token is required")
	}

	ledger, err := s.repo.GetOrCreateLedger(userID)
	if err != nil {
		return err
	}
	if ledger.PurchaseToken == token && ledger.IsPaymentVerified {
		return nil
	}

	if ledger.PurchaseToken != "" && ledger.PurchaseToken != token {
		ledger.LastPurchaseToken = ledger.PurchaseToken
	}
	ledger.PurchaseToken = token
	ledger.PlanSource = provider
	ledger.IsPaymentVerified = false
	return s.repo.SaveLedger(ledger)
}

// StartTrial grants the time-boxed trial plan. Trials are not billing-backed
// and never set the verified flag.
func (s *Service) StartTrial(ctx context.Context, userID uint, days int) error {
	_ = ctx
	if days <= 0 {
		return errors.New("trial length must be positive")
	}

	ledger, err := s.repo.GetOrCreateLedger(userID)
	if err != nil {
		return err
	}
	if ledger.IsPaidPlan() {
		return fmt.Errorf("user %d already has a paid plan", userID)
	}

	now := s.now()
	expires := now.AddDate(0, 0, days)
	ledger.Plan = string(entitlements.PlanTrial)
	ledger.BillingCycle = entitlements.CycleUnknown
	ledger.PlanActivatedAt = &now
	ledger.PlanExpiresAt = &expires
	ledger.IsPaymentVerified = false
	ledger.IsCancelled = false
	ledger.IsGrace = false
	ledger.PlanSource = models.PlanSourceManual

	if err := s.repo.SaveLedger(ledger); err != nil {
		return err
	}
	return s.repo.ActivateHistoryEntry(ledger.ID, &models.PlanHistoryEntry{
		Plan:        string(entitlements.PlanTrial),
		PurchasedAt: now,
		ExpiresAt:   &expires,
		Platform:    "internal",
		Source:      models.PlanSourceManual,
	})
}
