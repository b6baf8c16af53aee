package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/workpulse-hq/workpulse/app/models"
)

// Repository provides the DB operations used by the billing service and the
// reconciliation sweeps.
type Repository interface {
	GetLedgerByUserID(userID uint) (*models.SubscriptionLedger, error)
	GetOrCreateLedger(userID uint) (*models.SubscriptionLedger, error)
	FindLedgerByToken(token string) (*models.SubscriptionLedger, error)
	FindLedgerByHistoryTransactionID(transactionID string) (*models.SubscriptionLedger, error)
	SaveLedger(ledger *models.SubscriptionLedger) error
	ActivateHistoryEntry(ledgerID uint, entry *models.PlanHistoryEntry) error
	DeactivateHistory(ledgerID uint) error
	ListHistory(ledgerID uint) ([]models.PlanHistoryEntry, error)

	MapProduct(provider, productRef string) (*models.ProductPlanMapping, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	GetWebhookEvent(id uint) (*models.WebhookEvent, error)
	ListFailedWebhookEvents(limit, offset int) ([]models.WebhookEvent, int64, error)

	CreateDeadLetter(record *models.DeadLetterEvent) error

	FindExpiredCancelled(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error)
	FindGraceExpired(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error)
	FindTrialExpired(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error)
	FindUnverifiedWithToken(cutoff time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetLedgerByUserID(userID uint) (*models.SubscriptionLedger, error) {
	var ledger models.SubscriptionLedger
	err := r.db.
		Preload("History", "is_active = ?", true).
		Where("user_id = ?", userID).
		First(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *gormRepository) GetOrCreateLedger(userID uint) (*models.SubscriptionLedger, error) {
	ledger, err := r.GetLedgerByUserID(userID)
	if err == nil {
		return ledger, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	created := &models.SubscriptionLedger{UserID: userID, Plan: "free"}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(created).Error; err != nil {
		return nil, err
	}
	return r.GetLedgerByUserID(userID)
}

func (r *gormRepository) FindLedgerByToken(token string) (*models.SubscriptionLedger, error) {
	var ledger models.SubscriptionLedger

	// Current token first, previous token second: lookup continuity across
	// renewals where the provider rotated the token.
	err := r.db.Preload("History", "is_active = ?", true).
		Where("purchase_token = ?", token).
		First(&ledger).Error
	if err == nil {
		return &ledger, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	err = r.db.Preload("History", "is_active = ?", true).
		Where("last_purchase_token = ?", token).
		First(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *gormRepository) FindLedgerByHistoryTransactionID(transactionID string) (*models.SubscriptionLedger, error) {
	var entry models.PlanHistoryEntry
	if err := r.db.Where("transaction_id = ?", transactionID).
		Order("created_at desc").
		First(&entry).Error; err != nil {
		return nil, err
	}

	var ledger models.SubscriptionLedger
	if err := r.db.Preload("History", "is_active = ?", true).
		First(&ledger, entry.LedgerID).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *gormRepository) SaveLedger(ledger *models.SubscriptionLedger) error {
	return r.db.Omit("History").Save(ledger).Error
}

// ActivateHistoryEntry appends a history entry and flips all others inactive
// in one transaction, preserving the at-most-one-active invariant.
func (r *gormRepository) ActivateHistoryEntry(ledgerID uint, entry *models.PlanHistoryEntry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PlanHistoryEntry{}).
			Where("ledger_id = ? AND is_active = ?", ledgerID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		entry.LedgerID = ledgerID
		entry.IsActive = true
		return tx.Create(entry).Error
	})
}

func (r *gormRepository) DeactivateHistory(ledgerID uint) error {
	return r.db.Model(&models.PlanHistoryEntry{}).
		Where("ledger_id = ? AND is_active = ?", ledgerID, true).
		Update("is_active", false).Error
}

func (r *gormRepository) ListHistory(ledgerID uint) ([]models.PlanHistoryEntry, error) {
	var entries []models.PlanHistoryEntry
	err := r.db.Where("ledger_id = ?", ledgerID).
		Order("created_at desc").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) MapProduct(provider, productRef string) (*models.ProductPlanMapping, error) {
	var m models.ProductPlanMapping
	err := r.db.
		Where("provider = ? AND product_ref = ? AND is_active = ?", provider, productRef, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) ListFailedWebhookEvents(limit, offset int) ([]models.WebhookEvent, int64, error) {
	q := r.db.Model(&models.WebhookEvent{}).Where("processing_error <> ''")

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []models.WebhookEvent
	err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&events).Error
	return events, total, err
}

func (r *gormRepository) CreateDeadLetter(record *models.DeadLetterEvent) error {
	return r.db.Create(record).Error
}

func (r *gormRepository) FindExpiredCancelled(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error) {
	var ledgers []models.SubscriptionLedger
	err := r.db.Preload("History", "is_active = ?", true).
		Where("id > ? AND is_cancelled = ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?", afterID, true, now).
		Order("id asc").Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

func (r *gormRepository) FindGraceExpired(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error) {
	var ledgers []models.SubscriptionLedger
	err := r.db.Preload("History", "is_active = ?", true).
		Where("id > ? AND is_grace = ? AND grace_expires_at IS NOT NULL AND grace_expires_at < ?", afterID, true, now).
		Order("id asc").Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

func (r *gormRepository) FindTrialExpired(now time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error) {
	var ledgers []models.SubscriptionLedger
	err := r.db.Preload("History", "is_active = ?", true).
		Where("id > ? AND plan = ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?", afterID, "trial", now).
		Order("id asc").Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

func (r *gormRepository) FindUnverifiedWithToken(cutoff time.Time, limit int, afterID uint) ([]models.SubscriptionLedger, error) {
	var ledgers []models.SubscriptionLedger
	err := r.db.Preload("History", "is_active = ?", true).
		Where("id > ? AND is_payment_verified = ? AND purchase_token <> '' AND updated_at < ?", afterID, false, cutoff).
		Order("id asc").Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

// gormPlanMapper adapts the repository mapping table to the PlanMapper
// interface used by the verifiers.
type gormPlanMapper struct {
	repo Repository
}

func NewPlanMapper(repo Repository) PlanMapper {
	return &gormPlanMapper{repo: repo}
}

func (m *gormPlanMapper) MapProduct(provider, productRef string) (string, string, bool) {
	mapping, err := m.repo.MapProduct(provider, productRef)
	if err != nil {
		return "", "", false
	}
	return mapping.Plan, mapping.BillingCycle, true
}
