// Package deadletter exposes the operator-facing side of the dead-letter
// store: listing captured payment signals and resolving each one exactly once.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
)

var (
	// ErrAlreadyResolved is returned when a terminal record is resolved again.
	ErrAlreadyResolved = errors.New("dead-letter record is already resolved")
	ErrNotFound        = errors.New("dead-letter record not found")
	ErrUnknownAction   = errors.New("unknown resolution action")
)

// ListFilter narrows a dead-letter listing. Zero values mean "all".
type ListFilter struct {
	Status string
	Source string
	Limit  int
	Offset int
}

// Applier replays a captured plan snapshot onto a corrected account. The
// billing service satisfies this.
type Applier interface {
	ApplySnapshot(ctx context.Context, userID uint, snap billing.PlanSnapshot) error
}

// Store reads and resolves dead-letter records.
type Store struct {
	db      *gorm.DB
	applier Applier
}

func NewStore(db *gorm.DB, applier Applier) *Store {
	return &Store{db: db, applier: applier}
}

func (s *Store) List(filter ListFilter) ([]models.DeadLetterEvent, int64, error) {
	q := s.db.Model(&models.DeadLetterEvent{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []models.DeadLetterEvent
	err := q.Order("created_at desc").Limit(limit).Offset(filter.Offset).Find(&records).Error
	return records, total, err
}

func (s *Store) GetByRequestID(requestID string) (*models.DeadLetterEvent, error) {
	var record models.DeadLetterEvent
	err := s.db.Where("request_id = ?", requestID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Resolution is an operator's decision for one pending record.
type Resolution struct {
	Action     string // apply | ignore | refund
	UserID     uint   // required for apply: the corrected account
	ResolvedBy string
	Notes      string
}

// RefundInfo is handed back on a refund resolution so the caller can issue
// the refund out of band; the engine never moves money itself.
type RefundInfo struct {
	Source         string `json:"source"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	CustomerEmail  string `json:"customer_email"`
	PaymentAmount  int64  `json:"payment_amount"`
}

// Resolve applies exactly one terminal resolution to a pending record.
// "apply" replays the stored plan snapshot onto the given account through the
// normal grant path before the record is marked resolved.
func (s *Store) Resolve(ctx context.Context, requestID string, res Resolution) (*RefundInfo, error) {
	record, err := s.GetByRequestID(requestID)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: status=%s", ErrAlreadyResolved, record.Status)
	}

	var (
		status string
		refund *RefundInfo
	)

	switch strings.ToLower(res.Action) {
	case models.DeadLetterActionApply:
		if res.UserID == 0 {
			return nil, errors.New("apply requires a target user id")
		}
		var snap billing.PlanSnapshot
		if err := json.Unmarshal([]byte(record.PlanDetailsJSON), &snap); err != nil {
			return nil, fmt.Errorf("stored plan snapshot is unreadable: %w", err)
		}
		if err := s.applier.ApplySnapshot(ctx, res.UserID, snap); err != nil {
			return nil, fmt.Errorf("snapshot replay failed: %w", err)
		}
		status = models.DeadLetterStatusResolved

	case models.DeadLetterActionIgnore:
		status = models.DeadLetterStatusIgnored

	case models.DeadLetterActionRefund:
		status = models.DeadLetterStatusRefunded
		refund = &RefundInfo{
			Source:         record.Source,
			SubscriptionID: record.SubscriptionID,
			CustomerID:     record.CustomerID,
			CustomerEmail:  record.CustomerEmail,
			PaymentAmount:  record.PaymentAmount,
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, res.Action)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":           status,
		"resolved_at":      &now,
		"resolved_by":      res.ResolvedBy,
		"resolution_notes": res.Notes,
	}
	// Guard the status column in the WHERE clause so two concurrent operators
	// cannot both win.
	tx := s.db.Model(&models.DeadLetterEvent{}).
		Where("id = ? AND status = ?", record.ID, models.DeadLetterStatusPending).
		Updates(updates)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrAlreadyResolved
	}

	log.Infof("dead-letter %s resolved: action=%s by=%s", requestID, res.Action, res.ResolvedBy)
	return refund, nil
}

// PendingCount reports how many records still await resolution.
func (s *Store) PendingCount() (int64, error) {
	var n int64
	err := s.db.Model(&models.DeadLetterEvent{}).
		Where("status = ?", models.DeadLetterStatusPending).
		Count(&n).Error
	return n, err
}
