// Package provisioning re-enables a user's dependent resources after a paid
// entitlement is (re)granted. Downgrades are handled by consumers reading the
// ledger directly; nothing here ever suspends.
package provisioning

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/cache"
)

// Activator lifts suspensions on the user's workspaces and drops any cached
// plan snapshot so the next read sees the new entitlement.
type Activator struct {
	db *gorm.DB
}

func NewActivator(db *gorm.DB) *Activator {
	return &Activator{db: db}
}

func (a *Activator) ActivateAll(ctx context.Context, userID uint) error {
	tx := a.db.WithContext(ctx).
		Model(&models.Workspace{}).
		Where("user_id = ? AND is_suspended = ?", userID, true).
		Update("is_suspended", false)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		log.Infof("reactivated %d workspace(s) for user %d", tx.RowsAffected, userID)
	}

	if err := cache.Delete(planCacheKey(userID)); err != nil {
		log.Debugf("plan cache invalidation failed for user %d: %v", userID, err)
	}
	return nil
}

func planCacheKey(userID uint) string {
	return "billing:plan:" + strconv.FormatUint(uint64(userID), 10)
}
