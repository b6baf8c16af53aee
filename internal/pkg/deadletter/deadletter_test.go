package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
)

type fakeApplier struct {
	userID uint
	snap   billing.PlanSnapshot
	calls  int
}

func (a *fakeApplier) ApplySnapshot(ctx context.Context, userID uint, snap billing.PlanSnapshot) error {
	a.calls++
	a.userID = userID
	a.snap = snap
	return nil
}

func testStore(t *testing.T) (*Store, *fakeApplier, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DeadLetterEvent{}))

	applier := &fakeApplier{}
	return NewStore(db, applier), applier, db
}

func pendingRecord(t *testing.T, db *gorm.DB, requestID string) *models.DeadLetterEvent {
	t.Helper()
	snap, _ := json.Marshal(billing.PlanSnapshot{
		Plan:          "starter",
		BillingCycle:  "monthly",
		TransactionID: "pay_1",
		Source:        models.PlanSourceRazorpay,
	})
	record := &models.DeadLetterEvent{
		RequestID:       requestID,
		Source:          models.PlanSourceRazorpay,
		Event:           "subscription.charged",
		FailureReason:   "no ledger matched embedded account id 9999",
		AttemptedUserID: "9999",
		SubscriptionID:  "sub_1",
		CustomerID:      "cust_1",
		PlanDetailsJSON: string(snap),
		CustomerEmail:   "lost@example.com",
		PaymentAmount:   49900,
		RawPayload:      `{"event":"subscription.charged"}`,
		Status:          models.DeadLetterStatusPending,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func TestResolveApplyReplaysSnapshot(t *testing.T) {
	store, applier, db := testStore(t)
	pendingRecord(t, db, "req-1")

	refund, err := store.Resolve(context.Background(), "req-1", Resolution{
		Action:     models.DeadLetterActionApply,
		UserID:     42,
		ResolvedBy: "ops@workpulse",
		Notes:      "customer confirmed account",
	})
	require.NoError(t, err)
	assert.Nil(t, refund)

	assert.Equal(t, 1, applier.calls)
	assert.Equal(t, uint(42), applier.userID)
	assert.Equal(t, "starter", applier.snap.Plan)
	assert.Equal(t, "pay_1", applier.snap.TransactionID)

	stored, err := store.GetByRequestID("req-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusResolved, stored.Status)
	assert.Equal(t, "ops@workpulse", stored.ResolvedBy)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestResolveApplyRequiresUserID(t *testing.T) {
	store, applier, db := testStore(t)
	pendingRecord(t, db, "req-2")

	_, err := store.Resolve(context.Background(), "req-2", Resolution{
		Action:     models.DeadLetterActionApply,
		ResolvedBy: "ops",
	})
	require.Error(t, err)
	assert.Zero(t, applier.calls)

	stored, _ := store.GetByRequestID("req-2")
	assert.Equal(t, models.DeadLetterStatusPending, stored.Status)
}

func TestResolveRefundReturnsRefundInfo(t *testing.T) {
	store, _, db := testStore(t)
	pendingRecord(t, db, "req-3")

	refund, err := store.Resolve(context.Background(), "req-3", Resolution{
		Action:     models.DeadLetterActionRefund,
		ResolvedBy: "ops",
	})
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, "sub_1", refund.SubscriptionID)
	assert.Equal(t, int64(49900), refund.PaymentAmount)
	assert.Equal(t, "lost@example.com", refund.CustomerEmail)

	stored, _ := store.GetByRequestID("req-3")
	assert.Equal(t, models.DeadLetterStatusRefunded, stored.Status)
}

func TestResolveExactlyOnce(t *testing.T) {
	store, _, db := testStore(t)
	pendingRecord(t, db, "req-4")

	_, err := store.Resolve(context.Background(), "req-4", Resolution{
		Action:     models.DeadLetterActionIgnore,
		ResolvedBy: "ops",
	})
	require.NoError(t, err)

	// Every further resolution attempt is rejected regardless of action.
	for _, action := range []string{models.DeadLetterActionApply, models.DeadLetterActionIgnore, models.DeadLetterActionRefund} {
		_, err := store.Resolve(context.Background(), "req-4", Resolution{
			Action:     action,
			UserID:     42,
			ResolvedBy: "ops",
		})
		assert.ErrorIs(t, err, ErrAlreadyResolved, "action %s", action)
	}

	stored, _ := store.GetByRequestID("req-4")
	assert.Equal(t, models.DeadLetterStatusIgnored, stored.Status)
}

func TestResolveUnknownActionAndMissingRecord(t *testing.T) {
	store, _, db := testStore(t)
	pendingRecord(t, db, "req-5")

	_, err := store.Resolve(context.Background(), "req-5", Resolution{Action: "retry", ResolvedBy: "ops"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = store.Resolve(context.Background(), "req-missing", Resolution{Action: "ignore", ResolvedBy: "ops"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	store, _, db := testStore(t)
	pendingRecord(t, db, "req-a")
	pendingRecord(t, db, "req-b")
	resolved := pendingRecord(t, db, "req-c")
	require.NoError(t, db.Model(resolved).Updates(map[string]interface{}{
		"status":      models.DeadLetterStatusResolved,
		"resolved_at": time.Now(),
	}).Error)

	records, total, err := store.List(ListFilter{Status: models.DeadLetterStatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, records, 2)

	records, total, err = store.List(ListFilter{Source: models.PlanSourceRazorpay})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, records, 3)

	records, total, err = store.List(ListFilter{Source: models.PlanSourcePlay})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, records)

	n, err := store.PendingCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
