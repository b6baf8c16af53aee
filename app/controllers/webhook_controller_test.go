package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
)

type stubVerifier struct {
	result *billing.VerificationResult
}

func (v *stubVerifier) Verify(ctx context.Context, ev billing.NormalizedEvent) *billing.VerificationResult {
	return v.result
}

type noopActivator struct{}

func (noopActivator) ActivateAll(ctx context.Context, userID uint) error { return nil }

func webhookTestApp(t *testing.T, verifier billing.Verifier) (*fiber.App, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.SubscriptionLedger{},
		&models.PlanHistoryEntry{},
		&models.WebhookEvent{},
		&models.DeadLetterEvent{},
		&models.ProductPlanMapping{},
	))

	service := billing.NewServiceFromDB(db, verifier, noopActivator{})
	wc := NewWebhookController(service)

	app := fiber.New()
	app.Post("/webhooks/play", wc.HandlePlayWebhook)
	app.Post("/webhooks/razorpay", wc.HandleRazorpayWebhook)
	return app, db
}

func signRazorpay(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
	app, db := webhookTestApp(t, &stubVerifier{})

	body := []byte(`{"event":"subscription.charged"}`)
	req := httptest.NewRequest("POST", "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", "deadbeef")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// A rejected request must leave no trace in the event store.
	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRazorpayWebhookAppliesVerifiedRenewal(t *testing.T) {
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
	expires := time.Now().AddDate(0, 1, 0)
	verifier := &stubVerifier{result: &billing.VerificationResult{
		Success:        true,
		Plan:           "starter",
		BillingCycle:   "monthly",
		ExpiresAt:      &expires,
		RawState:       "active",
		SubscriptionID: "sub_1",
	}}
	app, db := webhookTestApp(t, verifier)

	require.NoError(t, db.Create(&models.SubscriptionLedger{
		UserID:        42,
		Plan:          "free",
		PurchaseToken: "sub_1",
	}).Error)

	body := []byte(`{
		"event": "subscription.charged",
		"created_at": 1724800000,
		"payload": {
			"subscription": {"entity": {"id": "sub_1", "plan_id": "plan_starter_monthly", "status": "active", "notes": {"user_id": "42"}}},
			"payment": {"entity": {"id": "pay_1", "amount": 49900, "email": "worker@example.com"}}
		}
	}`)
	req := httptest.NewRequest("POST", "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", signRazorpay(body, "whsec"))
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var ledger models.SubscriptionLedger
	require.NoError(t, db.Where("user_id = ?", 42).First(&ledger).Error)
	assert.Equal(t, "starter", ledger.Plan)
	assert.True(t, ledger.IsPaymentVerified)
	assert.Equal(t, "sub_1", ledger.GatewaySubscriptionID)

	// Redelivery of the same event id is a no-op duplicate.
	req = httptest.NewRequest("POST", "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", signRazorpay(body, "whsec"))
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestRazorpayWebhookDeadLettersOrphanPayment(t *testing.T) {
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
	app, db := webhookTestApp(t, &stubVerifier{})

	body := []byte(`{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {"id": "sub_unknown", "status": "active", "notes": {"user_id": "9999"}}},
			"payment": {"entity": {"id": "pay_9", "amount": 49900, "email": "lost@example.com"}}
		}
	}`)
	req := httptest.NewRequest("POST", "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", signRazorpay(body, "whsec"))
	req.Header.Set("X-Razorpay-Event-Id", "evt_9")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "captured events are acknowledged")

	var dl models.DeadLetterEvent
	require.NoError(t, db.First(&dl).Error)
	assert.Equal(t, models.DeadLetterStatusPending, dl.Status)
	assert.Equal(t, "9999", dl.AttemptedUserID)
	assert.JSONEq(t, string(body), dl.RawPayload)
}

func TestPlayWebhookRejectsUnauthenticatedPush(t *testing.T) {
	// No PLAY_PUSH_AUDIENCE configured: the endpoint fails closed.
	app, db := webhookTestApp(t, &stubVerifier{})

	req := httptest.NewRequest("POST", "/webhooks/play", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer some-token")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}
