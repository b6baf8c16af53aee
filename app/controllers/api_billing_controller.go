package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
	"github.com/workpulse-hq/workpulse/internal/pkg/middleware"
)

const defaultTrialDays = 14

// ApiBillingController is the authenticated user surface of the billing
// engine: read your own ledger, report a purchase, start a trial.
type ApiBillingController struct {
	service  *billing.Service
	repo     billing.Repository
	validate *validator.Validate
}

func NewApiBillingController(service *billing.Service, repo billing.Repository) *ApiBillingController {
	return &ApiBillingController{
		service:  service,
		repo:     repo,
		validate: validator.New(),
	}
}

type subscriptionResponse struct {
	Plan              string  `json:"plan"`
	BillingCycle      string  `json:"billing_cycle"`
	PlanExpiresAt     *string `json:"plan_expires_at,omitempty"`
	IsPaymentVerified bool    `json:"is_payment_verified"`
	IsCancelled       bool    `json:"is_cancelled"`
	IsGrace           bool    `json:"is_grace"`
	PlanSource        string  `json:"plan_source,omitempty"`
}

// GetSubscription returns the caller's current ledger state. Users without a
// ledger row read as free.
func (bc *ApiBillingController) GetSubscription(c *fiber.Ctx) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ledger, err := bc.repo.GetLedgerByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(subscriptionResponse{Plan: "free"})
	}
	if err != nil {
		log.Errorf("ledger read failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	resp := subscriptionResponse{
		Plan:              ledger.Plan,
		BillingCycle:      ledger.BillingCycle,
		IsPaymentVerified: ledger.IsPaymentVerified,
		IsCancelled:       ledger.IsCancelled,
		IsGrace:           ledger.IsGrace,
		PlanSource:        ledger.PlanSource,
	}
	if ledger.PlanExpiresAt != nil {
		s := ledger.PlanExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.PlanExpiresAt = &s
	}
	return c.JSON(resp)
}

type reportPurchaseRequest struct {
	Provider      string `json:"provider" validate:"required,oneof=play razorpay"`
	ProductRef    string `json:"product_ref" validate:"required,max=191"`
	PurchaseToken string `json:"purchase_token" validate:"required,max=512"`
}

// ReportPurchase records a client-reported purchase ahead of its webhook.
// Nothing is granted here; the confirming webhook or the provisional-purchase
// sweep settles it.
func (bc *ApiBillingController) ReportPurchase(c *fiber.Ctx) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req reportPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := bc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := bc.service.RegisterProvisionalPurchase(c.Context(), userID, req.Provider, req.ProductRef, req.PurchaseToken); err != nil {
		log.Errorf("provisional purchase registration failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "recorded"})
}

// StartTrial grants the trial plan to accounts that never held a paid plan.
func (bc *ApiBillingController) StartTrial(c *fiber.Ctx) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	if err := bc.service.StartTrial(c.Context(), userID, defaultTrialDays); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "trial_unavailable", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "trial_started", "days": defaultTrialDays})
}

// PlanHistory lists the caller's plan history, newest first.
func (bc *ApiBillingController) PlanHistory(c *fiber.Ctx) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ledger, err := bc.repo.GetLedgerByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(fiber.Map{"history": []models.PlanHistoryEntry{}})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	history, err := bc.repo.ListHistory(ledger.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"history": history})
}
