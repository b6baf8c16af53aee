package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
	"github.com/workpulse-hq/workpulse/internal/pkg/deadletter"
	"github.com/workpulse-hq/workpulse/internal/pkg/scheduler"
)

// AdminBillingController exposes the operator surface: dead-letter triage,
// failed webhook-event replay, and sweep control. All routes sit behind the
// admin key middleware.
type AdminBillingController struct {
	store     *deadletter.Store
	service   *billing.Service
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
}

func NewAdminBillingController(store *deadletter.Store, service *billing.Service, sched *scheduler.Scheduler) *AdminBillingController {
	return &AdminBillingController{
		store:     store,
		service:   service,
		scheduler: sched,
		validate:  validator.New(),
	}
}

// ListDeadLetters returns dead-letter records, newest first, optionally
// filtered by status and source.
func (ac *AdminBillingController) ListDeadLetters(c *fiber.Ctx) error {
	filter := deadletter.ListFilter{
		Status: c.Query("status"),
		Source: c.Query("source"),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}

	records, total, err := ac.store.List(filter)
	if err != nil {
		log.Errorf("dead-letter listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{
		"total":   total,
		"records": records,
	})
}

type resolveDeadLetterRequest struct {
	Action     string `json:"action" validate:"required,oneof=apply ignore refund"`
	UserID     uint   `json:"user_id" validate:"required_if=Action apply"`
	ResolvedBy string `json:"resolved_by" validate:"required,max=150"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// ResolveDeadLetter applies one operator resolution to a pending record.
func (ac *AdminBillingController) ResolveDeadLetter(c *fiber.Ctx) error {
	requestID := c.Params("requestID")

	var req resolveDeadLetterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	refund, err := ac.store.Resolve(c.Context(), requestID, deadletter.Resolution{
		Action:     req.Action,
		UserID:     req.UserID,
		ResolvedBy: req.ResolvedBy,
		Notes:      req.Notes,
	})
	switch {
	case errors.Is(err, deadletter.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.Is(err, deadletter.ErrAlreadyResolved):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_resolved", "message": err.Error()})
	case errors.Is(err, deadletter.ErrUnknownAction):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_action"})
	case err != nil:
		log.Errorf("dead-letter resolution failed for %s: %v", requestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}

	resp := fiber.Map{"status": "resolved", "action": req.Action}
	if refund != nil {
		resp["refund"] = refund
	}
	return c.JSON(resp)
}

// ListFailedWebhookEvents returns captured events whose processing failed
// after capture. Deduplication swallows the provider's redelivery for these,
// so this listing plus replay is the retry path.
func (ac *AdminBillingController) ListFailedWebhookEvents(c *fiber.Ctx) error {
	events, total, err := ac.service.ListFailedWebhookEvents(c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		log.Errorf("failed webhook-event listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{
		"total":  total,
		"events": events,
	})
}

// ReplayWebhookEvent re-runs one captured event from its stored payload.
func (ac *AdminBillingController) ReplayWebhookEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_event_id"})
	}

	result, err := ac.service.ReplayWebhookEvent(c.Context(), uint(id))
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case err != nil:
		log.Errorf("webhook-event replay failed for %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "replay_failed", "message": err.Error()})
	}
	return c.JSON(result)
}

// SchedulerStatus reports every registered job with its previous and next run.
func (ac *AdminBillingController) SchedulerStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"jobs": ac.scheduler.Status()})
}

// TriggerSweep runs a registered sweep immediately, off-schedule.
func (ac *AdminBillingController) TriggerSweep(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := ac.scheduler.RunNow(name); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_job", "message": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "triggered", "job": name})
}
