package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
	"github.com/workpulse-hq/workpulse/internal/pkg/env"
)

// WebhookController terminates the two payment rails. Authenticity is checked
// before anything else on both; after an event is captured the response is
// 2xx even when downstream handling dead-letters it, so providers do not
// redeliver what we already hold.
type WebhookController struct {
	service        *billing.Service
	pushValidator  *billing.PushTokenValidator
	razorpaySecret string
}

func NewWebhookController(service *billing.Service) *WebhookController {
	return &WebhookController{
		service:        service,
		pushValidator:  billing.NewPushTokenValidator(env.GetEnv("PLAY_PUSH_AUDIENCE", "")),
		razorpaySecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
	}
}

// HandlePlayWebhook receives Play RTDN messages pushed by Pub/Sub. A non-2xx
// response triggers Pub/Sub redelivery, so only authentication failures and
// internal errors reject; malformed payloads are acknowledged and logged
// because redelivery cannot fix them.
func (wc *WebhookController) HandlePlayWebhook(c *fiber.Ctx) error {
	if err := wc.pushValidator.VerifyAuthorizationHeader(c.Context(), c.Get(fiber.HeaderAuthorization)); err != nil {
		log.Warnf("play push rejected: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	body := append([]byte(nil), c.BodyRaw()...)
	ev, err := billing.ParsePlayPushEvent(body)
	if err != nil {
		if errors.Is(err, billing.ErrPlayTestNotification) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		log.Warnf("play push unparseable, acknowledged: %v", err)
		return c.SendStatus(fiber.StatusNoContent)
	}

	result, err := wc.service.ProcessEvent(c.Context(), *ev)
	if err != nil {
		log.Errorf("play event %s processing failed: %v", ev.EventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleRazorpayWebhook receives gateway subscription webhooks. The HMAC is
// computed over the exact body bytes; the raw copy is taken before anything
// can touch the request.
func (wc *WebhookController) HandleRazorpayWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.BodyRaw()...)

	if !billing.VerifyRazorpayWebhookSignature(body, c.Get("X-Razorpay-Signature"), wc.razorpaySecret) {
		log.Warn("razorpay webhook rejected: signature mismatch")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := billing.ParseRazorpayEvent(body, c.Get("X-Razorpay-Event-Id"))
	if err != nil {
		log.Warnf("razorpay webhook unparseable: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	result, err := wc.service.ProcessEvent(c.Context(), *ev)
	if err != nil {
		log.Errorf("razorpay event %s processing failed: %v", ev.EventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
