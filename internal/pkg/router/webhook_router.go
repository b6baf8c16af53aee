package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workpulse-hq/workpulse/app/controllers"
)

// WebhookRouter installs the provider-facing endpoints. They are public by
// necessity; each handler authenticates its own rail (OIDC push token /
// HMAC signature) before anything else runs.
type WebhookRouter struct {
	webhooks *controllers.WebhookController
}

func NewWebhookRouter(webhooks *controllers.WebhookController) *WebhookRouter {
	return &WebhookRouter{webhooks: webhooks}
}

func (r *WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks")
	hooks.Post("/play", r.webhooks.HandlePlayWebhook)
	hooks.Post("/razorpay", r.webhooks.HandleRazorpayWebhook)
}
