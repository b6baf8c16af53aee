package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workpulse-hq/workpulse/app/controllers"
	"github.com/workpulse-hq/workpulse/internal/pkg/middleware"
)

// AdminRouter installs the operator surface behind the admin key.
type AdminRouter struct {
	admin *controllers.AdminBillingController
}

func NewAdminRouter(admin *controllers.AdminBillingController) *AdminRouter {
	return &AdminRouter{admin: admin}
}

func (r *AdminRouter) InstallRouter(app *fiber.App) {
	group := app.Group("/admin/billing", middleware.AdminKeyMiddleware())

	group.Get("/dead-letters", r.admin.ListDeadLetters)
	group.Post("/dead-letters/:requestID/resolve", r.admin.ResolveDeadLetter)
	group.Get("/webhook-events/failed", r.admin.ListFailedWebhookEvents)
	group.Post("/webhook-events/:id/replay", r.admin.ReplayWebhookEvent)
	group.Get("/scheduler", r.admin.SchedulerStatus)
	group.Post("/scheduler/:name/run", r.admin.TriggerSweep)
}
