package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/workpulse-hq/workpulse/app/controllers"
	"github.com/workpulse-hq/workpulse/internal/pkg/middleware"
)

// ApiRouter installs the authenticated user API.
type ApiRouter struct {
	api *controllers.ApiBillingController
}

func NewApiRouter(api *controllers.ApiBillingController) *ApiRouter {
	return &ApiRouter{api: api}
}

func (r *ApiRouter) InstallRouter(app *fiber.App) {
	group := app.Group("/api", limiter.New())

	v1 := group.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Get("/subscription", r.api.GetSubscription)
	v1.Get("/subscription/history", r.api.PlanHistory)
	v1.Post("/subscription/purchase", r.api.ReportPurchase)
	v1.Post("/subscription/trial", r.api.StartTrial)
}
