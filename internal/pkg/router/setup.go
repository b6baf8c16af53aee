package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workpulse-hq/workpulse/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the constructed controllers into route installation.
type Deps struct {
	Webhooks *controllers.WebhookController
	API      *controllers.ApiBillingController
	Admin    *controllers.AdminBillingController
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app,
		NewWebhookRouter(deps.Webhooks),
		NewApiRouter(deps.API),
		NewAdminRouter(deps.Admin),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
