package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/workpulse-hq/workpulse/app/controllers"
	"github.com/workpulse-hq/workpulse/internal/pkg/billing"
	"github.com/workpulse-hq/workpulse/internal/pkg/cache"
	"github.com/workpulse-hq/workpulse/internal/pkg/database"
	"github.com/workpulse-hq/workpulse/internal/pkg/deadletter"
	"github.com/workpulse-hq/workpulse/internal/pkg/env"
	"github.com/workpulse-hq/workpulse/internal/pkg/provisioning"
	"github.com/workpulse-hq/workpulse/internal/pkg/router"
	"github.com/workpulse-hq/workpulse/internal/pkg/scheduler"
)

func main() {
	app, sched := NewApplication()

	sched.Start()
	defer sched.Stop()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down")
		_ = app.ShutdownWithTimeout(30 * time.Second)
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repo := billing.NewRepository(db)
	mapper := billing.NewPlanMapper(repo)
	activator := provisioning.NewActivator(db)

	multi := &billing.MultiVerifier{
		Razorpay: billing.NewRazorpayClientFromEnv(mapper),
	}
	playVerifier, err := billing.NewPlayVerifierFromEnv(context.Background(), mapper)
	if err != nil {
		// Razorpay-only deployments are valid; Play events then fail closed
		// into dead-letters instead of being mis-applied.
		log.Printf("play verifier disabled: %v", err)
	} else {
		multi.Play = playVerifier
	}

	service := billing.NewService(repo, billing.NewCachedVerifier(multi, 2*time.Minute), activator)
	store := deadletter.NewStore(db, service)

	sched := scheduler.New()
	registerSweeps(sched, service)

	app := fiber.New(fiber.Config{
		AppName:   "workpulse",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "changeme"),
		},
	}), monitor.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	router.InstallRouter(app, router.Deps{
		Webhooks: controllers.NewWebhookController(service),
		API:      controllers.NewApiBillingController(service, repo),
		Admin:    controllers.NewAdminBillingController(store, service, sched),
	})

	return app, sched
}

// registerSweeps wires the reconciliation sweeps. Schedules stagger so the
// verifier-heavy sweeps never start together.
func registerSweeps(sched *scheduler.Scheduler, service *billing.Service) {
	ctx := context.Background()
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (billing.SweepReport, error)
	}{
		{"expired-cancelled", env.GetEnv("SWEEP_EXPIRED_CANCELLED_CRON", "10 * * * *"), service.RunExpiredCancelledSweep},
		{"grace-expired", env.GetEnv("SWEEP_GRACE_EXPIRED_CRON", "25 * * * *"), service.RunGraceExpiredSweep},
		{"trial-expired", env.GetEnv("SWEEP_TRIAL_EXPIRED_CRON", "40 * * * *"), service.RunTrialExpiredSweep},
		{"provisional-purchase", env.GetEnv("SWEEP_PROVISIONAL_CRON", "55 */6 * * *"), service.RunProvisionalPurchaseSweep},
	}

	for _, job := range jobs {
		run := job.run
		if err := sched.Register(job.name, job.spec, func() {
			if _, err := run(ctx); err != nil {
				log.Printf("sweep failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("sweep registration failed: %v", err)
		}
	}
}
