package coordinator

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dispatchd/internal/observability"
)

func SetupRoutes(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, handlers *Handlers, guard *APIKeyGuard) {
	SetupMiddleware(app, logger, metrics, guard)

	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/readyz", handlers.ReadyCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", handlers.CreateJob)
	jobs.Get("/next/:type", handlers.NextJob)
	jobs.Get("/:id", handlers.GetJob)
	jobs.Patch("/:id", handlers.UpdateJobStatus)

	workers := api.Group("/workers")
	workers.Post("/", handlers.CreateWorker)
	workers.Post("/scale", handlers.ScaleWorkers)
	workers.Get("/:id", handlers.GetWorker)
	workers.Patch("/:id", handlers.UpdateWorkerStatus)
	workers.Delete("/:id", handlers.StopWorker)

	api.Get("/stats", handlers.GetStats)
}
