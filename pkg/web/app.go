package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivio/flowd/pkg/otelhelper"
)

// NewApp builds the fiber application with all routes registered. The
// tracer is optional; when nil no spans are recorded.
func NewApp(handlers *APIHandlers, tracer trace.Tracer) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	if tracer != nil {
		app.Use(tracingMiddleware(tracer))
	}

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", handlers.HealthCheck)

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowd")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetDefinitions)
	w.Post("/", handlers.CreateDefinition)
	w.Get("/:id", handlers.GetDefinition)
	w.Patch("/:id", handlers.UpdateDefinition)
	w.Delete("/:id", handlers.DeleteDefinition)
	w.Post("/:id/activate", handlers.ActivateDefinition)
	w.Post("/:id/deactivate", handlers.DeactivateDefinition)
	w.Post("/:id/start", handlers.StartInstance)

	i := app.Group("/instances")
	i.Get("/", handlers.ListInstances)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)
	i.Get("/:id/history", handlers.GetInstanceHistory)
	i.Post("/:id/subscribe", handlers.Subscribe)
	i.Delete("/:id/subscribe", handlers.Unsubscribe)

	t := app.Group("/tasks")
	t.Get("/", handlers.ListTasks)
	t.Get("/stats", handlers.TaskStats)
	t.Get("/:id", handlers.GetTask)
	t.Post("/:id/complete", handlers.CompleteTask)
	t.Post("/:id/reassign", handlers.ReassignTask)
	t.Post("/:id/form/lock", handlers.LockForm)
	t.Post("/:id/form/unlock", handlers.UnlockForm)
	t.Get("/:id/form/can-edit", handlers.CanEditForm)
	t.Get("/:id/form/fields", handlers.EditableFields)
	t.Put("/:id/form/draft", handlers.SaveDraft)
	t.Post("/:id/form/submit", handlers.SubmitForm)

	n := app.Group("/notifications")
	n.Get("/", handlers.ListNotifications)
	n.Post("/:id/read", handlers.MarkNotificationRead)
	n.Delete("/:id", handlers.DeleteNotification)

	app.Get("/events/stream", handlers.EventStream)

	return app
}

func tracingMiddleware(tracer trace.Tracer) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx, span := otelhelper.StartSpan(c.Context(), tracer, c.Method()+" "+c.Path(),
			attribute.String("http.method", c.Method()),
			attribute.String("http.route", c.Path()),
		)
		defer span.End()

		c.SetContext(ctx)

		err := c.Next()
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return err
	}
}
