package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivio/flowd/pkg/cmd"
	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/forms"
	"github.com/nivio/flowd/pkg/log"
	"github.com/nivio/flowd/pkg/notify"
	"github.com/nivio/flowd/pkg/otelhelper"
	"github.com/nivio/flowd/pkg/tasks"
	"github.com/nivio/flowd/pkg/timers"
	"github.com/nivio/flowd/pkg/web"
)

func serve(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("flowd")

	logger.InfoContext(ctx, "Initializing flowd")

	var tracer trace.Tracer

	if command.Bool("tracing") {
		var err error

		tracer, err = otelhelper.NewTracer(ctx, "flowd")
		if err != nil {
			return err
		}
	}

	persistence, err := cmd.NewPersistence(command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if err := subscribeAuditLog(ctx, eventBus, logger); err != nil {
		return err
	}

	notifyService := notify.NewService(persistence, eventBus, notify.NewHub(logger), logger)
	eng := engine.New(persistence, eventBus, notifyService, logger)
	taskService := tasks.NewService(persistence, eng, eventBus, notifyService, logger)
	formService := forms.NewService(persistence, notifyService, logger)

	sweeper := timers.NewSweeper(eng, formService, persistence, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	defer sweeper.Stop()

	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := web.NewAPIHandlers(persistence, eng, taskService, formService, notifyService, validate, logger)
	app := web.NewApp(handlers, tracer)

	port := command.Int("port")
	logger.InfoContext(ctx, "Starting API server", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}

// subscribeAuditLog consumes every domain event from the bus and writes a
// structured audit line. It keeps the durable pipe exercised even when no
// external consumer is attached.
func subscribeAuditLog(ctx context.Context, bus eventbus.EventBus, logger *slog.Logger) error {
	auditTypes := []events.EventType{
		events.WorkflowStartedEvent,
		events.WorkflowNodeStartedEvent,
		events.WorkflowNodeCompletedEvent,
		events.WorkflowCompletedEvent,
		events.WorkflowFailedEvent,
		events.WorkflowCancelledEvent,
		events.TaskCreatedEvent,
		events.TaskCompletedEvent,
		events.TaskReassignedEvent,
		events.NotificationCreatedEvent,
	}

	for _, eventType := range auditTypes {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			logger.InfoContext(ctx, "Domain event", "type", eventType, "event", event)

			return nil
		})
		if err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}
