package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/eventbus"
	"github.com/atlas-fitness/automations/pkg/otelhelper"
	"github.com/atlas-fitness/automations/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Worker consumes workflow.triggered events off the bus and hands them to
// the coordinator. One worker process can host many concurrent executions;
// the per-workflow slot pool inside the coordinator does the throttling.
type Worker struct {
	coordinator *Coordinator
	bus         eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewWorker(coordinator *Coordinator, bus eventbus.EventBus, logger *slog.Logger) *Worker {
	return &Worker{
		coordinator: coordinator,
		bus:         bus,
		tracer:      noop.NewTracerProvider().Tracer("worker"),
		logger:      logger.With("module", "worker"),
	}
}

// WithTracer enables span emission around each execution.
func (w *Worker) WithTracer(tracer trace.Tracer) *Worker {
	w.tracer = tracer

	return w
}

// Start registers the handler and begins consuming. It returns immediately;
// consumption runs until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	err := w.bus.Handle(events.WorkflowTriggeredEvent, func(ctx context.Context, event any) error {
		triggered, ok := event.(*events.WorkflowTriggered)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		spanCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.execute",
			attribute.String(otelhelper.WorkflowIDKey, triggered.WorkflowID),
			attribute.String(otelhelper.TriggerEventKey, triggered.TriggerEvent.ID),
		)
		defer span.End()

		executionTrace, err := w.coordinator.Execute(spanCtx, triggered.TriggerEvent)
		if errors.Is(err, services.ErrWorkflowInactive) {
			// The workflow was deactivated between dispatch and pickup.
			w.logger.InfoContext(spanCtx, "Dropping trigger for inactive workflow",
				"workflow_id", triggered.WorkflowID)

			return nil
		}

		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, executionTrace.ID))

		return nil
	})
	if err != nil {
		return err
	}

	return w.bus.Subscribe(ctx)
}
