// Package scheduler fires schedule triggers. It polls the schedule table,
// advances each due entry's watermark and dispatches a synthetic trigger
// event. Advancing before dispatching keeps a crash from double-firing an
// instant; instants missed during downtime are not backfilled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlas-fitness/automations/pkg/events"
	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/google/uuid"
)

// DefaultTickInterval is how often due schedules are checked. Cron has minute
// resolution, so one check per minute is enough.
const DefaultTickInterval = time.Minute

type Scheduler struct {
	persistence  persistence.Persistence
	dispatcher   protocol.Dispatcher
	logger       *slog.Logger
	tickInterval time.Duration
	now          func() time.Time
}

func NewScheduler(p persistence.Persistence, dispatcher protocol.Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence:  p,
		dispatcher:   dispatcher,
		logger:       logger.With("module", "scheduler"),
		tickInterval: DefaultTickInterval,
		now:          time.Now,
	}
}

// Start runs the polling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting schedule poller", "interval", s.tickInterval.String())

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Stopping schedule poller")

			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Schedule tick failed", "error", err)
			}
		}
	}
}

// Tick fires every due schedule once. Exported so a single-binary deployment
// or a test can drive the poller without the ticker loop.
func (s *Scheduler) Tick(ctx context.Context) error {
	schedules, err := s.persistence.ScheduleRepository().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	now := s.now().UTC()

	for _, schedule := range schedules {
		if !schedule.IsDue(now) {
			continue
		}

		if err := s.fire(ctx, schedule, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule",
				"schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID, "error", err)
		}
	}

	return nil
}

// fire advances the watermark, persists it, then dispatches. The order
// matters: if the dispatch is lost the instant is skipped, never replayed.
func (s *Scheduler) fire(ctx context.Context, schedule *models.Schedule, now time.Time) error {
	firedAt := schedule.NextDueAt

	if err := schedule.Advance(now); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if err := s.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}

	event := events.NewTriggerEvent(
		schedule.WorkflowID,
		schedule.TriggerNodeID,
		models.TriggerTypeSchedule,
		events.TriggerSourceSchedule,
		map[string]any{
			"schedule_id": schedule.ID,
			"fired_at":    firedAt.Format(time.RFC3339),
			"cron":        schedule.CronExpression,
		},
	)

	s.logger.InfoContext(ctx, "Firing schedule",
		"schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID,
		"fired_at", firedAt.Format(time.RFC3339), "next_due_at", schedule.NextDueAt.Format(time.RFC3339))

	return s.dispatcher.Dispatch(ctx, event)
}

// SyncFromWorkflows reconciles the schedule table against the current
// workflow definitions: active workflows with a schedule trigger get an
// entry, everything else loses theirs.
func (s *Scheduler) SyncFromWorkflows(ctx context.Context, workflows []*models.Workflow) error {
	existing, err := s.persistence.ScheduleRepository().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	byWorkflow := make(map[string]*models.Schedule, len(existing))
	for _, schedule := range existing {
		byWorkflow[schedule.WorkflowID] = schedule
	}

	wanted := make(map[string]bool, len(workflows))

	for _, workflow := range workflows {
		cronExpression, triggerNodeID, ok := scheduleTriggerOf(workflow)
		if !ok {
			continue
		}

		wanted[workflow.ID] = true

		if current, found := byWorkflow[workflow.ID]; found {
			if current.CronExpression == cronExpression && current.TriggerNodeID == triggerNodeID {
				continue
			}

			current.CronExpression = cronExpression
			current.TriggerNodeID = triggerNodeID

			if err := current.Advance(s.now().UTC()); err != nil {
				return fmt.Errorf("failed to recompute watermark for workflow %s: %w", workflow.ID, err)
			}

			if err := s.persistence.ScheduleRepository().Save(ctx, current); err != nil {
				return fmt.Errorf("failed to update schedule for workflow %s: %w", workflow.ID, err)
			}

			continue
		}

		schedule, err := models.NewSchedule(uuid.New().String(), workflow.ID, triggerNodeID, cronExpression)
		if err != nil {
			return fmt.Errorf("failed to build schedule for workflow %s: %w", workflow.ID, err)
		}

		if err := s.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
			return fmt.Errorf("failed to save schedule for workflow %s: %w", workflow.ID, err)
		}
	}

	for workflowID, schedule := range byWorkflow {
		if wanted[workflowID] {
			continue
		}

		if err := s.persistence.ScheduleRepository().Delete(ctx, schedule.ID); err != nil {
			return fmt.Errorf("failed to delete schedule %s: %w", schedule.ID, err)
		}
	}

	return nil
}

func scheduleTriggerOf(workflow *models.Workflow) (cronExpression, triggerNodeID string, ok bool) {
	if !workflow.Active || workflow.DeletedAt != nil {
		return "", "", false
	}

	trigger, err := workflow.TriggerNode()
	if err != nil || trigger.TriggerType != models.TriggerTypeSchedule {
		return "", "", false
	}

	config, err := models.ParseTriggerConfig(trigger)
	if err != nil {
		return "", "", false
	}

	scheduleConfig, ok := config.(*models.ScheduleTriggerConfig)
	if !ok {
		return "", "", false
	}

	return scheduleConfig.Cron, trigger.ID, true
}
