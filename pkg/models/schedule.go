package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is one schedule-trigger entry tracked by the poller. NextDueAt is
// the precomputed watermark: the poller fires an entry when NextDueAt <= now
// and advances the watermark before dispatching, which keeps firing
// at-most-once per instant even when ticks overlap.
type Schedule struct {
	ID             string    `json:"id"              validate:"required"`
	WorkflowID     string    `json:"workflow_id"     validate:"required"`
	TriggerNodeID  string    `json:"trigger_node_id" validate:"required"`
	CronExpression string    `json:"cron_expression" validate:"required"`
	NextDueAt      time.Time `json:"next_due_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Active         bool      `json:"active"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// NewSchedule creates a schedule entry with its first due time computed from
// now. Instants missed while the process was down are not backfilled: a
// restart recomputes the watermark from the current time.
func NewSchedule(id, workflowID, triggerNodeID, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		TriggerNodeID:  triggerNodeID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.advance(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// IsDue reports whether the entry should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Advance moves the watermark to the next instant after now.
func (s *Schedule) Advance(now time.Time) error {
	return s.advance(now)
}

func (s *Schedule) advance(reference time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(reference)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// Validate checks the schedule fields and cron expression.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.TriggerNodeID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
