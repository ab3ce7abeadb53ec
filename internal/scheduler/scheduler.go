// Package scheduler drives the SendEmailTask state machine
// (Scheduled -> Running -> Success/Failed/Stopped) over the durable KV
// store, with exponential backoff on failure.
package scheduler

import (
	"context"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/ratelimit"
	"github.com/mailcore/engine/internal/store"
	"github.com/rs/zerolog"
)

// Sender is the subset of internal/send.Sender the scheduler depends
// on, kept as an interface so tests can supply a fake.
type Sender interface {
	Send(ctx context.Context, task model.SendEmailTask) (string, error)
}

// Scheduler pops due SendEmailTasks and drives them through Sender.
type Scheduler struct {
	db     *store.DB
	sender Sender
	policy ratelimit.RateLimit
	log    zerolog.Logger
}

func New(db *store.DB, sender Sender, policy ratelimit.RateLimit, log zerolog.Logger) *Scheduler {
	return &Scheduler{db: db, sender: sender, policy: policy, log: log.With().Str("component", "scheduler").Logger()}
}

// Enqueue persists task as Scheduled, to be picked up by the next Tick.
func (s *Scheduler) Enqueue(task model.SendEmailTask) error {
	task.Status = model.TaskScheduled
	if task.MaxAttempts == 0 {
		task.MaxAttempts = int(s.policy.BackoffLimit)
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now()
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	return s.db.SendTasks.Put(task)
}

// Tick finds every task due to run (Status == Scheduled,
// NextAttemptAt <= now) and attempts delivery once each, returning how
// many were attempted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	tasks, err := s.db.SendTasks.FindBySecondary(model.IdxStatus, string(model.TaskScheduled))
	if err != nil {
		return 0, err
	}
	now := time.Now()
	attempted := 0
	for _, t := range tasks {
		if t.NextAttemptAt.After(now) {
			continue
		}
		s.runOne(ctx, t)
		attempted++
	}
	return attempted, nil
}

func (s *Scheduler) runOne(ctx context.Context, task model.SendEmailTask) {
	task.Status = model.TaskRunning
	task.Attempt++
	task.UpdatedAt = time.Now()
	_ = s.db.SendTasks.Put(task)

	msgID, err := s.sender.Send(ctx, task)
	if err != nil {
		task.LastError = err.Error()
		switch {
		case apperr.Is(err, apperr.MissingConfiguration):
			// Missing configuration (e.g. no stored OAuth2 token, no MTA
			// for the account) won't resolve by retrying, so fail the
			// task immediately instead of burning the backoff budget.
			task.Status = model.TaskFailed
		case task.Attempt >= task.MaxAttempts:
			task.Status = model.TaskFailed
		default:
			task.Status = model.TaskScheduled
			task.NextAttemptAt = time.Now().Add(s.policy.BackoffDelay(uint(task.Attempt)))
		}
		task.UpdatedAt = time.Now()
		_ = s.db.SendTasks.Put(task)
		s.log.Warn().Str("task_id", task.ID).Int("attempt", task.Attempt).Err(err).Msg("send attempt failed")
		return
	}

	task.Status = model.TaskSuccess
	task.MessageID = msgID
	task.LastError = ""
	task.UpdatedAt = time.Now()
	_ = s.db.SendTasks.Put(task)
	s.log.Info().Str("task_id", task.ID).Str("message_id", msgID).Msg("task sent")
}

// Stop marks a still-pending task Stopped, preventing further attempts.
func (s *Scheduler) Stop(taskID string) error {
	task, ok := s.db.SendTasks.FindByPrimary(taskID)
	if !ok {
		return nil
	}
	if task.Status == model.TaskSuccess || task.Status == model.TaskFailed {
		return nil
	}
	task.Status = model.TaskStopped
	task.UpdatedAt = time.Now()
	return s.db.SendTasks.Put(task)
}
