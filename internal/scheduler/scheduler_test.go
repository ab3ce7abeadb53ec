package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/logging"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/ratelimit"
	"github.com/mailcore/engine/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	err      error
	messageID string
	calls    int
}

func (f *fakeSender) Send(ctx context.Context, task model.SendEmailTask) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.messageID, nil
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestEnqueueDefaultsAndTickSendsSuccessfully(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{messageID: "msg-1"}
	s := New(db, sender, ratelimit.Default(), logging.NewConsole("error"))

	require.NoError(t, s.Enqueue(model.SendEmailTask{ID: "t1", AccountID: "a1"}))

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, sender.calls)

	task, ok := db.SendTasks.FindByPrimary("t1")
	require.True(t, ok)
	require.Equal(t, model.TaskSuccess, task.Status)
	require.Equal(t, "msg-1", task.MessageID)
	require.Equal(t, 1, task.Attempt)
}

func TestTickReschedulesOnFailureUntilMaxAttempts(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{err: errors.New("smtp unavailable")}
	s := New(db, sender, ratelimit.RateLimit{BackoffLimit: 2, BackoffStart: time.Millisecond, BackoffCap: time.Millisecond}, logging.NewConsole("error"))

	require.NoError(t, s.Enqueue(model.SendEmailTask{ID: "t1", AccountID: "a1"}))

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	task, ok := db.SendTasks.FindByPrimary("t1")
	require.True(t, ok)
	require.Equal(t, model.TaskScheduled, task.Status, "first failure should reschedule, not fail permanently")
	require.Equal(t, 1, task.Attempt)

	// Force the retry to be due immediately, then let it exhaust attempts.
	task.NextAttemptAt = time.Now().Add(-time.Second)
	require.NoError(t, db.SendTasks.Put(task))

	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	task, ok = db.SendTasks.FindByPrimary("t1")
	require.True(t, ok)
	require.Equal(t, model.TaskFailed, task.Status)
	require.Equal(t, 2, task.Attempt)
	require.Equal(t, "smtp unavailable", task.LastError)
}

func TestTickFailsImmediatelyOnMissingConfiguration(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{err: apperr.MissingConfig("no stored oauth2 token for account %q", "a1")}
	s := New(db, sender, ratelimit.RateLimit{BackoffLimit: 5, BackoffStart: time.Millisecond, BackoffCap: time.Millisecond}, logging.NewConsole("error"))

	require.NoError(t, s.Enqueue(model.SendEmailTask{ID: "t1", AccountID: "a1"}))

	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	task, ok := db.SendTasks.FindByPrimary("t1")
	require.True(t, ok)
	require.Equal(t, model.TaskFailed, task.Status, "missing configuration must fail the task on the first attempt, not reschedule")
	require.Equal(t, 1, task.Attempt)
	require.Equal(t, 1, sender.calls)
}

func TestTickSkipsTasksNotYetDue(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{messageID: "msg-1"}
	s := New(db, sender, ratelimit.Default(), logging.NewConsole("error"))

	require.NoError(t, db.SendTasks.Put(model.SendEmailTask{
		ID:            "future",
		Status:        model.TaskScheduled,
		NextAttemptAt: time.Now().Add(time.Hour),
	}))

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, sender.calls)
}

func TestStopPreventsFurtherAttempts(t *testing.T) {
	db := newTestDB(t)
	s := New(db, &fakeSender{}, ratelimit.Default(), logging.NewConsole("error"))
	require.NoError(t, s.Enqueue(model.SendEmailTask{ID: "t1"}))
	require.NoError(t, s.Stop("t1"))

	task, ok := db.SendTasks.FindByPrimary("t1")
	require.True(t, ok)
	require.Equal(t, model.TaskStopped, task.Status)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
