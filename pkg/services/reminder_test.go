package services

import (
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminderScheduler_RemindsLongSuspendedThreads(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	scheduler, err := NewReminderScheduler(f.store, f.bus, config.ReminderPolicy{Schedule: "@every 1m", After: 24 * time.Hour}, log.Discard())
	require.NoError(t, err)

	scheduler.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	sent, err := scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, sent, "suspended for an hour is not long enough")

	scheduler.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }

	sent, err = scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	var reminder events.ApprovalReminder

	for _, event := range f.bus.Published() {
		if e, ok := event.(events.ApprovalReminder); ok {
			reminder = e
		}
	}

	assert.Equal(t, started.ThreadID, reminder.ThreadID)
	assert.Equal(t, owner, reminder.UserID)
	assert.Equal(t, "await", reminder.Node)
	assert.GreaterOrEqual(t, reminder.Waiting, 24*time.Hour)
}

func TestReminderScheduler_IgnoresFinishedThreads(t *testing.T) {
	f := newFixture(t, nil)
	started := f.start(t)

	require.NoError(t, f.service.Cancel(t.Context(), started.ThreadID, Caller{UserID: owner}, ""))

	scheduler, err := NewReminderScheduler(f.store, f.bus, config.Default().Reminders, log.Discard())
	require.NoError(t, err)

	scheduler.now = func() time.Time { return time.Now().UTC().Add(30 * 24 * time.Hour) }

	sent, err := scheduler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestReminderScheduler_StartStop(t *testing.T) {
	f := newFixture(t, nil)

	scheduler, err := NewReminderScheduler(f.store, f.bus, config.Default().Reminders, log.Discard())
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(t.Context()))
	require.NoError(t, scheduler.Stop(t.Context()))
}

func TestNewReminderScheduler_InvalidSchedule(t *testing.T) {
	f := newFixture(t, nil)

	_, err := NewReminderScheduler(f.store, f.bus, config.ReminderPolicy{Schedule: "every tuesday", After: time.Hour}, log.Discard())
	assert.Error(t, err)
}
