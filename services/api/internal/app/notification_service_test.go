package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
)

func TestNotificationService_Notify(t *testing.T) {
	t.Parallel()

	calc := sundayCalendar(t)
	loc := london(t)
	eventDate := time.Date(2026, time.October, 18, 0, 0, 0, 0, loc)
	reg := domain.Registrant{ID: "r1", Name: "Ada", Email: "ada@x.com", EventDate: eventDate}

	t.Run("sends the confirmation and schedules the reminder", func(t *testing.T) {
		store := newFakeStore(5, 0)
		sender := newFakeSender()
		now := time.Date(2026, time.October, 14, 10, 0, 0, 0, loc)
		svc := NewNotificationService(store, sender, testRenderer(calc), calc, clock.NewFixed(now),
			WithNotificationLogger(discardLogger()))

		svc.Notify(context.Background(), reg)

		sent := sender.messages()
		require.Len(t, sent, 1)
		require.Equal(t, "ada@x.com", sent[0].To)
		require.Equal(t, "Chamber music - registration confirmation", sent[0].Subject)
		require.Len(t, sent[0].Attachments, 1)
		require.Equal(t, "invite.ics", sent[0].Attachments[0].Name)

		rems := store.reminderList()
		require.Len(t, rems, 1)
		require.Equal(t, domain.ReminderStatusPending, rems[0].Status)
		require.True(t, rems[0].DueAt.Equal(time.Date(2026, time.October, 17, 19, 0, 0, 0, loc)))
		require.Equal(t, "Ada", rems[0].Name)
	})

	t.Run("skips the reminder once its fire time passed", func(t *testing.T) {
		store := newFakeStore(5, 0)
		sender := newFakeSender()
		now := time.Date(2026, time.October, 17, 19, 30, 0, 0, loc)
		svc := NewNotificationService(store, sender, testRenderer(calc), calc, clock.NewFixed(now),
			WithNotificationLogger(discardLogger()))

		svc.Notify(context.Background(), reg)

		require.Len(t, sender.messages(), 1)
		require.Empty(t, store.reminderList())
	})

	t.Run("fire time exactly now is not scheduled", func(t *testing.T) {
		store := newFakeStore(5, 0)
		now := time.Date(2026, time.October, 17, 19, 0, 0, 0, loc)
		svc := NewNotificationService(store, newFakeSender(), testRenderer(calc), calc, clock.NewFixed(now),
			WithNotificationLogger(discardLogger()))

		svc.Notify(context.Background(), reg)
		require.Empty(t, store.reminderList())
	})

	t.Run("confirmation failure still schedules the reminder", func(t *testing.T) {
		store := newFakeStore(5, 0)
		sender := newFakeSender()
		sender.fail["ada@x.com"] = errors.New("550 mailbox unavailable")
		now := time.Date(2026, time.October, 14, 10, 0, 0, 0, loc)
		svc := NewNotificationService(store, sender, testRenderer(calc), calc, clock.NewFixed(now),
			WithNotificationLogger(discardLogger()))

		svc.Notify(context.Background(), reg)

		require.Empty(t, sender.messages())
		require.Len(t, store.reminderList(), 1)
	})

	t.Run("ignores a cancelled caller context", func(t *testing.T) {
		store := newFakeStore(5, 0)
		sender := newFakeSender()
		now := time.Date(2026, time.October, 14, 10, 0, 0, 0, loc)
		svc := NewNotificationService(store, sender, testRenderer(calc), calc, clock.NewFixed(now),
			WithNotificationLogger(discardLogger()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc.Notify(ctx, reg)

		require.Len(t, sender.messages(), 1)
		require.Len(t, store.reminderList(), 1)
	})
}

func TestNotificationService_DispatchDue(t *testing.T) {
	t.Parallel()

	calc := sundayCalendar(t)
	loc := london(t)
	eventDate := time.Date(2026, time.October, 18, 0, 0, 0, 0, loc)
	registeredAt := time.Date(2026, time.October, 14, 10, 0, 0, 0, loc)

	setup := func(t *testing.T, opts ...NotificationOption) (*NotificationService, *fakeStore, *fakeSender, *clock.Manual) {
		store := newFakeStore(5, 0)
		sender := newFakeSender()
		clk := clock.NewManual(registeredAt)
		opts = append([]NotificationOption{WithNotificationLogger(discardLogger())}, opts...)
		svc := NewNotificationService(store, sender, testRenderer(calc), calc, clk, opts...)
		for _, p := range []struct{ name, email string }{{"Ada", "ada@x.com"}, {"Bob", "bob@x.com"}} {
			svc.Notify(context.Background(), domain.Registrant{Name: p.name, Email: p.email, EventDate: eventDate})
		}
		return svc, store, sender, clk
	}

	t.Run("sends nothing before the fire time", func(t *testing.T) {
		svc, store, sender, clk := setup(t)
		clk.Set(time.Date(2026, time.October, 17, 18, 59, 0, 0, loc))

		report, err := svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Zero(t, report.Claimed)
		require.Len(t, sender.messages(), 2)
		for _, rem := range store.reminderList() {
			require.Equal(t, domain.ReminderStatusPending, rem.Status)
		}
	})

	t.Run("sends due reminders once", func(t *testing.T) {
		svc, store, sender, clk := setup(t)
		clk.Set(time.Date(2026, time.October, 17, 19, 0, 0, 0, loc))

		report, err := svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispatchReport{Claimed: 2, Sent: 2}, report)

		var reminders int
		for _, msg := range sender.messages() {
			if strings.HasSuffix(msg.Subject, "tomorrow") {
				reminders++
			}
		}
		require.Equal(t, 2, reminders)
		for _, rem := range store.reminderList() {
			require.Equal(t, domain.ReminderStatusSent, rem.Status)
			require.Equal(t, 1, rem.Attempts)
		}

		report, err = svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Zero(t, report.Claimed)
	})

	t.Run("a fresh process picks up stored reminders", func(t *testing.T) {
		_, store, _, _ := setup(t)
		sender := newFakeSender()
		restarted := NewNotificationService(store, sender, testRenderer(calc), calc,
			clock.NewFixed(time.Date(2026, time.October, 17, 21, 0, 0, 0, loc)),
			WithNotificationLogger(discardLogger()))

		report, err := restarted.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, report.Sent)
		require.Len(t, sender.messages(), 2)
	})

	t.Run("retries with backoff then gives up", func(t *testing.T) {
		svc, store, sender, clk := setup(t, WithReminderRetry(3, time.Minute))
		sender.fail["bob@x.com"] = errors.New("421 try later")
		start := time.Date(2026, time.October, 17, 19, 0, 0, 0, loc)
		clk.Set(start)

		report, err := svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispatchReport{Claimed: 2, Sent: 1, Retried: 1}, report)

		bob := findReminder(t, store, "bob@x.com")
		require.Equal(t, domain.ReminderStatusPending, bob.Status)
		require.Equal(t, 1, bob.Attempts)
		require.True(t, bob.DueAt.Equal(start.Add(time.Minute)))
		require.Contains(t, bob.LastError, "421")

		clk.Set(start.Add(time.Minute))
		report, err = svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispatchReport{Claimed: 1, Retried: 1}, report)
		bob = findReminder(t, store, "bob@x.com")
		require.True(t, bob.DueAt.Equal(start.Add(3*time.Minute)))

		clk.Set(start.Add(3 * time.Minute))
		report, err = svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispatchReport{Claimed: 1, Failed: 1}, report)
		bob = findReminder(t, store, "bob@x.com")
		require.Equal(t, domain.ReminderStatusFailed, bob.Status)
		require.Equal(t, 3, bob.Attempts)
	})

	t.Run("skips reminders for an event that already started", func(t *testing.T) {
		svc, store, sender, clk := setup(t)
		clk.Set(time.Date(2026, time.October, 18, 8, 0, 0, 0, loc))

		report, err := svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispatchReport{Claimed: 2, Skipped: 2}, report)
		require.Len(t, sender.messages(), 2)
		for _, rem := range store.reminderList() {
			require.Equal(t, domain.ReminderStatusSkipped, rem.Status)
		}
	})

	t.Run("claim failure is a store error", func(t *testing.T) {
		svc, store, _, _ := setup(t)
		store.claimErr = errStoreDown

		_, err := svc.DispatchDue(context.Background())
		var se *domain.StoreError
		require.ErrorAs(t, err, &se)
	})

	t.Run("drains more than one batch", func(t *testing.T) {
		svc, store, _, clk := setup(t, WithReminderLease(time.Minute, 1))
		clk.Set(time.Date(2026, time.October, 17, 19, 0, 0, 0, loc))

		report, err := svc.DispatchDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, report.Sent)
		for _, rem := range store.reminderList() {
			require.Equal(t, domain.ReminderStatusSent, rem.Status)
		}
	})
}

func TestNotificationService_RetryDelayDoublesUpToAnHour(t *testing.T) {
	t.Parallel()

	svc := NewNotificationService(nil, nil, nil, nil, nil, WithReminderRetry(10, 10*time.Minute))
	require.Equal(t, 10*time.Minute, svc.retryDelay(1))
	require.Equal(t, 20*time.Minute, svc.retryDelay(2))
	require.Equal(t, 40*time.Minute, svc.retryDelay(3))
	require.Equal(t, time.Hour, svc.retryDelay(4))
	require.Equal(t, time.Hour, svc.retryDelay(9))
}

func findReminder(t *testing.T, store *fakeStore, email string) domain.Reminder {
	t.Helper()
	for _, rem := range store.reminderList() {
		if rem.Email == email {
			return rem
		}
	}
	t.Fatalf("no reminder for %s", email)
	return domain.Reminder{}
}
