// Package scheduler runs the recurring jobs: the weekly reset, the weekly
// emails and the reminder poller.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/palqo/palqo/services/api/internal/app"
)

type Lifecycle interface {
	Run(ctx context.Context) (app.LifecycleReport, error)
}

type WeeklyDispatcher interface {
	SendWeekly(ctx context.Context) (app.WeeklyReport, error)
}

type ReminderDispatcher interface {
	DispatchDue(ctx context.Context) (app.DispatchReport, error)
}

const (
	JobCleanup      = "cleanup"
	JobWeeklyEmails = "weekly_emails"
	JobReminders    = "reminders"
)

type Config struct {
	CleanupSchedule      string
	WeeklyEmailSchedule  string
	ReminderPollInterval time.Duration
	Location             *time.Location
}

type Scheduler struct {
	cron      *cron.Cron
	lifecycle Lifecycle
	weekly    WeeklyDispatcher
	reminders ReminderDispatcher
	logger    *log.Logger
	entries   map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs. Overlapping runs of the same job are skipped and a
// panicking job is logged, not fatal.
func New(cfg Config, lifecycle Lifecycle, weekly WeeklyDispatcher, reminders ReminderDispatcher, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ReminderPollInterval <= 0 {
		return nil, errors.New("reminder poll interval must be positive")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		lifecycle: lifecycle,
		weekly:    weekly,
		reminders: reminders,
		logger:    logger,
		entries:   make(map[string]cron.EntryID, 3),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{JobCleanup, cfg.CleanupSchedule, s.runCleanup},
		{JobWeeklyEmails, cfg.WeeklyEmailSchedule, s.runWeeklyEmails},
		{JobReminders, "@every " + cfg.ReminderPollInterval.String(), s.runReminders},
	}
	for _, job := range jobs {
		id, err := s.cron.AddFunc(job.spec, job.run)
		if err != nil {
			s.cancel()
			return nil, fmt.Errorf("%s schedule %q: %w", job.name, job.spec, err)
		}
		s.entries[job.name] = id
	}
	return s, nil
}

// Start sends reminders that fell due while the process was down, then starts
// the cron loop.
func (s *Scheduler) Start() {
	s.runReminders()
	s.cron.Start()
	now := time.Now().In(s.cron.Location())
	for _, job := range []string{JobCleanup, JobWeeklyEmails, JobReminders} {
		if next, ok := s.Next(job, now); ok {
			s.logger.Printf("scheduler job=%s next=%s", job, next.Format(time.RFC3339))
		}
	}
}

// Stop halts the schedule, cancels running jobs and waits for them until ctx
// expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Printf("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the named job fires next after t.
func (s *Scheduler) Next(job string, t time.Time) (time.Time, bool) {
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(t), true
}

func (s *Scheduler) runCleanup() {
	if _, err := s.lifecycle.Run(s.ctx); err != nil {
		s.logger.Printf("job=cleanup err=%v", err)
	}
}

func (s *Scheduler) runWeeklyEmails() {
	report, err := s.weekly.SendWeekly(s.ctx)
	if err != nil {
		s.logger.Printf("job=weekly_emails recipients=%d err=%v", len(report.Results), err)
	}
}

func (s *Scheduler) runReminders() {
	if _, err := s.reminders.DispatchDue(s.ctx); err != nil {
		s.logger.Printf("job=reminders err=%v", err)
	}
}
