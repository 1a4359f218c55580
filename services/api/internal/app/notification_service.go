package app

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
	"github.com/palqo/palqo/services/api/internal/mail"
	"github.com/palqo/palqo/services/api/internal/messages"
)

type ReminderRepository interface {
	ScheduleReminder(ctx context.Context, rem domain.Reminder) (bool, error)
	ClaimDueReminders(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Reminder, error)
	CompleteReminder(ctx context.Context, id string, status domain.ReminderStatus, attempts int, lastError string) error
	RetryReminder(ctx context.Context, id string, attempts int, dueAt time.Time, lastError string) error
}

// NotificationService sends the confirmation email and owns the durable
// evening-before reminders.
type NotificationService struct {
	reminders    ReminderRepository
	sender       mail.Sender
	renderer     *messages.Renderer
	calc         *calendar.Calculator
	clock        clock.Clock
	logger       *log.Logger
	storeTimeout time.Duration
	mailTimeout  time.Duration
	maxAttempts  int
	lease        time.Duration
	batchSize    int
	retryBase    time.Duration
}

const (
	defaultMailTimeout      = 15 * time.Second
	defaultMaxAttempts      = 5
	defaultReminderLease    = 2 * time.Minute
	defaultReminderBatch    = 50
	defaultRetryBase        = time.Minute
	maxReminderRetryBackoff = time.Hour
)

func NewNotificationService(
	reminders ReminderRepository,
	sender mail.Sender,
	renderer *messages.Renderer,
	calc *calendar.Calculator,
	clk clock.Clock,
	opts ...NotificationOption,
) *NotificationService {
	svc := &NotificationService{
		reminders:    reminders,
		sender:       sender,
		renderer:     renderer,
		calc:         calc,
		clock:        clk,
		logger:       log.Default(),
		storeTimeout: defaultStoreTimeout,
		mailTimeout:  defaultMailTimeout,
		maxAttempts:  defaultMaxAttempts,
		lease:        defaultReminderLease,
		batchSize:    defaultReminderBatch,
		retryBase:    defaultRetryBase,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type NotificationOption func(*NotificationService)

func WithNotificationLogger(l *log.Logger) NotificationOption {
	return func(s *NotificationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNotificationTimeouts(store, send time.Duration) NotificationOption {
	return func(s *NotificationService) {
		if store > 0 {
			s.storeTimeout = store
		}
		if send > 0 {
			s.mailTimeout = send
		}
	}
}

// WithReminderRetry sets how often a reminder send is tried and the first
// retry delay. Later delays double up to an hour.
func WithReminderRetry(maxAttempts int, base time.Duration) NotificationOption {
	return func(s *NotificationService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if base > 0 {
			s.retryBase = base
		}
	}
}

func WithReminderLease(lease time.Duration, batchSize int) NotificationOption {
	return func(s *NotificationService) {
		if lease > 0 {
			s.lease = lease
		}
		if batchSize > 0 {
			s.batchSize = batchSize
		}
	}
}

// Notify sends the confirmation and stores the reminder for reg. Failures are
// logged and never returned; the caller's cancellation does not cut the send
// short.
func (s *NotificationService) Notify(ctx context.Context, reg domain.Registrant) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "notification.notify")
	defer span.End()

	now := s.clock.Now()
	to := messages.Recipient{Name: reg.Name, Email: reg.Email}

	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	err := s.sender.Send(sendCtx, s.renderer.Confirmation(to, reg.EventDate, now))
	cancel()
	if err != nil {
		span.RecordError(err)
		s.logger.Printf("confirmation email failed email=%s err=%v", reg.Email, err)
	} else {
		s.logger.Printf("confirmation email sent email=%s", reg.Email)
	}

	dueAt := s.calc.ReminderAt(reg.EventDate)
	if !dueAt.After(now) {
		s.logger.Printf("reminder not scheduled email=%s due_at=%s reason=past", reg.Email, dueAt.Format(time.RFC3339))
		return
	}

	rem := domain.Reminder{
		ID:        newUUID(),
		Email:     reg.Email,
		Name:      reg.Name,
		EventDate: reg.EventDate,
		DueAt:     dueAt,
		Status:    domain.ReminderStatusPending,
		CreatedAt: now,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	created, err := s.reminders.ScheduleReminder(storeCtx, rem)
	cancel()
	if err != nil {
		span.RecordError(err)
		s.logger.Printf("reminder not scheduled email=%s err=%v", reg.Email, domain.StoreFailure("schedule reminder", err))
		return
	}
	span.SetAttributes(attribute.Bool("reminder.created", created))
	if created {
		s.logger.Printf("reminder scheduled email=%s due_at=%s", reg.Email, dueAt.Format(time.RFC3339))
	}
}

// DispatchReport counts what one poll of due reminders did.
type DispatchReport struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
	Skipped int
}

// DispatchDue sends every reminder that is due. It is safe to run from
// several processes at once; each reminder is claimed under a lease.
func (s *NotificationService) DispatchDue(ctx context.Context) (DispatchReport, error) {
	ctx, span := tracer.Start(ctx, "notification.dispatch_due")
	var err error
	defer func() { endSpan(span, err) }()

	var report DispatchReport
	for {
		now := s.clock.Now()
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		var claimed []domain.Reminder
		claimed, err = s.reminders.ClaimDueReminders(storeCtx, now, s.lease, s.batchSize)
		cancel()
		if err != nil {
			err = domain.StoreFailure("claim reminders", err)
			return report, err
		}

		report.Claimed += len(claimed)
		for _, rem := range claimed {
			s.deliver(ctx, rem, now, &report)
		}
		if len(claimed) < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("reminders.claimed", report.Claimed),
		attribute.Int("reminders.sent", report.Sent),
	)
	if report.Claimed > 0 {
		s.logger.Printf("reminders dispatched claimed=%d sent=%d retried=%d failed=%d skipped=%d",
			report.Claimed, report.Sent, report.Retried, report.Failed, report.Skipped)
	}
	return report, nil
}

func (s *NotificationService) deliver(ctx context.Context, rem domain.Reminder, now time.Time, report *DispatchReport) {
	attempts := rem.Attempts + 1

	if !now.Before(s.calc.On(rem.EventDate)) {
		s.complete(ctx, rem, domain.ReminderStatusSkipped, rem.Attempts, "event date passed")
		report.Skipped++
		return
	}

	to := messages.Recipient{Name: rem.Name, Email: rem.Email}
	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	sendErr := s.sender.Send(sendCtx, s.renderer.Reminder(to, rem.EventDate))
	cancel()

	switch {
	case sendErr == nil:
		s.complete(ctx, rem, domain.ReminderStatusSent, attempts, "")
		report.Sent++
	case attempts >= s.maxAttempts:
		s.logger.Printf("reminder failed email=%s attempts=%d err=%v", rem.Email, attempts, sendErr)
		s.complete(ctx, rem, domain.ReminderStatusFailed, attempts, sendErr.Error())
		report.Failed++
	default:
		next := now.Add(s.retryDelay(attempts))
		s.logger.Printf("reminder retry email=%s attempts=%d next=%s err=%v", rem.Email, attempts, next.Format(time.RFC3339), sendErr)
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		if err := s.reminders.RetryReminder(storeCtx, rem.ID, attempts, next, sendErr.Error()); err != nil {
			s.logger.Printf("reminder retry not recorded id=%s err=%v", rem.ID, err)
		}
		cancel()
		report.Retried++
	}
}

func (s *NotificationService) complete(ctx context.Context, rem domain.Reminder, status domain.ReminderStatus, attempts int, lastError string) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.reminders.CompleteReminder(storeCtx, rem.ID, status, attempts, lastError); err != nil {
		// The lease runs out and the reminder is claimed again.
		s.logger.Printf("reminder status not recorded id=%s status=%s err=%v", rem.ID, status, err)
	}
}

func (s *NotificationService) retryDelay(attempts int) time.Duration {
	d := s.retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxReminderRetryBackoff {
			return maxReminderRetryBackoff
		}
	}
	return d
}
