package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
	"github.com/palqo/palqo/services/api/internal/mail"
	"github.com/palqo/palqo/services/api/internal/messages"
)

type RosterRepository interface {
	ListRegistrants(ctx context.Context) ([]domain.Registrant, error)
	ListMasterRegistrants(ctx context.Context) ([]domain.MasterRegistrant, error)
}

type WeeklyKind string

const (
	WeeklyKindUnregistered WeeklyKind = "unregistered"
	WeeklyKindRegistered   WeeklyKind = "registered"
)

type RecipientResult struct {
	Email string
	Name  string
	Kind  WeeklyKind
	Err   error
}

type WeeklyReport struct {
	EventDate time.Time
	Results   []RecipientResult
}

func (r WeeklyReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// DispatchService sends the weekly emails: an invitation to past registrants
// who have not signed up yet and a confirmation to everyone who has.
type DispatchService struct {
	roster       RosterRepository
	sender       mail.Sender
	renderer     *messages.Renderer
	calc         *calendar.Calculator
	clock        clock.Clock
	logger       *log.Logger
	storeTimeout time.Duration
	mailTimeout  time.Duration
	perMessage   time.Duration
}

const defaultBatchPerMessage = 2 * time.Second

func NewDispatchService(
	roster RosterRepository,
	sender mail.Sender,
	renderer *messages.Renderer,
	calc *calendar.Calculator,
	clk clock.Clock,
	opts ...DispatchOption,
) *DispatchService {
	svc := &DispatchService{
		roster:       roster,
		sender:       sender,
		renderer:     renderer,
		calc:         calc,
		clock:        clk,
		logger:       log.Default(),
		storeTimeout: defaultStoreTimeout,
		mailTimeout:  defaultMailTimeout,
		perMessage:   defaultBatchPerMessage,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type DispatchOption func(*DispatchService)

func WithDispatchLogger(l *log.Logger) DispatchOption {
	return func(s *DispatchService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBatchPerMessage sets how much the bulk send budget grows for each
// message on top of the mail timeout.
func WithBatchPerMessage(d time.Duration) DispatchOption {
	return func(s *DispatchService) {
		if d > 0 {
			s.perMessage = d
		}
	}
}

// WithDispatchTimeouts bounds the roster reads and the connection part of
// the bulk send.
func WithDispatchTimeouts(store, send time.Duration) DispatchOption {
	return func(s *DispatchService) {
		if store > 0 {
			s.storeTimeout = store
		}
		if send > 0 {
			s.mailTimeout = send
		}
	}
}

// SendWeekly sends one batch and reports a result per recipient. It fails
// only when the roster cannot be read or no message at all went out.
func (s *DispatchService) SendWeekly(ctx context.Context) (WeeklyReport, error) {
	ctx, span := tracer.Start(ctx, "dispatch.send_weekly")
	var err error
	defer func() { endSpan(span, err) }()

	report := WeeklyReport{EventDate: s.calc.Next(s.clock.Now())}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	active, err := s.roster.ListRegistrants(storeCtx)
	if err != nil {
		cancel()
		err = domain.StoreFailure("list registrants", err)
		return report, err
	}
	masters, err := s.roster.ListMasterRegistrants(storeCtx)
	cancel()
	if err != nil {
		err = domain.StoreFailure("list master registrants", err)
		return report, err
	}

	activeEmails := make(map[string]struct{}, len(active))
	for _, reg := range active {
		activeEmails[reg.Email] = struct{}{}
	}

	var msgs []mail.Message
	for _, m := range masters {
		if _, ok := activeEmails[m.Email]; ok {
			continue
		}
		to := messages.Recipient{Name: m.Name, Email: m.Email}
		msgs = append(msgs, s.renderer.WeeklyUnregistered(to, report.EventDate))
		report.Results = append(report.Results, RecipientResult{Email: m.Email, Name: m.Name, Kind: WeeklyKindUnregistered})
	}
	for _, reg := range active {
		to := messages.Recipient{Name: reg.Name, Email: reg.Email}
		msgs = append(msgs, s.renderer.WeeklyRegistered(to, report.EventDate))
		report.Results = append(report.Results, RecipientResult{Email: reg.Email, Name: reg.Name, Kind: WeeklyKindRegistered})
	}
	if len(msgs) == 0 {
		s.logger.Printf("weekly emails skipped reason=no recipients")
		return report, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.batchTimeout(len(msgs)))
	results := s.sender.SendBulk(sendCtx, msgs)
	cancel()
	for i := range report.Results {
		if i < len(results) {
			report.Results[i].Err = results[i].Err
		} else {
			report.Results[i].Err = &domain.TransportError{Recipient: report.Results[i].Email, Err: fmt.Errorf("no result from transport")}
		}
		if e := report.Results[i].Err; e != nil {
			s.logger.Printf("weekly email failed email=%s kind=%s err=%v", report.Results[i].Email, report.Results[i].Kind, e)
		}
	}

	failed := report.Failed()
	span.SetAttributes(
		attribute.Int("weekly.recipients", len(report.Results)),
		attribute.Int("weekly.failed", failed),
	)
	s.logger.Printf("weekly emails sent event_date=%s recipients=%d failed=%d",
		report.EventDate.Format(time.DateOnly), len(report.Results), failed)
	if failed == len(report.Results) {
		err = fmt.Errorf("%w: %d recipients", domain.ErrDispatchFailed, failed)
		return report, err
	}
	return report, nil
}

// batchTimeout bounds one SendBulk call: the mail timeout covers dialing and
// the first message, every further message adds perMessage.
func (s *DispatchService) batchTimeout(n int) time.Duration {
	if n <= 1 {
		return s.mailTimeout
	}
	return s.mailTimeout + time.Duration(n-1)*s.perMessage
}
