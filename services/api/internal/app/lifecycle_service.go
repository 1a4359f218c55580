package app

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type AttendeeRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCycleForUpdate(ctx context.Context) (domain.EventCycle, error)
	ListRegistrants(ctx context.Context) ([]domain.Registrant, error)
	ArchiveRegistrant(ctx context.Context, reg domain.Registrant) error
	DeleteRegistrants(ctx context.Context, ids []string) (int, error)
	SetSpotsTaken(ctx context.Context, cycleID int64, taken int) error
}

// LifecycleService closes a cycle: registrants of occurrences that have
// already happened move to the master list and the capacity ledger starts
// over with whoever is left.
type LifecycleService struct {
	repo         AttendeeRepository
	calc         *calendar.Calculator
	clock        clock.Clock
	invalidator  Invalidator
	logger       *log.Logger
	storeTimeout time.Duration
}

func NewLifecycleService(repo AttendeeRepository, calc *calendar.Calculator, clk clock.Clock, opts ...LifecycleOption) *LifecycleService {
	svc := &LifecycleService{
		repo:         repo,
		calc:         calc,
		clock:        clk,
		logger:       log.Default(),
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type LifecycleOption func(*LifecycleService)

func WithLifecycleLogger(l *log.Logger) LifecycleOption {
	return func(s *LifecycleService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithLifecycleInvalidator(i Invalidator) LifecycleOption {
	return func(s *LifecycleService) {
		s.invalidator = i
	}
}

// WithLifecycleStoreTimeout bounds the whole reset transaction.
func WithLifecycleStoreTimeout(d time.Duration) LifecycleOption {
	return func(s *LifecycleService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// LifecycleReport lists emails that stay active: Kept failed to archive,
// Carried are registered for an occurrence that has not happened yet.
type LifecycleReport struct {
	Archived   int
	Deleted    int
	Kept       []string
	Carried    []string
	SpotsTaken int
}

// Run archives and clears the registrants of the occurrence that ended, then
// resets spots_taken to the number of rows still active. Registrants dated on
// or after the next occurrence are left alone. The run holds the capacity row
// lock, so no registration commits while it is in progress. A registrant
// whose archive fails stays active and keeps its spot; the next run tries
// again.
func (s *LifecycleService) Run(ctx context.Context) (LifecycleReport, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.run")
	var err error
	defer func() { endSpan(span, err) }()

	var report LifecycleReport
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err = s.repo.WithTx(storeCtx, func(txCtx context.Context) error {
		report = LifecycleReport{}

		cycle, err := s.repo.GetCycleForUpdate(txCtx)
		if err != nil {
			return lifecycleErr("lock", err)
		}

		regs, err := s.repo.ListRegistrants(txCtx)
		if err != nil {
			return lifecycleErr("read", err)
		}

		upcoming := s.calc.Next(s.clock.Now())
		archived := make([]string, 0, len(regs))
		for _, reg := range regs {
			if !s.calc.On(reg.EventDate).Before(upcoming) {
				report.Carried = append(report.Carried, reg.Email)
				continue
			}
			if err := s.repo.ArchiveRegistrant(txCtx, reg); err != nil {
				s.logger.Printf("archive failed email=%s err=%v", reg.Email, err)
				report.Kept = append(report.Kept, reg.Email)
				continue
			}
			archived = append(archived, reg.ID)
		}
		report.Archived = len(archived)

		report.Deleted, err = s.repo.DeleteRegistrants(txCtx, archived)
		if err != nil {
			return lifecycleErr("clear", err)
		}

		report.SpotsTaken = len(regs) - report.Deleted
		if err := s.repo.SetSpotsTaken(txCtx, cycle.ID, report.SpotsTaken); err != nil {
			return lifecycleErr("reset", err)
		}
		return nil
	})
	if err != nil {
		var lerr *domain.LifecycleError
		if !errors.As(err, &lerr) {
			err = lifecycleErr("tx", err)
		}
		s.logger.Printf("weekly reset aborted err=%v", err)
		return LifecycleReport{}, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
	span.SetAttributes(
		attribute.Int("lifecycle.archived", report.Archived),
		attribute.Int("lifecycle.kept", len(report.Kept)),
		attribute.Int("lifecycle.carried", len(report.Carried)),
	)
	s.logger.Printf("weekly reset done archived=%d deleted=%d kept=%d carried=%d spots_taken=%d",
		report.Archived, report.Deleted, len(report.Kept), len(report.Carried), report.SpotsTaken)
	return report, nil
}

func lifecycleErr(step string, err error) error {
	return &domain.LifecycleError{Step: step, Err: domain.StoreFailure(step, err)}
}
