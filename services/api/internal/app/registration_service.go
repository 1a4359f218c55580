package app

import (
	"context"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type RegistrationRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCycleForUpdate(ctx context.Context) (domain.EventCycle, error)
	RegistrantExists(ctx context.Context, email string) (bool, error)
	CreateRegistrant(ctx context.Context, reg domain.Registrant) error
	IncrementSpotsTaken(ctx context.Context, cycleID int64) (domain.EventCycle, error)
}

// Notifier is told about every admitted registrant after the admission has
// committed. It must not fail the registration.
type Notifier interface {
	Notify(ctx context.Context, reg domain.Registrant)
}

// Invalidator drops cached capacity figures.
type Invalidator interface {
	Invalidate()
}

type RegistrationService struct {
	repo         RegistrationRepository
	calc         *calendar.Calculator
	clock        clock.Clock
	notifier     Notifier
	invalidator  Invalidator
	logger       *log.Logger
	storeTimeout time.Duration
}

const defaultStoreTimeout = 5 * time.Second

func NewRegistrationService(repo RegistrationRepository, calc *calendar.Calculator, clk clock.Clock, opts ...RegistrationOption) *RegistrationService {
	svc := &RegistrationService{
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

type RegistrationOption func(*RegistrationService)

func WithNotifier(n Notifier) RegistrationOption {
	return func(s *RegistrationService) {
		s.notifier = n
	}
}

func WithInvalidator(i Invalidator) RegistrationOption {
	return func(s *RegistrationService) {
		s.invalidator = i
	}
}

func WithRegistrationLogger(l *log.Logger) RegistrationOption {
	return func(s *RegistrationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistrationStoreTimeout bounds the admission transaction.
func WithRegistrationStoreTimeout(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

type RegisterInput struct {
	Name       string
	Email      string
	Instrument string
}

type RegisterResult struct {
	Registrant domain.Registrant
	Cycle      domain.EventCycle
}

// Register admits one registrant to the next event. The duplicate check,
// capacity check, insert and increment run in one transaction behind the
// capacity row lock, so at most max_spots registrants are ever admitted.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" {
		return RegisterResult{}, domain.ErrNameRequired
	}
	if email == "" {
		return RegisterResult{}, domain.ErrEmailRequired
	}

	ctx, span := tracer.Start(ctx, "registration.register")
	var err error
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	reg := domain.Registrant{
		ID:         newUUID(),
		Name:       name,
		Email:      email,
		Instrument: strings.TrimSpace(in.Instrument),
		EventDate:  s.calc.Next(now),
		CreatedAt:  now,
	}

	var updated domain.EventCycle
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err = s.repo.WithTx(storeCtx, func(txCtx context.Context) error {
		cycle, err := s.repo.GetCycleForUpdate(txCtx)
		if err != nil {
			return err
		}

		exists, err := s.repo.RegistrantExists(txCtx, email)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateRegistrant
		}
		if cycle.Full() {
			return domain.ErrEventFull
		}

		if err := s.repo.CreateRegistrant(txCtx, reg); err != nil {
			return err
		}
		updated, err = s.repo.IncrementSpotsTaken(txCtx, cycle.ID)
		return err
	})
	cancel()
	if err != nil {
		err = domain.StoreFailure("register", err)
		return RegisterResult{}, err
	}

	span.SetAttributes(
		attribute.Int("event.spots_taken", updated.SpotsTaken),
		attribute.Int("event.max_spots", updated.MaxSpots),
	)
	s.logger.Printf("registration admitted email=%s event_date=%s spots_taken=%d max_spots=%d",
		reg.Email, reg.EventDate.Format(time.DateOnly), updated.SpotsTaken, updated.MaxSpots)

	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, reg)
	}

	return RegisterResult{Registrant: reg, Cycle: updated}, nil
}
