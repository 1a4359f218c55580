package app

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type EventRepository interface {
	GetCycle(ctx context.Context) (domain.EventCycle, error)
	SetMaxSpots(ctx context.Context, maxSpots int) (domain.EventCycle, error)
}

// DateLabeler renders an event date for people.
type DateLabeler interface {
	DateLabel(eventDate time.Time) string
}

type EventDetails struct {
	Name      string
	Date      time.Time
	DateLabel string
	Cycle     domain.EventCycle
}

// EventService serves the public event summary. Capacity figures are cached
// briefly and dropped whenever registration, reset or an admin changes them.
type EventService struct {
	repo         EventRepository
	calc         *calendar.Calculator
	labeler      DateLabeler
	clock        clock.Clock
	name         string
	cache        *gocache.Cache
	storeTimeout time.Duration
}

const (
	cycleCacheKey       = "cycle"
	defaultDetailsTTL   = 5 * time.Second
	detailsCleanupEvery = time.Minute
)

func NewEventService(repo EventRepository, calc *calendar.Calculator, labeler DateLabeler, clk clock.Clock, name string, opts ...EventOption) *EventService {
	svc := &EventService{
		repo:         repo,
		calc:         calc,
		labeler:      labeler,
		clock:        clk,
		name:         name,
		cache:        gocache.New(defaultDetailsTTL, detailsCleanupEvery),
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type EventOption func(*EventService)

// WithDetailsTTL sets how long capacity figures are served from memory. Zero
// or less disables caching.
func WithDetailsTTL(ttl time.Duration) EventOption {
	return func(s *EventService) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = gocache.New(ttl, detailsCleanupEvery)
	}
}

func WithEventStoreTimeout(d time.Duration) EventOption {
	return func(s *EventService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func (s *EventService) Details(ctx context.Context) (EventDetails, error) {
	cycle, err := s.cycle(ctx)
	if err != nil {
		return EventDetails{}, err
	}
	date := s.calc.Next(s.clock.Now())
	return EventDetails{
		Name:      s.name,
		Date:      date,
		DateLabel: s.labeler.DateLabel(date),
		Cycle:     cycle,
	}, nil
}

// SetCapacity changes max_spots for the current cycle.
func (s *EventService) SetCapacity(ctx context.Context, maxSpots int) (domain.EventCycle, error) {
	if maxSpots < 0 {
		return domain.EventCycle{}, domain.ErrInvalidCapacity
	}
	ctx, span := tracer.Start(ctx, "event.set_capacity")
	var err error
	defer func() { endSpan(span, err) }()

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	cycle, err := s.repo.SetMaxSpots(storeCtx, maxSpots)
	if err != nil {
		err = domain.StoreFailure("set capacity", err)
		return domain.EventCycle{}, err
	}
	s.Invalidate()
	return cycle, nil
}

func (s *EventService) Invalidate() {
	if s.cache != nil {
		s.cache.Delete(cycleCacheKey)
	}
}

func (s *EventService) cycle(ctx context.Context) (domain.EventCycle, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cycleCacheKey); ok {
			return v.(domain.EventCycle), nil
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	cycle, err := s.repo.GetCycle(storeCtx)
	if err != nil {
		return domain.EventCycle{}, domain.StoreFailure("get cycle", err)
	}
	if s.cache != nil {
		s.cache.SetDefault(cycleCacheKey, cycle)
	}
	return cycle, nil
}
