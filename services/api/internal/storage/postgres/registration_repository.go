package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type RegistrationRepository struct {
	conn
}

func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{conn: conn{pool: pool}}
}

func (r *RegistrationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// GetCycleForUpdate locks the capacity row until the surrounding transaction
// ends. Every capacity decision goes through this lock.
func (r *RegistrationRepository) GetCycleForUpdate(ctx context.Context) (domain.EventCycle, error) {
	return getCycle(ctx, r.conn, true)
}

func (r *RegistrationRepository) RegistrantExists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendees WHERE email = $1)`
	var exists bool
	if err := r.queryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check registrant: %w", err)
	}
	return exists, nil
}

func (r *RegistrationRepository) CreateRegistrant(ctx context.Context, reg domain.Registrant) error {
	const stmt = `
INSERT INTO attendees (id, name, email, instrument, event_date, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, stmt,
		reg.ID,
		reg.Name,
		reg.Email,
		reg.Instrument,
		reg.EventDate,
		reg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateRegistrant
		}
		return fmt.Errorf("create registrant: %w", err)
	}
	return nil
}

// IncrementSpotsTaken takes one spot if one is left. It never moves the
// counter past max_spots, even without the row lock.
func (r *RegistrationRepository) IncrementSpotsTaken(ctx context.Context, cycleID int64) (domain.EventCycle, error) {
	const stmt = `
UPDATE event_details
SET spots_taken = spots_taken + 1, updated_at = NOW()
WHERE id = $1 AND spots_taken < max_spots
RETURNING id, max_spots, spots_taken`

	var c domain.EventCycle
	err := r.queryRow(ctx, stmt, cycleID).Scan(&c.ID, &c.MaxSpots, &c.SpotsTaken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isCheckViolation(err) {
			return domain.EventCycle{}, domain.ErrEventFull
		}
		return domain.EventCycle{}, fmt.Errorf("increment spots taken: %w", err)
	}
	return c, nil
}

func getCycle(ctx context.Context, c conn, forUpdate bool) (domain.EventCycle, error) {
	query := `SELECT id, max_spots, spots_taken FROM event_details ORDER BY id LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cycle domain.EventCycle
	err := c.queryRow(ctx, query).Scan(&cycle.ID, &cycle.MaxSpots, &cycle.SpotsTaken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EventCycle{}, domain.ErrCycleNotFound
		}
		return domain.EventCycle{}, fmt.Errorf("get event cycle: %w", err)
	}
	return cycle, nil
}
