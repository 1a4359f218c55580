package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type EventRepository struct {
	conn
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{conn: conn{pool: pool}}
}

func (r *EventRepository) GetCycle(ctx context.Context) (domain.EventCycle, error) {
	return getCycle(ctx, r.conn, false)
}

// SetMaxSpots changes the capacity of the current cycle. It refuses to drop
// below the spots already taken.
func (r *EventRepository) SetMaxSpots(ctx context.Context, maxSpots int) (domain.EventCycle, error) {
	if maxSpots < 0 {
		return domain.EventCycle{}, domain.ErrInvalidCapacity
	}

	var updated domain.EventCycle
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		cycle, err := getCycle(txCtx, r.conn, true)
		if err != nil {
			return err
		}
		if cycle.SpotsTaken > maxSpots {
			return domain.ErrCapacityBelowTaken
		}

		const stmt = `
UPDATE event_details
SET max_spots = $2, updated_at = NOW()
WHERE id = $1
RETURNING id, max_spots, spots_taken`
		err = r.queryRow(txCtx, stmt, cycle.ID, maxSpots).Scan(&updated.ID, &updated.MaxSpots, &updated.SpotsTaken)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrCycleNotFound
			}
			if isCheckViolation(err) {
				return domain.ErrCapacityBelowTaken
			}
			return fmt.Errorf("set max spots: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.EventCycle{}, err
	}
	return updated, nil
}
