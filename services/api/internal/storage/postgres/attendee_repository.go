package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/palqo/palqo/services/api/internal/domain"
)

// AttendeeRepository reads and rotates the active and master registrant
// sets. The weekly reset and the weekly email both go through it.
type AttendeeRepository struct {
	conn
}

func NewAttendeeRepository(pool *pgxpool.Pool) *AttendeeRepository {
	return &AttendeeRepository{conn: conn{pool: pool}}
}

func (r *AttendeeRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *AttendeeRepository) GetCycleForUpdate(ctx context.Context) (domain.EventCycle, error) {
	return getCycle(ctx, r.conn, true)
}

func (r *AttendeeRepository) ListRegistrants(ctx context.Context) ([]domain.Registrant, error) {
	const query = `
SELECT id, name, email, instrument, event_date, created_at
FROM attendees
ORDER BY created_at ASC, email ASC`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registrants: %w", err)
	}
	defer rows.Close()

	var out []domain.Registrant
	for rows.Next() {
		var reg domain.Registrant
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.Email, &reg.Instrument, &reg.EventDate, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registrant: %w", err)
		}
		out = append(out, reg)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate registrants: %w", rows.Err())
	}
	return out, nil
}

func (r *AttendeeRepository) ListMasterRegistrants(ctx context.Context) ([]domain.MasterRegistrant, error) {
	const query = `
SELECT email, name, event_date
FROM master_attendees
ORDER BY email ASC`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list master registrants: %w", err)
	}
	defer rows.Close()

	var out []domain.MasterRegistrant
	for rows.Next() {
		var m domain.MasterRegistrant
		if err := rows.Scan(&m.Email, &m.Name, &m.EventDate); err != nil {
			return nil, fmt.Errorf("scan master registrant: %w", err)
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate master registrants: %w", rows.Err())
	}
	return out, nil
}

// ArchiveRegistrant upserts reg into the master list keyed by email. Inside a
// transaction it runs in its own savepoint, so a failed row leaves the outer
// transaction usable.
func (r *AttendeeRepository) ArchiveRegistrant(ctx context.Context, reg domain.Registrant) error {
	const stmt = `
INSERT INTO master_attendees (email, name, event_date, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (email) DO UPDATE
SET name = EXCLUDED.name, event_date = EXCLUDED.event_date, updated_at = NOW()`

	return withSavepoint(ctx, func(spCtx context.Context) error {
		if _, err := r.exec(spCtx, stmt, reg.Email, reg.Name, reg.EventDate); err != nil {
			return fmt.Errorf("archive registrant %s: %w", reg.Email, err)
		}
		return nil
	})
}

// DeleteRegistrants removes the given active registrants and reports how
// many rows went away.
func (r *AttendeeRepository) DeleteRegistrants(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const stmt = `DELETE FROM attendees WHERE id = ANY($1::uuid[])`
	tag, err := r.exec(ctx, stmt, ids)
	if err != nil {
		return 0, fmt.Errorf("delete registrants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *AttendeeRepository) SetSpotsTaken(ctx context.Context, cycleID int64, taken int) error {
	const stmt = `UPDATE event_details SET spots_taken = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.exec(ctx, stmt, cycleID, taken)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrCapacityBelowTaken
		}
		return fmt.Errorf("set spots taken: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCycleNotFound
	}
	return nil
}
