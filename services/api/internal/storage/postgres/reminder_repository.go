package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type ReminderRepository struct {
	conn
}

func NewReminderRepository(pool *pgxpool.Pool) *ReminderRepository {
	return &ReminderRepository{conn: conn{pool: pool}}
}

// ScheduleReminder stores a pending reminder. A second reminder for the same
// recipient and event date is ignored; the return value reports whether a row
// was created.
func (r *ReminderRepository) ScheduleReminder(ctx context.Context, rem domain.Reminder) (bool, error) {
	const stmt = `
INSERT INTO scheduled_reminders (id, email, name, event_date, due_at, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
ON CONFLICT (email, event_date) DO NOTHING`

	tag, err := r.exec(ctx, stmt, rem.ID, rem.Email, rem.Name, rem.EventDate, rem.DueAt, rem.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrReminderNotFound
		}
		return false, fmt.Errorf("schedule reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDueReminders leases up to limit pending reminders due at or before
// now. Rows leased by another worker are skipped until their lease runs out.
func (r *ReminderRepository) ClaimDueReminders(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Reminder, error) {
	const stmt = `
UPDATE scheduled_reminders
SET lease_until = $2, updated_at = $1
WHERE id IN (
	SELECT id FROM scheduled_reminders
	WHERE status = 'pending'
		AND due_at <= $1
		AND (lease_until IS NULL OR lease_until < $1)
	ORDER BY due_at ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING id, email, name, event_date, due_at, status, attempts, last_error, created_at`

	rows, err := r.query(ctx, stmt, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		if err := rows.Scan(
			&rem.ID,
			&rem.Email,
			&rem.Name,
			&rem.EventDate,
			&rem.DueAt,
			&rem.Status,
			&rem.Attempts,
			&rem.LastError,
			&rem.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, rem)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate reminders: %w", rows.Err())
	}
	return out, nil
}

// CompleteReminder moves a claimed reminder to a final status.
func (r *ReminderRepository) CompleteReminder(ctx context.Context, id string, status domain.ReminderStatus, attempts int, lastError string) error {
	const stmt = `
UPDATE scheduled_reminders
SET status = $2, attempts = $3, last_error = $4, lease_until = NULL, updated_at = NOW()
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, status, attempts, lastError)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrReminderNotFound
		}
		return fmt.Errorf("complete reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

// RetryReminder releases a claimed reminder and pushes it to dueAt.
func (r *ReminderRepository) RetryReminder(ctx context.Context, id string, attempts int, dueAt time.Time, lastError string) error {
	const stmt = `
UPDATE scheduled_reminders
SET attempts = $2, due_at = $3, last_error = $4, lease_until = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'pending'`

	tag, err := r.exec(ctx, stmt, id, attempts, dueAt, lastError)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrReminderNotFound
		}
		return fmt.Errorf("retry reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}
