package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketguard/ticketing/internal/domain"
)

// WaitlistRepository encapsulates waitlist persistence. Position is never
// stored: it is computed as a rank over WAITING entries, ordered by creation
// time with id as the tie break.
type WaitlistRepository interface {
	// UpsertWaiting creates the (user, event) entry or reactivates a
	// cancelled one; the original creation time is kept, so a returning user
	// resumes their old rank.
	UpsertWaiting(ctx context.Context, userID, eventID string) (*domain.WaitlistEntry, error)
	GetByUserAndEvent(ctx context.Context, userID, eventID string) (*domain.WaitlistEntry, error)
	Cancel(ctx context.Context, userID, eventID string) error
	Position(ctx context.Context, entry *domain.WaitlistEntry) (int, error)
	ListWaiting(ctx context.Context, eventID string) ([]domain.WaitlistEntry, error)
	// MarkFulfilledIfWaiting flips the entry to FULFILLED only while it is
	// still WAITING, so lottery selection cannot race a concurrent leave.
	MarkFulfilledIfWaiting(ctx context.Context, entryID string) (bool, error)
	CountWaiting(ctx context.Context, eventID string) (int, error)
}

type waitlistRepository struct {
	pool *pgxpool.Pool
}

// NewWaitlistRepository instantiates repository.
func NewWaitlistRepository(pool *pgxpool.Pool) WaitlistRepository {
	return &waitlistRepository{pool: pool}
}

const waitlistColumns = `id, user_id, event_id, status, created_at, updated_at`

func (r *waitlistRepository) UpsertWaiting(ctx context.Context, userID, eventID string) (*domain.WaitlistEntry, error) {
	const query = `
        INSERT INTO waitlist (user_id, event_id, status)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, event_id)
        DO UPDATE SET status=$3, updated_at=NOW()
        RETURNING ` + waitlistColumns

	var entry domain.WaitlistEntry
	if err := r.pool.QueryRow(ctx, query, userID, eventID, domain.WaitlistStatusWaiting).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.EventID,
		&entry.Status,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *waitlistRepository) GetByUserAndEvent(ctx context.Context, userID, eventID string) (*domain.WaitlistEntry, error) {
	const query = `SELECT ` + waitlistColumns + ` FROM waitlist WHERE user_id=$1 AND event_id=$2`

	var entry domain.WaitlistEntry
	if err := r.pool.QueryRow(ctx, query, userID, eventID).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.EventID,
		&entry.Status,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWaitlistNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *waitlistRepository) Cancel(ctx context.Context, userID, eventID string) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE waitlist SET status=$1, updated_at=NOW()
        WHERE user_id=$2 AND event_id=$3 AND status=$4`,
		domain.WaitlistStatusCancelled, userID, eventID, domain.WaitlistStatusWaiting,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrWaitlistNotFound
	}
	return nil
}

func (r *waitlistRepository) Position(ctx context.Context, entry *domain.WaitlistEntry) (int, error) {
	var position int
	err := r.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM waitlist
        WHERE event_id=$1 AND status=$2
          AND (created_at < $3 OR (created_at = $3 AND id <= $4))`,
		entry.EventID, domain.WaitlistStatusWaiting, entry.CreatedAt, entry.ID,
	).Scan(&position)
	return position, err
}

func (r *waitlistRepository) ListWaiting(ctx context.Context, eventID string) ([]domain.WaitlistEntry, error) {
	const query = `SELECT ` + waitlistColumns + `
        FROM waitlist WHERE event_id=$1 AND status=$2
        ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, eventID, domain.WaitlistStatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WaitlistEntry
	for rows.Next() {
		var entry domain.WaitlistEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.EventID,
			&entry.Status,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *waitlistRepository) MarkFulfilledIfWaiting(ctx context.Context, entryID string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE waitlist SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`,
		domain.WaitlistStatusFulfilled, entryID, domain.WaitlistStatusWaiting,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *waitlistRepository) CountWaiting(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM waitlist WHERE event_id=$1 AND status=$2`,
		eventID, domain.WaitlistStatusWaiting,
	).Scan(&count)
	return count, err
}
