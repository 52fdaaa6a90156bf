package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketguard/ticketing/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
//
// CreateWithinCapacity is the authoritative capacity check: the event row is
// locked for the duration of the count-and-insert so two concurrent purchases
// of the last seat cannot both commit.
type TicketRepository interface {
	CreateWithinCapacity(ctx context.Context, ticket *domain.Ticket) error
	MarkRefunded(ctx context.Context, ticketID, ownerID string) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByTokenID(ctx context.Context, tokenID int64) (*domain.Ticket, error)
	ListOwnedByUser(ctx context.Context, userID string) ([]domain.Ticket, error)
	ListTokenIDsByUser(ctx context.Context, userID string) ([]int64, error)
	OwnsForEvent(ctx context.Context, userID, eventID string) (bool, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, token_id, status, owner_id, event_id, created_at`

func (r *ticketRepository) CreateWithinCapacity(ctx context.Context, ticket *domain.Ticket) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var capacity int
		if err := tx.QueryRow(ctx,
			`SELECT total_tickets FROM events WHERE id=$1 FOR UPDATE`,
			ticket.EventID,
		).Scan(&capacity); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrEventNotFound
			}
			return err
		}

		var owned int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets WHERE event_id=$1 AND status=$2`,
			ticket.EventID, domain.TicketStatusOwned,
		).Scan(&owned); err != nil {
			return err
		}
		if owned >= capacity {
			return domain.ErrSoldOut
		}

		return tx.QueryRow(ctx, `
            INSERT INTO tickets (token_id, status, owner_id, event_id)
            VALUES ($1,$2,$3,$4)
            RETURNING id, created_at`,
			ticket.TokenID,
			ticket.Status,
			ticket.OwnerID,
			ticket.EventID,
		).Scan(&ticket.ID, &ticket.CreatedAt)
	})
}

func (r *ticketRepository) MarkRefunded(ctx context.Context, ticketID, ownerID string) error {
	// Conditional on current state so a concurrent refund of the same ticket
	// cannot succeed twice.
	cmd, err := r.pool.Exec(ctx, `
        UPDATE tickets SET status=$1, owner_id=NULL
        WHERE id=$2 AND owner_id=$3 AND status=$4`,
		domain.TicketStatusRefunded, ticketID, ownerID, domain.TicketStatusOwned,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAlreadyRefunded
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByTokenID(ctx context.Context, tokenID int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE token_id=$1`
	return r.fetchSingle(ctx, query, tokenID)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.TokenID,
		&ticket.Status,
		&ticket.OwnerID,
		&ticket.EventID,
		&ticket.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListOwnedByUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets WHERE owner_id=$1 AND status=$2
        ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, domain.TicketStatusOwned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.TokenID,
			&ticket.Status,
			&ticket.OwnerID,
			&ticket.EventID,
			&ticket.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListTokenIDsByUser(ctx context.Context, userID string) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token_id FROM tickets WHERE owner_id=$1 AND status=$2`,
		userID, domain.TicketStatusOwned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ticketRepository) OwnsForEvent(ctx context.Context, userID, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM tickets WHERE owner_id=$1 AND event_id=$2 AND status=$3
        )`, userID, eventID, domain.TicketStatusOwned,
	).Scan(&exists)
	return exists, err
}
