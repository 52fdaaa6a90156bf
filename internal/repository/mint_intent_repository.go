package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketguard/ticketing/internal/domain"
)

// MintIntentRepository persists the saga state around each mint submission.
type MintIntentRepository interface {
	Create(ctx context.Context, intent *domain.MintIntent) error
	MarkRecorded(ctx context.Context, id string, tokenID int64, txRef string) error
	MarkReconcile(ctx context.Context, id string, tokenID *int64, txRef *string, reason string) error
	Close(ctx context.Context, id string, reason string) error
	ListReconcilable(ctx context.Context, limit int) ([]domain.MintIntent, error)
	IncrementAttempts(ctx context.Context, id string) error
}

type mintIntentRepository struct {
	pool *pgxpool.Pool
}

// NewMintIntentRepository instantiates repository.
func NewMintIntentRepository(pool *pgxpool.Pool) MintIntentRepository {
	return &mintIntentRepository{pool: pool}
}

func (r *mintIntentRepository) Create(ctx context.Context, intent *domain.MintIntent) error {
	const query = `
        INSERT INTO mint_intents (user_id, event_id, state)
        VALUES ($1, $2, $3)
        RETURNING id, attempts, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		intent.UserID,
		intent.EventID,
		domain.MintIntentPending,
	).Scan(&intent.ID, &intent.Attempts, &intent.CreatedAt, &intent.UpdatedAt)
}

func (r *mintIntentRepository) MarkRecorded(ctx context.Context, id string, tokenID int64, txRef string) error {
	_, err := r.pool.Exec(ctx, `
        UPDATE mint_intents SET state=$1, token_id=$2, tx_ref=$3, reason=NULL, updated_at=NOW()
        WHERE id=$4`,
		domain.MintIntentRecorded, tokenID, txRef, id,
	)
	return err
}

func (r *mintIntentRepository) MarkReconcile(ctx context.Context, id string, tokenID *int64, txRef *string, reason string) error {
	_, err := r.pool.Exec(ctx, `
        UPDATE mint_intents SET state=$1, token_id=COALESCE($2, token_id),
            tx_ref=COALESCE($3, tx_ref), reason=$4, updated_at=NOW()
        WHERE id=$5`,
		domain.MintIntentReconcile, tokenID, txRef, reason, id,
	)
	return err
}

func (r *mintIntentRepository) Close(ctx context.Context, id string, reason string) error {
	_, err := r.pool.Exec(ctx, `
        UPDATE mint_intents SET state=$1, reason=$2, updated_at=NOW()
        WHERE id=$3`,
		domain.MintIntentClosed, reason, id,
	)
	return err
}

func (r *mintIntentRepository) ListReconcilable(ctx context.Context, limit int) ([]domain.MintIntent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, user_id, event_id, token_id, tx_ref, state, reason, attempts, created_at, updated_at
        FROM mint_intents WHERE state=$1
        ORDER BY created_at ASC
        LIMIT $2`,
		domain.MintIntentReconcile, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.MintIntent
	for rows.Next() {
		var intent domain.MintIntent
		if err := rows.Scan(
			&intent.ID,
			&intent.UserID,
			&intent.EventID,
			&intent.TokenID,
			&intent.TxRef,
			&intent.State,
			&intent.Reason,
			&intent.Attempts,
			&intent.CreatedAt,
			&intent.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, intent)
	}
	return result, rows.Err()
}

func (r *mintIntentRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mint_intents SET attempts=attempts+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}
