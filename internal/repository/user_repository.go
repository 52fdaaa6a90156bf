package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketguard/ticketing/internal/domain"
)

// UserRepository defines persistence access for accounts. Wallet address and
// encrypted credential are written once at Create and never updated.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, password_hash, provider, role, wallet_address, encrypted_private_key)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash(),
		user.Auth.Provider(),
		user.Role,
		user.WalletAddress,
		user.EncryptedPrivateKey,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
        SELECT id, email, password_hash, provider, role, wallet_address, encrypted_private_key, created_at, updated_at
        FROM users WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `
        SELECT id, email, password_hash, provider, role, wallet_address, encrypted_private_key, created_at, updated_at
        FROM users WHERE email=$1`
	return r.fetchSingle(ctx, query, email)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		user         domain.User
		passwordHash *string
		provider     string
	)
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&passwordHash,
		&provider,
		&user.Role,
		&user.WalletAddress,
		&user.EncryptedPrivateKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	user.Auth = authMethodFromRow(provider, passwordHash)
	return &user, nil
}

// authMethodFromRow rebuilds the tagged auth variant from its column pair.
func authMethodFromRow(provider string, passwordHash *string) domain.AuthMethod {
	if provider == domain.ProviderCredentials && passwordHash != nil {
		return domain.PasswordCredential{Hash: *passwordHash}
	}
	return domain.ExternalIdentity{Name: provider}
}
