package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/auth"
	"github.com/ticketguard/ticketing/internal/custody"
	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/repository"
)

// AuthService registers accounts and issues session tokens. Registration is
// the single place custodial wallets are created: every account gets a fresh
// keypair whose private key is stored only in encrypted form.
type AuthService struct {
	users      repository.UserRepository
	custody    *custody.Custody
	tokens     *auth.TokenManager
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies bundles collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Custody    *custody.Custody
	Tokens     *auth.TokenManager
	Logger     *zap.Logger
	BcryptCost int
}

// Session is an authenticated user plus their signed token.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// NewAuthService constructs the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		custody:    deps.Custody,
		tokens:     deps.Tokens,
		logger:     deps.Logger,
		bcryptCost: deps.BcryptCost,
	}
}

// Register creates an account with a custodial wallet. For external identity
// providers a repeated registration of a known email degrades to a login; for
// password accounts it is a conflict.
func (s *AuthService) Register(ctx context.Context, email, password, provider string) (Session, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return Session{}, err
	}
	if existing != nil {
		if provider != "" && provider != domain.ProviderCredentials && existing.Auth.Provider() == provider {
			return s.session(existing)
		}
		return Session{}, domain.ErrEmailTaken
	}

	var method domain.AuthMethod
	if provider == "" || provider == domain.ProviderCredentials {
		hash, err := auth.HashPassword(password, s.bcryptCost)
		if err != nil {
			return Session{}, err
		}
		method = domain.PasswordCredential{Hash: hash}
	} else {
		method = domain.ExternalIdentity{Name: provider}
	}

	address, encrypted, err := s.custody.NewCredential()
	if err != nil {
		return Session{}, err
	}

	user := &domain.User{
		Email:               email,
		Auth:                method,
		Role:                domain.UserRoleMember,
		WalletAddress:       address,
		EncryptedPrivateKey: encrypted,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("provider", user.Auth.Provider()),
		zap.String("wallet", user.WalletAddress),
	)
	return s.session(user)
}

// Login authenticates a password account.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return Session{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	credential, ok := user.Auth.(domain.PasswordCredential)
	if !ok {
		return Session{}, domain.ErrInvalidCredentials
	}
	if err := auth.ComparePassword(credential.Hash, password); err != nil {
		return Session{}, domain.ErrInvalidCredentials
	}
	return s.session(user)
}

// Profile loads a user by id.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) session(user *domain.User) (Session, error) {
	token, expiresAt, err := s.tokens.GenerateToken(user)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
