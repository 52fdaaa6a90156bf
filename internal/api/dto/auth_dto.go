package dto

import (
	"time"

	"github.com/ticketguard/ticketing/internal/domain"
)

// RegisterRequest payload for account creation. Provider is empty for
// password accounts; a non-empty value names an external identity provider
// and makes the password optional.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Provider string `json:"provider"`
}

// LoginRequest payload for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account. The encrypted signing
// credential is never part of it.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Provider      string `json:"provider"`
	WalletAddress string `json:"wallet_address"`
}

// NewUserResponse maps a user to its public view.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          string(user.Role),
		Provider:      user.Auth.Provider(),
		WalletAddress: user.WalletAddress,
	}
}
