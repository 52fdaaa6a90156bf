package domain

import "time"

// UserRole differentiates end-users from platform admins.
type UserRole string

const (
	UserRoleMember UserRole = "MEMBER"
	UserRoleAdmin  UserRole = "ADMIN"
)

// AuthMethod is the tagged variant for how an account authenticates:
// a local password credential or a delegated external identity.
type AuthMethod interface {
	Provider() string
}

// PasswordCredential is a local account secured by a bcrypt hash.
type PasswordCredential struct {
	Hash string
}

func (PasswordCredential) Provider() string { return ProviderCredentials }

// ExternalIdentity is an account delegated to an external identity provider;
// no password is stored for it.
type ExternalIdentity struct {
	Name string
}

func (e ExternalIdentity) Provider() string { return e.Name }

const ProviderCredentials = "credentials"

// User owns a custodial wallet on the ledger. WalletAddress and
// EncryptedPrivateKey are assigned once at registration and are immutable for
// the lifetime of the account.
type User struct {
	ID                  string
	Email               string
	Auth                AuthMethod
	Role                UserRole
	WalletAddress       string
	EncryptedPrivateKey string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PasswordHash returns the stored bcrypt hash, or nil for external accounts.
func (u *User) PasswordHash() *string {
	if cred, ok := u.Auth.(PasswordCredential); ok {
		return &cred.Hash
	}
	return nil
}
