package auth

import "time"

// Account is a unique identity. Accounts are never deleted; deactivation is
// terminal.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	ClientID     string
	Active       bool
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// HasPassword reports whether password login is available for the account.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

// MagicLink is a single-use, time-boxed login credential. Only the SHA-256
// digest of the token is persisted.
type MagicLink struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether the link is past its expiry at now.
func (m *MagicLink) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"-"`
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Role      Role
	ClientID  string
}

// LoginResult is returned by every successful credential exchange.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}
