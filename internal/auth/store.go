package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	MagicLinks(ctx context.Context) MagicLinkStore
}

// AccountStore manages accounts. Emails are compared lower-cased.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// MagicLinkStore manages single-use login links.
type MagicLinkStore interface {
	Create(ctx context.Context, link *MagicLink) error
	// FindByToken looks a link up by the raw token the client presented.
	FindByToken(ctx context.Context, rawToken string) (*MagicLink, error)
	// MarkUsed flips used from false to true and reports whether this call
	// did so. Concurrent callers observe exactly one true.
	MarkUsed(ctx context.Context, id string) (bool, error)
}
