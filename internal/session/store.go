// Package session holds the server-side records that make signed tokens
// revocable. A token is honoured only while its session entry exists.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the session is absent or expired.
var ErrNotFound = errors.New("session: not found")

const keyPrefix = "session:"

// Session is the record stored per login. It is never mutated after Put.
type Session struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a key-value store with per-entry TTL.
type Store interface {
	Put(ctx context.Context, id string, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// Key returns the storage key for a session id.
func Key(id string) string {
	return keyPrefix + id
}
