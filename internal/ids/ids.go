// Package ids mints the primary keys of accounts and magic links.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID. Keys sort in creation order, so listing accounts by id
// lists them oldest first.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether id has the shape produced by New. Lookups use it to
// answer not-found without a store round trip.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Time extracts the creation instant of id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
