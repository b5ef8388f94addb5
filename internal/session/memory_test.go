package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := Session{AccountID: "acc-1", Email: "a@example.com", Role: "client", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Put(ctx, "sid-1", s, time.Hour))

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	_, err = store.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, "sid-1"))
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))

	require.NoError(t, store.Put(ctx, "sid", Session{AccountID: "acc"}, time.Minute))

	clock.Advance(59 * time.Second)
	_, err := store.Get(ctx, "sid")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = store.Get(ctx, "sid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_SweepsExpiredOnPut(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))

	require.NoError(t, store.Put(ctx, "old", Session{AccountID: "a"}, time.Second))
	clock.Advance(2 * time.Second)
	require.NoError(t, store.Put(ctx, "new", Session{AccountID: "b"}, time.Hour))

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_RejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Put(context.Background(), "", Session{}, time.Hour))
	assert.Error(t, store.Put(context.Background(), "sid", Session{}, 0))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "session:abc", Key("abc"))
}
