package redis

import (
	"context"
	"testing"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
	"github.com/qslabs/schoolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(token, userID string, expiresAt time.Time) domainauth.Session {
	return domainauth.Session{
		Token:    token,
		UserID:   userID,
		Username: "user-" + userID,
		Role:     domainauth.RoleStudent,
	}.WithExpiry(expiresAt)
}

func TestSessionStore_SaveAndGet(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	sess := newSession("tok-1", "42", time.Now().Add(30*time.Minute))
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.Username, got.Username)
	assert.Equal(t, sess.Role, got.Role)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, *sess.ExpiresAt, *got.ExpiresAt, time.Second)
}

func TestSessionStore_TTLFromExpiry(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	store := NewSessionStoreWithOptions(client, StoreOptions{Now: testutil.FixedTimeFunc(now)})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("tok-ttl", "1", now.Add(10*time.Minute))))
	assert.Equal(t, 10*time.Minute, mr.TTL(DefaultPrefix+"tok-ttl"))

	mr.FastForward(11 * time.Minute)
	_, err := store.Get(ctx, "tok-ttl")
	assert.Equal(t, ErrNotFound, err)
}

func TestSessionStore_DefaultTTLWithoutExpiry(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)

	sess := domainauth.Session{Token: "forever", UserID: "9"}
	require.NoError(t, store.Save(context.Background(), sess))
	assert.Equal(t, DefaultTTL, mr.TTL(DefaultPrefix+"forever"))
}

func TestSessionStore_GetPastExpiryCleansUp(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	clock := testutil.NewClock(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	store := NewSessionStoreWithOptions(client, StoreOptions{Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("tok-edge", "1", clock.Now().Add(time.Minute))))
	clock.Advance(time.Minute)

	_, err := store.Get(ctx, "tok-edge")
	assert.Equal(t, ErrNotFound, err)
	assert.False(t, mr.Exists(DefaultPrefix+"tok-edge"))
}

func TestSessionStore_Delete(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("tok-del", "1", time.Now().Add(time.Hour))))
	require.NoError(t, store.Delete(ctx, "tok-del"))
	_, err := store.Get(ctx, "tok-del")
	assert.Equal(t, ErrNotFound, err)

	// Idempotent.
	require.NoError(t, store.Delete(ctx, "tok-del"))
	require.NoError(t, store.Delete(ctx, ""))
}

func TestSessionStore_CustomPrefix(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	store := NewSessionStoreWithOptions(client, StoreOptions{Prefix: "sms:"})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("p1", "1", time.Now().Add(time.Hour))))
	assert.True(t, mr.Exists("sms:p1"))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Token)
}

func TestSessionStore_SaveRejects(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	err := store.Save(ctx, domainauth.Session{UserID: "1"})
	require.ErrorContains(t, err, "session token cannot be empty")

	err = store.Save(ctx, newSession("old", "1", time.Now().Add(-time.Hour)))
	require.ErrorContains(t, err, "session is expired")
}

func TestSessionStore_GetEmptyToken(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	_, err := store.Get(context.Background(), "")
	assert.Equal(t, ErrNotFound, err)
}

func TestSessionStore_ListCountDeleteByUser(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, newSession("b", "2", exp)))
	require.NoError(t, store.Save(ctx, newSession("a2", "1", exp)))
	require.NoError(t, store.Save(ctx, newSession("a1", "1", exp)))
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a1", "a2", "b"}, []string{list[0].Token, list[1].Token, list[2].Token})

	removed, err := store.DeleteByUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSessionStore_ListSkipsCorruptEntries(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("good", "1", time.Now().Add(time.Hour))))
	require.NoError(t, mr.Set(DefaultPrefix+"bad", "{not json"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Token)
}

func TestErrNotFound_MatchesPort(t *testing.T) {
	assert.ErrorIs(t, ErrNotFound, ports.ErrSessionNotFound)
}
