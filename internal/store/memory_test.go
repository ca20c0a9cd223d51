package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
)

// ==========================
// Helpers
// ==========================

func testMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewMemoryStore(client, logger.NewTestLogger(t))
}

// ==========================
// Preferences
// ==========================

func TestPreferencesRoundTrip(t *testing.T) {
	m := testMemoryStore(t)
	ctx := context.Background()

	want := Preferences{PreferredVisualization: "bar_chart", DetailLevel: "detailed"}
	require.NoError(t, m.SetPreferences(ctx, "dealer_1", want))

	got, err := m.GetPreferences(ctx, "dealer_1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPreferencesDefaultWhenMissing(t *testing.T) {
	m := testMemoryStore(t)

	got, err := m.GetPreferences(context.Background(), "unknown")

	require.NoError(t, err)
	assert.Equal(t, Preferences{}, got)
}

// ==========================
// Interactions
// ==========================

func TestInteractionsNewestFirst(t *testing.T) {
	m := testMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, m.StoreInteraction(ctx, "dealer_1", Interaction{TaskID: "TASK-aaaaaaaa", Query: "first"}))
	require.NoError(t, m.StoreInteraction(ctx, "dealer_1", Interaction{TaskID: "TASK-bbbbbbbb", Query: "second"}))

	got, err := m.RecentInteractions(ctx, "dealer_1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Query)
	assert.Equal(t, "first", got[1].Query)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestInteractionsBounded(t *testing.T) {
	m := testMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < maxStoredInteractions+10; i++ {
		require.NoError(t, m.StoreInteraction(ctx, "dealer_1", Interaction{Query: "q"}))
	}

	got, err := m.RecentInteractions(ctx, "dealer_1", maxStoredInteractions*2)
	require.NoError(t, err)
	assert.Len(t, got, maxStoredInteractions)
}

func TestInteractionsIsolatedByDealership(t *testing.T) {
	m := testMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, m.StoreInteraction(ctx, "dealer_1", Interaction{Query: "mine"}))

	got, err := m.RecentInteractions(ctx, "dealer_2", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ==========================
// Redis failures
// ==========================

func TestGetPreferencesRedisFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewMemoryStore(client, logger.NewTestLogger(t))

	mock.ExpectGet(prefsKeyPrefix + "dealer_1").SetErr(errors.New("connection refused"))

	_, err := m.GetPreferences(context.Background(), "dealer_1")

	require.Error(t, err)
	stdErr, ok := stderrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeMemoryStoreFailed, stdErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentInteractionsRedisFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewMemoryStore(client, logger.NewTestLogger(t))

	mock.ExpectLRange(interactionsKeyPrefix+"dealer_1", 0, 9).SetErr(errors.New("connection refused"))

	_, err := m.RecentInteractions(context.Background(), "dealer_1", 10)

	require.Error(t, err)
	stdErr, ok := stderrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeMemoryStoreFailed, stdErr.Code)
}
