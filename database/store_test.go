package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/ledger"
	"settlement-service/ledger/ledgertest"
	"settlement-service/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return openTestStore(t) })
}

func TestMigrateIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestNotificationsFor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"n1", "n2"} {
		require.NoError(t, s.Commit(ctx, ledger.InsertNotification{Notification: models.Notification{
			ID: id, UserID: "u1", Type: models.NotifyEscrowFunded, Title: "t", Message: "m",
			Link: "/orders/o1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}}))
	}

	got, err := s.NotificationsFor(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID)
	assert.Equal(t, models.NotifyEscrowFunded, got[0].Type)
	assert.False(t, got[0].Read)

	err = s.Commit(ctx, ledger.InsertNotification{Notification: models.Notification{ID: "n1", UserID: "u1"}})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
}

func TestTimestampsKeepMilliseconds(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 123_000_000, time.FixedZone("x", 3600))
	assert.True(t, at.Equal(fromMillis(toMillis(at))))
	assert.Nil(t, fromNullMillis(nullMillis(nil)))
}
