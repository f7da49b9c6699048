package alarms

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

var errTestQuery = errors.New("connection reset")

// TestSQLiteRoundTrip verifies schema creation, upserts and deletes on a real SQLite file.
func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "alarms.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	s := NewSQL(db, DriverSQLite)
	require.NoError(t, s.CreateSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))

	fireDate := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, domain.Alarm{ID: "b", State: domain.StateScheduled, FireDate: &fireDate}))
	require.NoError(t, s.Put(ctx, domain.Alarm{ID: "a", State: domain.StateCountdown}))
	require.NoError(t, s.Put(ctx, domain.Alarm{ID: "b", State: domain.StateRunning, FireDate: &fireDate}))

	got, err := s.CurrentAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].Equal(domain.Alarm{ID: "a", State: domain.StateCountdown}))
	require.True(t, got[1].Equal(domain.Alarm{ID: "b", State: domain.StateRunning, FireDate: &fireDate}))

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "missing"))

	got, err = s.CurrentAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestSQLErrors verifies driver failures and bad rows are reported.
func TestSQLErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	s := NewSQL(db, DriverPostgres)

	mock.ExpectQuery("SELECT id, state, fire_at_ms FROM alarms").
		WillReturnError(errTestQuery)

	_, err = s.CurrentAlarms(ctx)
	require.ErrorIs(t, err, errTestQuery)

	mock.ExpectQuery("SELECT id, state, fire_at_ms FROM alarms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "fire_at_ms"}).AddRow("x", "ringing", nil))

	_, err = s.CurrentAlarms(ctx)
	require.ErrorIs(t, err, domain.ErrUnknownState)

	mock.ExpectExec(`INSERT INTO alarms \(id, state, fire_at_ms\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("a", "paused", nil).
		WillReturnError(errTestQuery)

	err = s.Put(ctx, domain.Alarm{ID: "a", State: domain.StatePaused})
	require.ErrorIs(t, err, errTestQuery)

	mock.ExpectExec(`DELETE FROM alarms WHERE id = \$1`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestOpenSQLUnsupportedDriver verifies unknown drivers are refused before opening.
func TestOpenSQLUnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := OpenSQL(context.Background(), "mysql", "")
	require.Error(t, err)
}
