package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costtrack/pkg/cost/alerts"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(context.Background(), SQLConfig{
		Dialect: DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "costtrack.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore_Contract(t *testing.T) {
	storeContract(t, openTestSQLite(t))
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenSQL_Validation(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLConfig{})
	assert.Error(t, err)

	_, err = OpenSQL(context.Background(), SQLConfig{Dialect: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestSQLStore_Catalog(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t).Catalog()

	ram := consumption.Item{Type: consumption.ItemRAM, Key: "1 MB"}
	item, err := repo.UpsertDefault(ctx, catalog.DefaultItem{
		ResourceKind: "openstack.instance",
		Item:         ram,
		Name:         "RAM",
		HourlyRate:   money.Rate(10),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, item.ID)

	// Upserting the same item keeps its id.
	again, err := repo.UpsertDefault(ctx, catalog.DefaultItem{
		ResourceKind: "openstack.instance",
		Item:         ram,
		Name:         "RAM",
		HourlyRate:   money.Rate(12),
	})
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)

	defaults, err := repo.ListDefaults(ctx, "openstack.instance")
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, money.Rate(12), defaults[0].HourlyRate)

	o, err := repo.UpsertOverride(ctx, "s1", item.ID, money.Rate(8))
	require.NoError(t, err)
	assert.Equal(t, "s1", o.Service)

	_, err = repo.UpsertOverride(ctx, "s1", uuid.New(), money.Rate(8))
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	assert.ErrorIs(t, repo.DeleteDefault(ctx, item.ID), catalog.ErrDefaultInUse)

	overrides, err := repo.ListOverrides(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, money.Rate(8), overrides[0].HourlyRate)

	require.NoError(t, repo.DeleteOverride(ctx, "s1", item.ID))
	assert.ErrorIs(t, repo.DeleteOverride(ctx, "s1", item.ID), catalog.ErrNotFound)
	require.NoError(t, repo.DeleteDefault(ctx, item.ID))
	assert.ErrorIs(t, repo.DeleteDefault(ctx, item.ID), catalog.ErrNotFound)
}

func TestSQLStore_CatalogRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t).Catalog()

	for key, wantErr := range map[string]bool{
		strings.Repeat("k", consumption.MaxKeyLength):   false,
		strings.Repeat("k", consumption.MaxKeyLength+1): true,
		"1 \xc3MB": true,
	} {
		_, err := repo.UpsertDefault(ctx, catalog.DefaultItem{
			ResourceKind: "openstack.instance",
			Item:         consumption.Item{Type: consumption.ItemStorage, Key: key},
			HourlyRate:   money.Rate(10),
		})
		if wantErr {
			assert.ErrorIs(t, err, consumption.ErrInvalidItem, "key of %d bytes", len(key))
		} else {
			assert.NoError(t, err, "key of %d bytes", len(key))
		}
	}

	items, err := repo.ListDefaults(ctx, "openstack.instance")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSQLStore_Alerts(t *testing.T) {
	ctx := context.Background()
	sink := openTestSQLite(t).Alerts()
	ref := scope.Project("p1")

	opened, err := sink.Open(ctx, ref, alerts.TypeThresholdExceeded, alerts.SeverityWarning, "over")
	require.NoError(t, err)
	assert.True(t, opened)

	opened, err = sink.Open(ctx, ref, alerts.TypeThresholdExceeded, alerts.SeverityWarning, "over")
	require.NoError(t, err)
	assert.False(t, opened)

	open, err := sink.ListOpen(ctx, alerts.TypeThresholdExceeded)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, ref, open[0].Scope)

	closed, err := sink.Close(ctx, ref, alerts.TypeThresholdExceeded)
	require.NoError(t, err)
	assert.True(t, closed)

	opened, err = sink.Open(ctx, ref, alerts.TypeThresholdExceeded, alerts.SeverityWarning, "over again")
	require.NoError(t, err)
	assert.True(t, opened)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, DialectPostgres, nil), mock
}

func TestSQLStore_UpdateConflictOnVersionMismatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE price_estimates SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	e := estimate.New(keyOf(scope.Project("p1")))
	e.Version = 3
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateEstimate(ctx, e)
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(3), e.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE price_estimates SET total = total \+ \$1, updated_at = \$2 WHERE scope_kind = \$3`).
		WithArgs(int64(250), sqlmock.AnyArg(), "project", "p1", 2016, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.AddToTotal(ctx, keyOf(scope.Project("p1")), 250)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SerializationFailureIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE price_estimates SET total`).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.AddToTotal(ctx, keyOf(scope.Project("p1")), 1)
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrConflict},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrConflict},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), ErrConflict},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	unique := &pgconn.PgError{Code: "23505"}
	assert.Same(t, unique, mapError(unique))
}

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, DialectPostgres.rebind(q))
}

func TestSQLStore_TimesAreSeconds(t *testing.T) {
	s := openTestSQLite(t)
	s.now = func() time.Time { return time.Date(2016, 8, 8, 11, 0, 30, 999, time.UTC) }

	key := keyOf(scope.Customer("c1"))
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertEstimate(ctx, estimate.New(key))
	}))
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		e, err := tx.GetEstimate(ctx, key)
		require.NoError(t, err)
		assert.True(t, e.CreatedAt.Equal(time.Date(2016, 8, 8, 11, 0, 30, 0, time.UTC)))
		return nil
	}))
}
