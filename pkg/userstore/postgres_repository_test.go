package userstore

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts a PostgreSQL container with the reference schema applied
func setupTestDatabase(t *testing.T) (string, *pgxpool.Pool) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("federation_db"),
		postgres.WithUsername("federation"),
		postgres.WithPassword("pwd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connString))
	// a second run is a no-op
	require.NoError(t, RunMigrations(connString))

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return connString, pool
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	_, pool := setupTestDatabase(t)
	runStoreTests(t, func(t *testing.T) Store {
		_, err := pool.Exec(context.Background(), "TRUNCATE federated_user")
		require.NoError(t, err)
		return NewPostgresStore(pool, DefaultTableMapping())
	})
}

func TestPostgresStore_ConcurrentCreateConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	_, pool := setupTestDatabase(t)
	store := NewPostgresStore(pool, DefaultTableMapping())
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx1.Create(ctx, "alice")
	require.NoError(t, err)

	// the second insert blocks on the uncommitted row and fails once tx1 commits
	done := make(chan error, 1)
	go func() {
		tx2, err := store.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		defer tx2.Rollback(ctx)
		_, err = tx2.Create(ctx, "alice")
		if err == nil {
			err = tx2.Commit(ctx)
		}
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, tx1.Commit(ctx))

	err = <-done
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "got %v", err)
}

func TestPostgresStore_CustomTableMapping(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	_, pool := setupTestDatabase(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE legacy_accounts (
			account_id UUID PRIMARY KEY,
			login      TEXT NOT NULL UNIQUE,
			mail       TEXT,
			secret     TEXT,
			mobile     TEXT
		)`)
	require.NoError(t, err)

	store := NewPostgresStore(pool, TableMapping{
		Table:    "legacy_accounts",
		ID:       "account_id",
		Username: "login",
		Email:    "mail",
		Password: "secret",
		Phone:    "mobile",
	})

	var id string
	inTx(t, store, func(ctx context.Context, tx Tx) {
		rec, err := tx.Create(ctx, "legacy")
		require.NoError(t, err)
		id = rec.ID
		rec.Password = StringPtr("pw")
		require.NoError(t, tx.Update(ctx, rec))
	})

	inTx(t, store, func(ctx context.Context, tx Tx) {
		rec, err := tx.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "legacy", rec.Username)
		assert.Equal(t, "pw", StringValue(rec.Password))
		assert.True(t, rec.CreatedAt.IsZero())

		// a key that is not a valid UUID is simply absent
		rec, err = tx.FindByID(ctx, "not-a-uuid")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestGormStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	connString, pool := setupTestDatabase(t)
	store, err := NewGormStore(GormConfig{
		Dialect:     GormDialectPostgres,
		DSN:         connString,
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreTests(t, func(t *testing.T) Store {
		_, err := pool.Exec(context.Background(), "TRUNCATE federated_user")
		require.NoError(t, err)
		return store
	})
}

func TestNewStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	connString, _ := setupTestDatabase(t)
	store, err := NewStore(context.Background(), DriverPostgres, RepositoryConfig{
		URL:         connString,
		AutoMigrate: true,
		MaxConns:    4,
	})
	require.NoError(t, err)
	defer store.Close()

	inTx(t, store, func(ctx context.Context, tx Tx) {
		_, err := tx.Create(ctx, "alice")
		require.NoError(t, err)
	})
}
