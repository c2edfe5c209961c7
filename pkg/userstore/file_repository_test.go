package userstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestFileStore_Persistence(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	var id string
	inTx(t, store, func(ctx context.Context, tx Tx) {
		rec, err := tx.Create(ctx, "alice")
		require.NoError(t, err)
		rec.Phone = StringPtr("+15550100")
		require.NoError(t, tx.Update(ctx, rec))
		id = rec.ID
	})

	_, err = os.Stat(filepath.Join(dir, fileStoreName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, fileStoreName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	// Reopen and verify the committed state survived
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	inTx(t, reopened, func(ctx context.Context, tx Tx) {
		rec, err := tx.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "alice", rec.Username)
		assert.Equal(t, "+15550100", StringValue(rec.Phone))
	})
}

func TestFileStore_RollbackDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = os.Stat(filepath.Join(dir, fileStoreName))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileStoreName), nil, 0600))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	inTx(t, store, func(ctx context.Context, tx Tx) {
		count, err := tx.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileStoreName), []byte("{not json"), 0600))

	_, err := NewFileStore(dir)
	assert.Error(t, err)
}
