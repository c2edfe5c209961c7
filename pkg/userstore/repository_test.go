package userstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-federation/pkg/errors"
)

// runStoreTests exercises the Repository contract against any backend.
// newStore must return an empty store.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("FindByIDAbsent", func(t *testing.T) {
		store := newStore(t)
		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.FindByID(ctx, uuid.New().String())
			require.NoError(t, err)
			assert.Nil(t, rec)

			rec, err = tx.FindByUsername(ctx, "nobody")
			require.NoError(t, err)
			assert.Nil(t, rec)

			rec, err = tx.FindByEmail(ctx, "nobody@example.com")
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	})

	t.Run("CreateAndFind", func(t *testing.T) {
		store := newStore(t)
		var id string
		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.Create(ctx, "alice")
			require.NoError(t, err)
			require.NotEmpty(t, rec.ID)
			assert.Equal(t, "alice", rec.Username)
			assert.Nil(t, rec.Email)
			assert.Nil(t, rec.Password)
			assert.Nil(t, rec.Phone)
			id = rec.ID

			// visible inside the creating transaction
			found, err := tx.FindByUsername(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, id, found.ID)
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			found, err := tx.FindByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "alice", found.Username)
		})
	})

	t.Run("DuplicateUsernameConflicts", func(t *testing.T) {
		store := newStore(t)
		inTx(t, store, func(ctx context.Context, tx Tx) {
			_, err := tx.Create(ctx, "alice")
			require.NoError(t, err)
		})

		ctx := context.Background()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Create(ctx, "alice")
		if err == nil {
			err = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "got %v", err)

		inTx(t, store, func(ctx context.Context, tx Tx) {
			count, err := tx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	})

	t.Run("UpdateFields", func(t *testing.T) {
		store := newStore(t)
		var id string
		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.Create(ctx, "bob")
			require.NoError(t, err)
			id = rec.ID

			rec.Email = StringPtr("bob@example.com")
			rec.Password = StringPtr("s3cret")
			rec.Phone = StringPtr("+15550100")
			require.NoError(t, tx.Update(ctx, rec))
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.FindByEmail(ctx, "bob@example.com")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, id, rec.ID)
			assert.Equal(t, "s3cret", StringValue(rec.Password))
			assert.Equal(t, "+15550100", StringValue(rec.Phone))

			rec.Password = nil
			rec.Phone = nil
			require.NoError(t, tx.Update(ctx, rec))
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.FindByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Nil(t, rec.Password)
			assert.Nil(t, rec.Phone)
			assert.Equal(t, "bob@example.com", StringValue(rec.Email))
		})
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		err = tx.Update(ctx, &Record{ID: uuid.New().String(), Username: "ghost"})
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)
	})

	t.Run("Remove", func(t *testing.T) {
		store := newStore(t)
		var id string
		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.Create(ctx, "carol")
			require.NoError(t, err)
			id = rec.ID
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			removed, err := tx.Remove(ctx, id)
			require.NoError(t, err)
			assert.True(t, removed)

			rec, err := tx.FindByID(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, rec)

			removed, err = tx.Remove(ctx, id)
			require.NoError(t, err)
			assert.False(t, removed)
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			removed, err := tx.Remove(ctx, uuid.New().String())
			require.NoError(t, err)
			assert.False(t, removed)
		})
	})

	t.Run("RollbackDiscards", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Create(ctx, "dave")
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))

		inTx(t, store, func(ctx context.Context, tx Tx) {
			rec, err := tx.FindByUsername(ctx, "dave")
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	})

	t.Run("SearchAndCount", func(t *testing.T) {
		store := newStore(t)
		inTx(t, store, func(ctx context.Context, tx Tx) {
			for _, name := range []string{"Alice", "alicia", "bob", "a_c", "abc"} {
				_, err := tx.Create(ctx, name)
				require.NoError(t, err)
			}
		})

		inTx(t, store, func(ctx context.Context, tx Tx) {
			count, err := tx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, count)

			all, err := tx.Search(ctx, "", Unbounded)
			require.NoError(t, err)
			assert.Len(t, all, 5)

			tests := []struct {
				name   string
				filter string
				page   Page
				want   []string
			}{
				{"case insensitive", "ALI", Unbounded, []string{"Alice", "alicia"}},
				{"no match", "zzz", Unbounded, []string{}},
				{"underscore is literal", "a_c", Unbounded, []string{"a_c"}},
				{"percent is literal", "%", Unbounded, []string{}},
				{"limit", "ali", Page{Limit: 1}, []string{"Alice"}},
				{"offset", "ali", Page{Offset: 1}, []string{"alicia"}},
				{"offset past end", "ali", Page{Offset: 5}, []string{}},
				{"negative means unset", "ali", Page{Offset: -1, Limit: -1}, []string{"Alice", "alicia"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					records, err := tx.Search(ctx, tt.filter, tt.page)
					require.NoError(t, err)
					got := make([]string, 0, len(records))
					for _, rec := range records {
						got = append(got, rec.Username)
					}
					assert.ElementsMatch(t, tt.want, got)
				})
			}
		})
	})
}

// inTx runs fn in a transaction and commits it
func inTx(t *testing.T, store Store, fn func(ctx context.Context, tx Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	fn(ctx, tx)
	require.NoError(t, tx.Commit(ctx))
}
