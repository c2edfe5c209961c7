// Package userstore provides access to the externally owned user table that
// simple-federation adapts into canonical users.
//
// A Store hands out transactions (Tx); every federation request runs inside
// exactly one of them. A Tx is also a Repository offering exact lookups,
// create/remove, counting and filtered, paginated search.
//
// # Backends
//
//   - memory: InMemoryStore, staged transactions validated on commit
//   - file: FileStore, JSON snapshot written atomically on commit
//   - postgres: PostgresStore on a pgx pool, raw parameterized SQL
//   - gorm-postgres / gorm-sqlite: GormStore
//
// Use NewStore to pick a backend from the configured driver identifier:
//
//	store, err := userstore.NewStore(ctx, "postgres", userstore.RepositoryConfig{
//		URL:      "postgres://localhost:5432/users",
//		Username: "federation",
//		Password: "pwd",
//	})
//
//	tx, err := store.Begin(ctx)
//	defer tx.Rollback(ctx)
//	rec, err := tx.FindByUsername(ctx, "alice")
//	if rec == nil {
//		// not found is a normal outcome
//	}
//	err = tx.Commit(ctx)
//
// # Errors
//
// Lookups never fail for a missing record; they return nil. Duplicate usernames
// surface as errors.ErrCodeConflict, connectivity or driver failures as
// errors.ErrCodeStoreUnavailable. Nothing in this package retries.
package userstore
