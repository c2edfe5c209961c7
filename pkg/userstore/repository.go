package userstore

import (
	"context"
)

// Repository defines the operations the federation core performs against the
// external user table. Lookups return a nil record, not an error, when nothing
// matches.
type Repository interface {
	// FindByID retrieves a record by its store-native primary key
	FindByID(ctx context.Context, id string) (*Record, error)
	// FindByUsername retrieves a record by exact username match
	FindByUsername(ctx context.Context, username string) (*Record, error)
	// FindByEmail retrieves the first record with the given email in store order
	FindByEmail(ctx context.Context, email string) (*Record, error)
	// Create allocates a fresh id and persists a record holding only username
	Create(ctx context.Context, username string) (*Record, error)
	// Update writes username, email, password and phone of an existing record
	Update(ctx context.Context, record *Record) error
	// Remove deletes the record, reporting whether it existed
	Remove(ctx context.Context, id string) (bool, error)
	// Count returns the total number of records
	Count(ctx context.Context) (int, error)
	// Search returns records whose username contains filter, case-insensitively.
	// An empty filter matches every record.
	Search(ctx context.Context, filter string, page Page) ([]*Record, error)
}

// Tx is a unit of work against the store. Rollback after Commit is a no-op.
type Tx interface {
	Repository
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions against one external user table
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
