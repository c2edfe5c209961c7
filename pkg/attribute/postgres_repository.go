package attribute

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-federation/pkg/errors"
)

// PostgresStore implements Store on the federated_user_attribute table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL attribute store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, userID, name string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM federated_user_attribute WHERE user_id = $1 AND name = $2 ORDER BY position`,
		userID, name)
	if err != nil {
		slog.Error("Failed to get attribute", "err", err, "user_id", userID, "name", name)
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute get failed")
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute get failed")
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (s *PostgresStore) Set(ctx context.Context, userID, name string, values []string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM federated_user_attribute WHERE user_id = $1 AND name = $2`,
			userID, name); err != nil {
			return err
		}
		if len(values) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO federated_user_attribute (user_id, name, position, value)
			 SELECT $1, $2, t.ord - 1, t.v FROM unnest($3::text[]) WITH ORDINALITY AS t(v, ord)`,
			userID, name, values)
		return err
	})
	if err != nil {
		slog.Error("Failed to set attribute", "err", err, "user_id", userID, "name", name)
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute set failed")
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, userID, name string) error {
	return s.Set(ctx, userID, name, nil)
}

func (s *PostgresStore) All(ctx context.Context, userID string) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, value FROM federated_user_attribute WHERE user_id = $1 ORDER BY name, position`,
		userID)
	if err != nil {
		slog.Error("Failed to list attributes", "err", err, "user_id", userID)
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute list failed")
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute list failed")
		}
		result[name] = append(result[name], value)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute list failed")
	}
	return result, nil
}

func (s *PostgresStore) RemoveAll(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM federated_user_attribute WHERE user_id = $1`, userID); err != nil {
		slog.Error("Failed to remove attributes", "err", err, "user_id", userID)
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "attribute remove failed")
	}
	return nil
}
