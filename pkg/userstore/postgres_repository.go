package userstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-federation/pkg/errors"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// TableMapping names the table and columns of the external user table.
// CreatedAt and UpdatedAt are optional; leave them empty when the external
// schema has no such columns.
type TableMapping struct {
	Table     string `env:"FEDERATION_TABLE" env-default:"federated_user"`
	ID        string `env:"FEDERATION_COLUMN_ID" env-default:"id"`
	Username  string `env:"FEDERATION_COLUMN_USERNAME" env-default:"username"`
	Email     string `env:"FEDERATION_COLUMN_EMAIL" env-default:"email"`
	Password  string `env:"FEDERATION_COLUMN_PASSWORD" env-default:"password"`
	Phone     string `env:"FEDERATION_COLUMN_PHONE" env-default:"phone"`
	CreatedAt string `env:"FEDERATION_COLUMN_CREATED_AT" env-default:"created_at"`
	UpdatedAt string `env:"FEDERATION_COLUMN_UPDATED_AT" env-default:"updated_at"`
}

// DefaultTableMapping returns the mapping of the reference schema shipped in migrations/
func DefaultTableMapping() TableMapping {
	return TableMapping{
		Table:     "federated_user",
		ID:        "id",
		Username:  "username",
		Email:     "email",
		Password:  "password",
		Phone:     "phone",
		CreatedAt: "created_at",
		UpdatedAt: "updated_at",
	}
}

// withDefaults fills unset required names from the reference schema
func (m TableMapping) withDefaults() TableMapping {
	d := DefaultTableMapping()
	if m.Table == "" {
		return d
	}
	if m.ID == "" {
		m.ID = d.ID
	}
	if m.Username == "" {
		m.Username = d.Username
	}
	if m.Email == "" {
		m.Email = d.Email
	}
	if m.Password == "" {
		m.Password = d.Password
	}
	if m.Phone == "" {
		m.Phone = d.Phone
	}
	return m
}

// queries holds the SQL statements compiled for one table mapping
type queries struct {
	mapping    TableMapping
	columns    string
	findByID   string
	findByName string
	findByMail string
	insert     string
	update     string
	remove     string
	count      string
	searchAll  string
	searchLike string
}

func quoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func compileQueries(m TableMapping) *queries {
	m = m.withDefaults()
	table := quoteIdent(m.Table)
	id := quoteIdent(m.ID)
	// keys are compared as text so non-text key columns still answer absent for foreign ids
	idText := id + "::text"
	username := quoteIdent(m.Username)

	cols := []string{
		idText,
		username,
		quoteIdent(m.Email),
		quoteIdent(m.Password),
		quoteIdent(m.Phone),
	}
	if m.CreatedAt != "" {
		cols = append(cols, quoteIdent(m.CreatedAt))
	}
	if m.UpdatedAt != "" {
		cols = append(cols, quoteIdent(m.UpdatedAt))
	}
	columns := strings.Join(cols, ", ")
	order := fmt.Sprintf("ORDER BY %s, %s", username, id)

	insertCols := []string{id, username}
	insertArgs := []string{"$1", "$2"}
	if m.CreatedAt != "" {
		insertCols = append(insertCols, quoteIdent(m.CreatedAt))
		insertArgs = append(insertArgs, "$3")
	}
	if m.UpdatedAt != "" {
		insertCols = append(insertCols, quoteIdent(m.UpdatedAt))
		insertArgs = append(insertArgs, "$3")
	}

	update := fmt.Sprintf("UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5",
		table, username, quoteIdent(m.Email), quoteIdent(m.Password), quoteIdent(m.Phone))
	if m.UpdatedAt != "" {
		update += fmt.Sprintf(", %s = $6", quoteIdent(m.UpdatedAt))
	}
	update += fmt.Sprintf(" WHERE %s = $1", idText)

	return &queries{
		mapping:    m,
		columns:    columns,
		findByID:   fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", columns, table, idText),
		findByName: fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 %s LIMIT 1", columns, table, username, order),
		findByMail: fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 %s LIMIT 1", columns, table, quoteIdent(m.Email), order),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			table, strings.Join(insertCols, ", "), strings.Join(insertArgs, ", "), columns),
		update:     update,
		remove:     fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, idText),
		count:      fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
		searchAll:  fmt.Sprintf("SELECT %s FROM %s %s", columns, table, order),
		searchLike: fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(%s) LIKE $1 ESCAPE '\' %s`, columns, table, username, order),
	}
}

// scan reads one row selected with q.columns
func (q *queries) scan(row pgx.Row) (*Record, error) {
	var rec Record
	dest := []interface{}{&rec.ID, &rec.Username, &rec.Email, &rec.Password, &rec.Phone}
	var createdAt, updatedAt *time.Time
	if q.mapping.CreatedAt != "" {
		dest = append(dest, &createdAt)
	}
	if q.mapping.UpdatedAt != "" {
		dest = append(dest, &updatedAt)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if createdAt != nil {
		rec.CreatedAt = createdAt.UTC()
	}
	if updatedAt != nil {
		rec.UpdatedAt = updatedAt.UTC()
	}
	return &rec, nil
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
	q  *queries
}

// NewPostgresRepository creates a new PostgreSQL repository over the reference schema
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return NewPostgresRepositoryWithMapping(db, DefaultTableMapping())
}

// NewPostgresRepositoryWithMapping creates a new PostgreSQL repository over a custom table mapping
func NewPostgresRepositoryWithMapping(db DBTX, mapping TableMapping) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		q:  compileQueries(mapping),
	}
}

func (r *PostgresRepository) findOne(ctx context.Context, op, query string, arg string) (*Record, error) {
	rec, err := r.q.scan(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Debug("Record not found", "op", op, "key", arg)
			return nil, nil
		}
		slog.Error("Failed to find record", "op", op, "err", err)
		return nil, translateError(err, op)
	}
	return rec, nil
}

// FindByID retrieves a record by its primary key
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	return r.findOne(ctx, "find by id", r.q.findByID, id)
}

// FindByUsername retrieves a record by exact username
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*Record, error) {
	return r.findOne(ctx, "find by username", r.q.findByName, username)
}

// FindByEmail retrieves the first record with the given email
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*Record, error) {
	return r.findOne(ctx, "find by email", r.q.findByMail, email)
}

// Create inserts a record with a fresh UUID and only the username set
func (r *PostgresRepository) Create(ctx context.Context, username string) (*Record, error) {
	id := uuid.New().String()
	args := []interface{}{id, username}
	if r.q.mapping.CreatedAt != "" || r.q.mapping.UpdatedAt != "" {
		args = append(args, time.Now().UTC())
	}

	rec, err := r.q.scan(r.db.QueryRow(ctx, r.q.insert, args...))
	if err != nil {
		if isUniqueViolation(err) {
			slog.Debug("Username already taken", "username", username)
			return nil, errors.Conflict("username", username)
		}
		slog.Error("Failed to create record", "err", err, "username", username)
		return nil, translateError(err, "create")
	}

	slog.Debug("Record created", "id", rec.ID, "username", username)
	return rec, nil
}

// Update writes the mutable fields of an existing record
func (r *PostgresRepository) Update(ctx context.Context, record *Record) error {
	args := []interface{}{record.ID, record.Username, record.Email, record.Password, record.Phone}
	if r.q.mapping.UpdatedAt != "" {
		args = append(args, time.Now().UTC())
	}

	tag, err := r.db.Exec(ctx, r.q.update, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("username", record.Username)
		}
		slog.Error("Failed to update record", "err", err, "id", record.ID)
		return translateError(err, "update")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("record", record.ID)
	}
	return nil
}

// Remove deletes a record by id
func (r *PostgresRepository) Remove(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, r.q.remove, id)
	if err != nil {
		slog.Error("Failed to remove record", "err", err, "id", id)
		return false, translateError(err, "remove")
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of records in the table
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.QueryRow(ctx, r.q.count).Scan(&count); err != nil {
		slog.Error("Failed to count records", "err", err)
		return 0, translateError(err, "count")
	}
	return int(count), nil
}

// Search returns records whose username contains filter case-insensitively
func (r *PostgresRepository) Search(ctx context.Context, filter string, page Page) ([]*Record, error) {
	query := r.q.searchAll
	var args []interface{}
	if filter != "" {
		query = r.q.searchLike
		args = append(args, likePattern(filter))
	}
	if page.HasOffset() {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if page.HasLimit() {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to search records", "err", err, "filter", filter)
		return nil, translateError(err, "search")
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := r.q.scan(rows)
		if err != nil {
			slog.Error("Failed to scan record", "err", err)
			return nil, translateError(err, "search")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("Error iterating over records", "err", err)
		return nil, translateError(err, "search")
	}

	slog.Debug("Found records", "count", len(records), "filter", filter)
	return records, nil
}

// PostgresStore implements Store over a pgx connection pool
type PostgresStore struct {
	pool    *pgxpool.Pool
	mapping TableMapping
}

// NewPostgresStore creates a store over an existing pool and table mapping
func NewPostgresStore(pool *pgxpool.Pool, mapping TableMapping) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		mapping: mapping,
	}
}

// Begin starts a database transaction
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		slog.Error("Failed to begin transaction", "err", err)
		return nil, errors.StoreUnavailable(err, "begin")
	}
	return &pgTx{
		PostgresRepository: NewPostgresRepositoryWithMapping(tx, s.mapping),
		tx:                 tx,
	}, nil
}

// Pool exposes the underlying pool, e.g. for running migrations
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	*PostgresRepository
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrCodeConflict, "unique constraint violated at commit")
		}
		return translateError(err, "commit")
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return translateError(err, "rollback")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// translateError wraps a driver error as a store failure
func translateError(err error, op string) error {
	return errors.StoreUnavailable(err, op)
}
