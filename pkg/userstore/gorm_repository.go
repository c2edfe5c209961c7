package userstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/tendant/simple-federation/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormDialect selects the GORM dialector.
type GormDialect string

const (
	// GormDialectSQLite uses the pure-Go SQLite driver.
	GormDialectSQLite GormDialect = "sqlite"

	// GormDialectPostgres uses the pgx-backed PostgreSQL driver.
	GormDialectPostgres GormDialect = "postgres"
)

// GormConfig configures a GormStore.
type GormConfig struct {
	Dialect GormDialect

	// DSN is a file path (or ":memory:") for sqlite and a connection URL for postgres.
	DSN string

	// Table maps the external user table; zero value means the reference schema
	Table TableMapping

	// AutoMigrate creates the mapped table when missing. Only mappings that keep
	// the reference column names are migrated.
	AutoMigrate bool

	MaxOpenConns int
}

// gormUser is the GORM model of the reference federated_user table
type gormUser struct {
	ID        string  `gorm:"primaryKey;size:36"`
	Username  string  `gorm:"uniqueIndex;size:255;not null"`
	Email     *string `gorm:"size:255"`
	Password  *string
	Phone     *string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM
func (gormUser) TableName() string {
	return "federated_user"
}

// gormRow is one row of the mapped table, selected under the reference names
type gormRow struct {
	ID        string
	Username  string
	Email     *string
	Password  *string
	Phone     *string
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

func (r *gormRow) toRecord() *Record {
	rec := &Record{
		ID:       r.ID,
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
		Phone:    r.Phone,
	}
	if r.CreatedAt != nil {
		rec.CreatedAt = r.CreatedAt.UTC()
	}
	if r.UpdatedAt != nil {
		rec.UpdatedAt = r.UpdatedAt.UTC()
	}
	return rec
}

func column(name string) clause.Column {
	return clause.Column{Name: name}
}

// gormTable holds the clauses compiled for one table mapping
type gormTable struct {
	mapping    TableMapping
	selectSQL  string
	selectArgs []interface{}
	order      clause.OrderBy
}

func newGormTable(m TableMapping) *gormTable {
	m = m.withDefaults()
	// keys are compared as text, as in PostgresStore
	parts := []string{"CAST(? AS TEXT) AS id", "? AS username", "? AS email", "? AS password", "? AS phone"}
	args := []interface{}{column(m.ID), column(m.Username), column(m.Email), column(m.Password), column(m.Phone)}
	if m.CreatedAt != "" {
		parts = append(parts, "? AS created_at")
		args = append(args, column(m.CreatedAt))
	}
	if m.UpdatedAt != "" {
		parts = append(parts, "? AS updated_at")
		args = append(args, column(m.UpdatedAt))
	}
	return &gormTable{
		mapping:    m,
		selectSQL:  strings.Join(parts, ", "),
		selectArgs: args,
		order: clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: column(m.Username)},
			{Column: column(m.ID)},
		}},
	}
}

// referenceColumns reports whether the mapping only renames the table
func (t *gormTable) referenceColumns() bool {
	d := DefaultTableMapping()
	d.Table = t.mapping.Table
	return t.mapping == d
}

func (t *gormTable) query(db *gorm.DB) *gorm.DB {
	return db.Table(t.mapping.Table)
}

func (t *gormTable) rows(db *gorm.DB) *gorm.DB {
	return t.query(db).Select(t.selectSQL, t.selectArgs...)
}

func (t *gormTable) byID(db *gorm.DB, id string) *gorm.DB {
	return db.Where("CAST(? AS TEXT) = ?", column(t.mapping.ID), id)
}

// GormStore implements Store using GORM.
// It supports both SQLite and PostgreSQL backends via the same codebase.
type GormStore struct {
	db    *gorm.DB
	table *gormTable
}

// NewGormStore opens the database described by config
func NewGormStore(config GormConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch config.Dialect {
	case GormDialectSQLite:
		if config.DSN == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "sqlite path is required")
		}
		dsn := config.DSN
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, errors.StoreUnavailable(err, "create database directory")
			}
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	case GormDialectPostgres:
		if config.DSN == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "postgres url is required")
		}
		dialector = postgres.Open(config.DSN)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported gorm dialect: %s", config.Dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.StoreUnavailable(err, "connect")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	switch {
	case config.DSN == ":memory:":
		// every connection of an in-memory sqlite database is a separate database
		sqlDB.SetMaxOpenConns(1)
	case config.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}

	table := newGormTable(config.Table)
	if config.AutoMigrate {
		if table.referenceColumns() {
			if err := table.query(db).AutoMigrate(&gormUser{}); err != nil {
				_ = sqlDB.Close()
				return nil, errors.StoreUnavailable(err, "migrate")
			}
		} else {
			slog.Warn("Skipping migration of mapped user table", "table", table.mapping.Table)
		}
	}

	slog.Debug("Opened gorm user store", "dialect", config.Dialect, "table", table.mapping.Table)
	return &GormStore{db: db, table: table}, nil
}

// DB returns the underlying GORM database connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Begin starts a database transaction
func (s *GormStore) Begin(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		slog.Error("Failed to begin transaction", "err", tx.Error)
		return nil, errors.StoreUnavailable(tx.Error, "begin")
	}
	return &gormTx{db: tx, table: s.table}, nil
}

// Close closes the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db     *gorm.DB
	table  *gormTable
	closed bool
}

func (t *gormTx) first(ctx context.Context, op, field, value string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	var rows []gormRow
	err := t.table.rows(t.db.WithContext(ctx)).
		Where("? = ?", column(field), value).
		Order(t.table.order).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.StoreUnavailable(err, op)
	}
	if len(rows) == 0 {
		slog.Debug("Record not found", "op", op, "key", value)
		return nil, nil
	}
	return rows[0].toRecord(), nil
}

func (t *gormTx) FindByID(ctx context.Context, id string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	var rows []gormRow
	err := t.table.byID(t.table.rows(t.db.WithContext(ctx)), id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.StoreUnavailable(err, "find by id")
	}
	if len(rows) == 0 {
		slog.Debug("Record not found", "op", "find by id", "key", id)
		return nil, nil
	}
	return rows[0].toRecord(), nil
}

func (t *gormTx) FindByUsername(ctx context.Context, username string) (*Record, error) {
	return t.first(ctx, "find by username", t.table.mapping.Username, username)
}

func (t *gormTx) FindByEmail(ctx context.Context, email string) (*Record, error) {
	return t.first(ctx, "find by email", t.table.mapping.Email, email)
}

func (t *gormTx) Create(ctx context.Context, username string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	m := t.table.mapping
	now := time.Now().UTC()
	rec := &Record{ID: uuid.New().String(), Username: username}
	values := map[string]interface{}{
		m.ID:       rec.ID,
		m.Username: username,
	}
	if m.CreatedAt != "" {
		values[m.CreatedAt] = now
		rec.CreatedAt = now
	}
	if m.UpdatedAt != "" {
		values[m.UpdatedAt] = now
		rec.UpdatedAt = now
	}
	if err := t.table.query(t.db.WithContext(ctx)).Create(values).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, errors.Conflict("username", username)
		}
		slog.Error("Failed to create record", "err", err, "username", username)
		return nil, errors.StoreUnavailable(err, "create")
	}
	return rec, nil
}

func (t *gormTx) Update(ctx context.Context, record *Record) error {
	if t.closed {
		return errTxClosed
	}
	m := t.table.mapping
	values := map[string]interface{}{
		m.Username: record.Username,
		m.Email:    record.Email,
		m.Password: record.Password,
		m.Phone:    record.Phone,
	}
	if m.UpdatedAt != "" {
		values[m.UpdatedAt] = time.Now().UTC()
	}
	result := t.table.byID(t.table.query(t.db.WithContext(ctx)), record.ID).Updates(values)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return errors.Conflict("username", record.Username)
		}
		return errors.StoreUnavailable(result.Error, "update")
	}
	if result.RowsAffected == 0 {
		return errors.NotFound("record", record.ID)
	}
	return nil
}

func (t *gormTx) Remove(ctx context.Context, id string) (bool, error) {
	if t.closed {
		return false, errTxClosed
	}
	result := t.db.WithContext(ctx).Exec("DELETE FROM ? WHERE CAST(? AS TEXT) = ?",
		clause.Table{Name: t.table.mapping.Table}, column(t.table.mapping.ID), id)
	if result.Error != nil {
		return false, errors.StoreUnavailable(result.Error, "remove")
	}
	return result.RowsAffected > 0, nil
}

func (t *gormTx) Count(ctx context.Context) (int, error) {
	if t.closed {
		return 0, errTxClosed
	}
	var count int64
	if err := t.table.query(t.db.WithContext(ctx)).Count(&count).Error; err != nil {
		return 0, errors.StoreUnavailable(err, "count")
	}
	return int(count), nil
}

func (t *gormTx) Search(ctx context.Context, filter string, page Page) ([]*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	q := t.table.rows(t.db.WithContext(ctx))
	if filter != "" {
		q = q.Where(`LOWER(?) LIKE ? ESCAPE '\'`, column(t.table.mapping.Username), likePattern(filter))
	}
	q = q.Order(t.table.order)
	if page.HasOffset() {
		q = q.Offset(page.Offset)
	}
	switch {
	case page.HasLimit():
		q = q.Limit(page.Limit)
	case page.HasOffset():
		// sqlite rejects OFFSET without LIMIT
		q = q.Limit(math.MaxInt32)
	}

	var rows []gormRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.StoreUnavailable(err, "search")
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

func (t *gormTx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	if err := t.db.Commit().Error; err != nil {
		if isUniqueConstraintError(err) {
			return errors.Wrap(err, errors.ErrCodeConflict, "unique constraint violated at commit")
		}
		return errors.StoreUnavailable(err, "commit")
	}
	return nil
}

func (t *gormTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.db.Rollback().Error; err != nil {
		return errors.StoreUnavailable(err, "rollback")
	}
	return nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
// The sqlite driver does not translate errors, so both dialects are matched by message.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}
