package userstore

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-federation/pkg/errors"
)

// Supported driver identifiers
const (
	DriverMemory       = "memory"
	DriverFile         = "file"
	DriverPostgres     = "postgres"
	DriverGormPostgres = "gorm-postgres"
	DriverGormSQLite   = "gorm-sqlite"
)

// RepositoryConfig contains configuration for creating a user store
type RepositoryConfig struct {
	// URL is the connection URL for postgres drivers and the database path for gorm-sqlite
	URL string
	// Username and Password override the credentials in URL when set
	Username string
	Password string
	// DataDir is required for file-based stores
	DataDir string
	// Table maps the external user table; zero value means the reference schema
	Table TableMapping
	// AutoMigrate applies the reference schema on open
	AutoMigrate bool
	// MaxConns bounds the connection pool when positive
	MaxConns int32
}

// NewStore creates a new user store based on the driver identifier
func NewStore(ctx context.Context, driver string, config RepositoryConfig) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewInMemoryStore(), nil
	case DriverFile:
		if config.DataDir == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "dataDir required for file store")
		}
		return NewFileStore(config.DataDir)
	case DriverPostgres, "postgresql":
		if config.URL == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "url required for postgres store")
		}
		return openPostgresStore(ctx, config)
	case DriverGormPostgres:
		if config.URL == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "url required for gorm-postgres store")
		}
		return NewGormStore(GormConfig{
			Dialect:      GormDialectPostgres,
			DSN:          WithCredentials(config.URL, config.Username, config.Password),
			Table:        config.Table,
			AutoMigrate:  config.AutoMigrate,
			MaxOpenConns: int(config.MaxConns),
		})
	case DriverGormSQLite:
		if config.URL == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "url required for gorm-sqlite store")
		}
		return NewGormStore(GormConfig{
			Dialect:     GormDialectSQLite,
			DSN:         config.URL,
			Table:       config.Table,
			AutoMigrate: true,
		})
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported driver: %s (supported: %s, %s, %s, %s, %s)",
			driver, DriverMemory, DriverFile, DriverPostgres, DriverGormPostgres, DriverGormSQLite)
	}
}

func openPostgresStore(ctx context.Context, config RepositoryConfig) (*PostgresStore, error) {
	dsn := WithCredentials(config.URL, config.Username, config.Password)
	if config.AutoMigrate {
		if err := RunMigrations(dsn); err != nil {
			return nil, errors.StoreUnavailable(err, "migrate")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to parse database url")
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.StoreUnavailable(err, "connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.StoreUnavailable(err, "ping")
	}

	slog.Info("Connected to user store", "driver", DriverPostgres, "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return NewPostgresStore(pool, config.Table), nil
}

// WithCredentials replaces the user info of a URL-style DSN. Keyword/value DSNs
// are returned unchanged.
func WithCredentials(dsn, username, password string) string {
	if username == "" && password == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}
	if u.User != nil {
		if username == "" {
			username = u.User.Username()
		}
		if password == "" {
			password, _ = u.User.Password()
		}
	}
	if password == "" {
		u.User = url.User(username)
	} else {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}
