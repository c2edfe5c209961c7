package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/ratelimit"
	"github.com/tendant/simple-federation/pkg/usercache"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// FederationConfig holds everything the federation service needs to run a
// provider and serve it over HTTP
type FederationConfig struct {
	// Provider
	ProviderID  string `yaml:"provider_id" env:"FEDERATION_PROVIDER_ID" env-default:"sql-users"`
	Driver      string `yaml:"driver" env:"FEDERATION_DRIVER" env-default:"memory"`
	URL         string `yaml:"url" env:"FEDERATION_URL"`
	Username    string `yaml:"username" env:"FEDERATION_USERNAME"`
	Password    string `yaml:"password" env:"FEDERATION_PASSWORD"`
	DataDir     string `yaml:"data_dir" env:"FEDERATION_DATA_DIR" env-default:"./data"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"FEDERATION_AUTO_MIGRATE" env-default:"false"`

	Database DatabaseConfig         `yaml:"database"`
	Table    userstore.TableMapping `yaml:"table"`

	// User cache
	CacheEnabled bool             `yaml:"cache_enabled" env:"USER_CACHE_ENABLED" env-default:"true"`
	Cache        usercache.Config `yaml:"cache"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`

	HTTP HTTPConfig `yaml:"http"`
	Log  LogConfig  `yaml:"log"`
}

// HTTPConfig configures the HTTP listener
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"FEDERATION_HTTP_HOST" env-default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"FEDERATION_HTTP_PORT" env-default:"4000"`
	Prefix          string        `yaml:"prefix" env:"FEDERATION_HTTP_PREFIX" env-default:"/api/v1/federation"`
	MetricsEnabled  bool          `yaml:"metrics_enabled" env:"FEDERATION_METRICS_ENABLED" env-default:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"FEDERATION_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Addr returns host:port
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LogConfig configures the default slog logger
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// SlogLevel parses Level, falling back to info
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var supportedDrivers = []string{
	userstore.DriverMemory,
	userstore.DriverFile,
	userstore.DriverPostgres,
	userstore.DriverGormPostgres,
	userstore.DriverGormSQLite,
}

// LoadFederationConfig reads the configuration from path when given, then
// from the environment, and validates it
func LoadFederationConfig(path string) (*FederationConfig, error) {
	var cfg FederationConfig
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration
func (c *FederationConfig) Validate() error {
	return Validate(
		func() ValidationErrors {
			errs := CollectErrors(
				RequireNonEmpty("provider_id", c.ProviderID),
				RequireOneOf("driver", c.Driver, supportedDrivers),
				WhenSet(c.URL, func() *ValidationError {
					if c.Driver == userstore.DriverGormSQLite {
						return nil
					}
					return RequireValidURL("url", c.URL)
				}),
			)
			if c.ProviderID != "" && federation.ValidateProviderID(c.ProviderID) != nil {
				errs = append(errs, ValidationError{Field: "provider_id", Message: "must not contain ':'"})
			}
			if c.Driver == userstore.DriverFile {
				if e := RequireNonEmpty("data_dir", c.DataDir); e != nil {
					errs = append(errs, *e)
				}
			}
			return errs
		},
		func() ValidationErrors {
			return CollectErrors(
				RequireValidPort("http.port", c.HTTP.Port),
				RequireNonNegative("cache.num_counters", c.Cache.NumCounters),
				RequireNonNegative("cache.max_cost", c.Cache.MaxCost),
				RequireNonNegative("cache.ttl", int64(c.Cache.TTL)),
				RequireNonNegative("rate_limit.per_ip_capacity", int64(c.RateLimit.PerIPCapacity)),
				RequireNonNegative("rate_limit.credential_capacity", int64(c.RateLimit.CredentialCapacity)),
			)
		},
	)
}

// StoreURL returns the URL handed to the store driver. Postgres drivers fall
// back to the discrete database settings and gorm-sqlite to a file in DataDir.
func (c *FederationConfig) StoreURL() string {
	if c.URL != "" {
		return c.URL
	}
	switch c.Driver {
	case userstore.DriverPostgres, userstore.DriverGormPostgres:
		return c.Database.ToDatabaseURL()
	case userstore.DriverGormSQLite:
		return filepath.Join(c.DataDir, "federation.db")
	default:
		return ""
	}
}

// ProviderDefaults returns the component settings every provider created by
// the factory inherits
func (c *FederationConfig) ProviderDefaults() map[string]string {
	return map[string]string{
		federation.ConfigDriver:   c.Driver,
		federation.ConfigURL:      c.StoreURL(),
		federation.ConfigUsername: c.Username,
		federation.ConfigPassword: c.Password,
		federation.ConfigDataDir:  c.DataDir,
	}
}

// ComponentModel describes the provider instance this service hosts
func (c *FederationConfig) ComponentModel() federation.ComponentModel {
	return federation.ComponentModel{
		ID:     c.ProviderID,
		Name:   c.ProviderID,
		Config: map[string]string{},
	}
}
