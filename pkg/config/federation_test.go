package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/userstore"
)

func TestLoadFederationConfigDefaults(t *testing.T) {
	cfg, err := LoadFederationConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sql-users", cfg.ProviderID)
	assert.Equal(t, userstore.DriverMemory, cfg.Driver)
	assert.Equal(t, "0.0.0.0:4000", cfg.HTTP.Addr())
	assert.Equal(t, "/api/v1/federation", cfg.HTTP.Prefix)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, int64(10000), cfg.Cache.MaxCost)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "federated_user", cfg.Table.Table)
	assert.Equal(t, "phone", cfg.Table.Phone)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.CredentialCapacity)
	assert.Equal(t, time.Hour, cfg.RateLimit.BucketTTL)
}

func TestLoadFederationConfigFromEnv(t *testing.T) {
	t.Setenv("FEDERATION_PROVIDER_ID", "legacy")
	t.Setenv("FEDERATION_DRIVER", userstore.DriverPostgres)
	t.Setenv("FEDERATION_USERNAME", "reader")
	t.Setenv("FEDERATION_PASSWORD", "s3cret")
	t.Setenv("FEDERATION_PG_HOST", "db.internal")
	t.Setenv("FEDERATION_PG_DATABASE", "accounts")
	t.Setenv("FEDERATION_TABLE", "legacy_accounts")
	t.Setenv("FEDERATION_HTTP_PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFederationConfig("")
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.ComponentModel().ID)
	assert.Equal(t, "legacy_accounts", cfg.Table.Table)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())

	defaults := cfg.ProviderDefaults()
	assert.Equal(t, userstore.DriverPostgres, defaults[federation.ConfigDriver])
	assert.Equal(t, "postgres://db.internal:5432/accounts?search_path=public&sslmode=disable", defaults[federation.ConfigURL])
	assert.Equal(t, "reader", defaults[federation.ConfigUsername])
	assert.Equal(t, "s3cret", defaults[federation.ConfigPassword])
}

func TestLoadFederationConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "federation.yaml")
	content := `provider_id: from-file
driver: gorm-sqlite
data_dir: /var/lib/federation
http:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFederationConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.ProviderID)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, filepath.Join("/var/lib/federation", "federation.db"), cfg.StoreURL())
}

func TestFederationConfigValidate(t *testing.T) {
	valid := func() FederationConfig {
		return FederationConfig{
			ProviderID: "sql-users",
			Driver:     userstore.DriverMemory,
			HTTP:       HTTPConfig{Port: 4000},
		}
	}

	tests := []struct {
		name   string
		mutate func(*FederationConfig)
		field  string
	}{
		{"valid", func(*FederationConfig) {}, ""},
		{"missing provider id", func(c *FederationConfig) { c.ProviderID = "" }, "provider_id"},
		{"provider id with colon", func(c *FederationConfig) { c.ProviderID = "a:b" }, "provider_id"},
		{"unknown driver", func(c *FederationConfig) { c.Driver = "mysql" }, "driver"},
		{"url without scheme", func(c *FederationConfig) { c.Driver = userstore.DriverPostgres; c.URL = "localhost/db" }, "url"},
		{"sqlite path url", func(c *FederationConfig) { c.Driver = userstore.DriverGormSQLite; c.URL = "/tmp/users.db" }, ""},
		{"file without data dir", func(c *FederationConfig) { c.Driver = userstore.DriverFile }, "data_dir"},
		{"bad port", func(c *FederationConfig) { c.HTTP.Port = 0 }, "http.port"},
		{"negative cache cost", func(c *FederationConfig) { c.Cache.MaxCost = -1 }, "cache.max_cost"},
		{"negative cache ttl", func(c *FederationConfig) { c.Cache.TTL = -time.Second }, "cache.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := CollectErrors(
		RequireNonEmpty("a", ""),
		nil,
		RequireOneOf("b", "x", []string{"y"}),
	)
	require.Len(t, errs, 2)
	assert.Equal(t, "configuration validation failed:\n  - a: is required\n  - b: must be one of [y], got \"x\"", errs.Error())
	assert.Equal(t, "a: is required", errs[:1].Error())
	assert.NoError(t, Validate(func() ValidationErrors { return nil }))
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("FED_TEST_SET", "value")
	assert.Equal(t, "value", GetEnvOrDefault("FED_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("FED_TEST_UNSET", "fallback"))
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, Production, GetEnvironment())
	assert.True(t, IsProduction())

	t.Setenv("APP_ENV", "")
	assert.Equal(t, Development, GetEnvironment())
}

func TestDatabaseConfigURL(t *testing.T) {
	t.Setenv("FEDERATION_DRIVER", userstore.DriverPostgres)
	t.Setenv("FEDERATION_PG_HOST", "pg")
	t.Setenv("FEDERATION_PG_PORT", "6543")

	cfg, err := LoadFederationConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://pg:6543/federation?search_path=public&sslmode=disable", cfg.Database.ToDatabaseURL())
	assert.Equal(t, cfg.Database.ToDatabaseURL(), cfg.StoreURL())

	db := cfg.Database
	db.Schema = ""
	assert.Equal(t, "postgres://pg:6543/federation?sslmode=disable", db.ToDatabaseURL())
}
