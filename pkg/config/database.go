package config

import (
	"fmt"
	"net/url"
)

// DatabaseConfig holds discrete PostgreSQL connection settings. It is used
// to build a connection URL when FEDERATION_URL is not set.
type DatabaseConfig struct {
	Host     string `env:"FEDERATION_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"FEDERATION_PG_PORT" env-default:"5432"`
	Database string `env:"FEDERATION_PG_DATABASE" env-default:"federation"`
	Schema   string `env:"FEDERATION_PG_SCHEMA" env-default:"public"`
	SSLMode  string `env:"FEDERATION_PG_SSLMODE" env-default:"disable"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL without
// credentials; the provider applies username and password separately.
func (d DatabaseConfig) ToDatabaseURL() string {
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
