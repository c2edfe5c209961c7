package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-federation/pkg/errors"
)

// Config holds rate limiting configuration
type Config struct {
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`

	// Every request, keyed by client IP
	PerIPCapacity  int     `yaml:"per_ip_capacity" env:"RATE_LIMIT_PER_IP_CAPACITY" env-default:"100"`
	PerIPPerMinute float64 `yaml:"per_ip_per_minute" env:"RATE_LIMIT_PER_IP_PER_MINUTE" env-default:"100"`

	// Credential checks, keyed by client IP and target user
	CredentialCapacity  int     `yaml:"credential_capacity" env:"RATE_LIMIT_CREDENTIAL_CAPACITY" env-default:"10"`
	CredentialPerMinute float64 `yaml:"credential_per_minute" env:"RATE_LIMIT_CREDENTIAL_PER_MINUTE" env-default:"10"`

	// BucketTTL is how long an idle key is remembered
	BucketTTL time.Duration `yaml:"bucket_ttl" env:"RATE_LIMIT_BUCKET_TTL" env-default:"1h"`
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		PerIPCapacity:       100,
		PerIPPerMinute:      100,
		CredentialCapacity:  10,
		CredentialPerMinute: 10,
		BucketTTL:           time.Hour,
	}
}

// Metrics counts rejected requests. A nil *Metrics is a no-op.
type Metrics struct {
	// Rejected counts rejected requests.
	// Labels: scope=[ip, credential]
	Rejected *prometheus.CounterVec
}

// NewMetrics creates and registers rate limit metrics.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_rate_limited_requests_total",
				Help: "Requests rejected by the rate limiter by scope",
			},
			[]string{"scope"},
		),
	}
	registerer.MustRegister(m.Rejected)
	return m
}

func (m *Metrics) reject(scope string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(scope).Inc()
}

// Middleware rejects clients that exceed their token bucket with 429
type Middleware struct {
	config     Config
	ip         *RateLimiter
	credential *RateLimiter
	metrics    *Metrics
}

// NewMiddleware creates the limiters described by config. metrics may be nil.
func NewMiddleware(config Config, metrics *Metrics) *Middleware {
	return &Middleware{
		config:     config,
		ip:         NewRateLimiter(config.PerIPCapacity, config.PerIPPerMinute/60, config.BucketTTL),
		credential: NewRateLimiter(config.CredentialCapacity, config.CredentialPerMinute/60, config.BucketTTL),
		metrics:    metrics,
	}
}

// Handler limits every request per client IP
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Enabled && !m.ip.Allow(clientIP(r)) {
			m.reject(w, r, "ip", m.config.PerIPPerMinute)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CredentialHandler limits credential checks per client IP and user, so
// guessing one user's password is throttled independently of other traffic.
// It expects the user in the {id} route parameter.
func (m *Middleware) CredentialHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r) + "|" + chi.URLParam(r, "id")
		if m.config.Enabled && !m.credential.Allow(key) {
			m.reject(w, r, "credential", m.config.CredentialPerMinute)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the limiters' background sweeps
func (m *Middleware) Close() {
	m.ip.Close()
	m.credential.Close()
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, scope string, perMinute float64) {
	slog.Warn("Rate limit exceeded", "scope", scope, "ip", clientIP(r), "method", r.Method, "path", r.URL.Path)
	m.metrics.reject(scope)

	retryAfter := 60
	if perMinute > 0 {
		retryAfter = int(math.Ceil(60 / perMinute))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"code":    string(errors.ErrCodeRateLimited),
		"message": "too many requests, try again later",
	})
}

// clientIP returns the host part of RemoteAddr. Proxy headers are trusted
// only through chi's RealIP middleware, which rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
