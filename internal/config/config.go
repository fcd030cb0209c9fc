// Package config loads application configuration from environment variables.
// Every setting has a default except DATABASE_URL; Load validates the result
// so misconfiguration fails at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading the request (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`

	// WriteTimeout is the maximum duration for writing the response (default: 120s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds catalog database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// DB_URL is accepted when DATABASE_URL is unset.
	URL string `env:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" envDefault:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" envDefault:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
}

// ImportConfig holds staging and commit settings.
type ImportConfig struct {
	// MaxFileSize is the number of bytes staged per file; the rest is dropped
	// and the session is marked truncated (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"52428800"`

	// MaxUploadSize is the largest request body accepted for a stage (default: 512MB)
	MaxUploadSize int64 `env:"IMPORT_MAX_UPLOAD_SIZE" envDefault:"536870912"`

	// MaxRows is the maximum number of data rows staged per file (default: 50000)
	MaxRows int `env:"IMPORT_MAX_ROWS" envDefault:"50000"`

	// MaxConcurrent is the maximum number of files staged at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" envDefault:"5"`

	// MaxWaitTime is how long a stage waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" envDefault:"30s"`

	// SessionTTL is how long an idle import session is kept (default: 2h)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" envDefault:"2h"`

	// SweepInterval is how often idle sessions are expired (default: 5m)
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" envDefault:"5m"`

	// LockTTL bounds how long one instance may hold a session for a mutation (default: 15m)
	LockTTL time.Duration `env:"IMPORT_LOCK_TTL" envDefault:"15m"`

	// PreviewRows is the number of rows returned after stage and remap (default: 20)
	PreviewRows int `env:"IMPORT_PREVIEW_ROWS" envDefault:"20"`

	// DefaultPageSize is the row page size when none is requested (default: 50)
	DefaultPageSize int `env:"IMPORT_DEFAULT_PAGE_SIZE" envDefault:"50"`

	// MaxPageSize caps the requested row page size (default: 500)
	MaxPageSize int `env:"IMPORT_MAX_PAGE_SIZE" envDefault:"500"`

	// Workers bounds parallel revalidation after a remap (default: 4)
	Workers int `env:"IMPORT_WORKERS" envDefault:"4"`
}

// RedisConfig holds durable session storage settings.
type RedisConfig struct {
	// URL enables Redis-backed sessions when set, e.g. redis://localhost:6379/0
	URL string `env:"REDIS_URL"`

	// KeyPrefix namespaces session keys (default: catalogimport)
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"catalogimport"`
}

// Enabled reports whether Redis is configured.
func (c *RedisConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// StageLimit is requests per minute for file uploads (default: 10)
	StageLimit int `env:"RATE_LIMIT_STAGE" envDefault:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" envDefault:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
