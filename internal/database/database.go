// Package database opens the PostgreSQL pool backing the reading history.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned for unparseable database settings.
var ErrInvalidConfig = errors.New("invalid database config")

// Config describes the history database and its pool.
type Config struct {
	// URL, when set, is used verbatim instead of the individual fields.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the whole connect sequence, retries included
	// (default: 30 seconds).
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads DATABASE_URL and the DB_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		User:     getEnvOrDefault("DB_USER", "airpulse"),
		Password: getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database: getEnvOrDefault("DB_NAME", "airpulse"),
		SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
	}

	var err error
	if cfg.Port, err = envInt("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	maxConns, err := envInt("DB_MAX_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	minConns, err := envInt("DB_MIN_CONNS", 2)
	if err != nil {
		return Config{}, err
	}
	if minConns > maxConns {
		return Config{}, fmt.Errorf("%w: DB_MIN_CONNS %d exceeds DB_MAX_CONNS %d", ErrInvalidConfig, minConns, maxConns)
	}
	cfg.MaxConns, cfg.MinConns = int32(maxConns), int32(minConns) //nolint:gosec // bounded by envInt

	if cfg.ConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = envDuration("DB_CONNECT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConnectionString returns the PostgreSQL URL, escaping credentials.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return c.url().String()
}

// Redacted returns the connection string with the password masked, for logs.
func (c Config) Redacted() string {
	if c.URL == "" {
		return c.url().Redacted()
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "invalid database url"
	}
	return u.Redacted()
}

func (c Config) url() *url.URL {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u
}

// Connect opens a pool and waits for the database to answer a ping,
// retrying with exponential backoff until ConnectTimeout or ctx ends.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	ping := func() error {
		attempt++
		return pool.Ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Str("database", cfg.Redacted()).
			Msg("database not reachable yet")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
	}

	return pool, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > 1<<16 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
