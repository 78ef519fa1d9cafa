package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/storage/memory"
	"pt100-monitor/internal/storage/postgres"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMemory   = "memory"

	defaultPort         = "5432"
	defaultWaitAttempts = 5
	defaultWaitDelay    = 2 * time.Second
)

// Repository is what the rest of the application needs from a backend.
type Repository interface {
	domain.RecordRepository
	Ping(ctx context.Context) error
	Close() error
}

// Logger defines the logging behaviour required by the storage bootstrap.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config selects and reaches the backend.
type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Channels []string

	// WaitAttempts and WaitDelay bound the reachability probe before opening.
	WaitAttempts int
	WaitDelay    time.Duration
}

// Open builds the configured backend. SQL backends are probed, opened and
// migrated before they are returned.
func Open(ctx context.Context, cfg Config, logger Logger) (Repository, error) {
	switch cfg.Driver {
	case DriverMemory:
		if logger != nil {
			logger.Warn("storage: using in-memory repository, records and run numbers are not durable")
		}
		return memory.NewRepository(), nil
	case "", DriverPostgres, DriverPgx:
		repo, err := OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

// OpenPostgres waits for the server, opens a pool and returns the repository
// without migrating it.
func OpenPostgres(ctx context.Context, cfg Config, logger Logger) (*postgres.Repository, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	if err := WaitForDatabase(ctx, cfg, logger); err != nil {
		return nil, err
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s connection: %w", driver, err)
	}
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	if parsed, err := url.Parse(dsn); err == nil && logger != nil {
		logger.Info("storage: connected", "driver", driver, "host", parsed.Hostname(), "db", parsed.Path, "user", parsed.User.Username())
	}

	var opts []postgres.Option
	if logger != nil {
		opts = append(opts, postgres.WithLogger(logger))
	}
	repo, err := postgres.NewRepository(db, cfg.Channels, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// BuildDSN returns DSN as is, or assembles a postgres URL from the discrete settings.
func BuildDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	if cfg.Host == "" {
		return "", errors.New("database host is required when DSN is not provided")
	}
	if cfg.User == "" {
		return "", errors.New("database user is required when DSN is not provided")
	}
	if cfg.Name == "" {
		return "", errors.New("database name is required when DSN is not provided")
	}

	port := cfg.Port
	if port == "" {
		port = defaultPort
	}

	connectionURL := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, port),
		Path:   "/" + cfg.Name,
		User:   url.UserPassword(cfg.User, cfg.Password),
	}
	query := connectionURL.Query()
	query.Set("sslmode", "disable")
	connectionURL.RawQuery = query.Encode()

	return connectionURL.String(), nil
}

// WaitForDatabase dials the database host until it accepts TCP connections.
func WaitForDatabase(ctx context.Context, cfg Config, logger Logger) error {
	host, port := cfg.Host, cfg.Port
	if (host == "" || port == "") && cfg.DSN != "" {
		parsed, err := url.Parse(cfg.DSN)
		if err != nil {
			return fmt.Errorf("invalid DB_DSN: %w", err)
		}
		if host == "" {
			host = parsed.Hostname()
		}
		if port == "" {
			port = parsed.Port()
		}
	}
	if host == "" {
		return nil
	}
	if port == "" {
		port = defaultPort
	}

	attempts := cfg.WaitAttempts
	if attempts <= 0 {
		attempts = defaultWaitAttempts
	}
	delay := cfg.WaitDelay
	if delay <= 0 {
		delay = defaultWaitDelay
	}

	address := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if logger != nil {
			logger.Warn("storage: database check failed", "attempt", attempt, "address", address, "error", err)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("database not reachable at %s", address)
}
