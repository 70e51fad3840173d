// Package dbpool provides a unified database connection manager that abstracts
// away engine-specific details (MySQL, SQLite, Snowflake) and handles retry
// logic and connection pool settings.
//
// All code that needs a *sql.DB should go through DBManager instead of calling
// sql.Open directly. This gives us a single place to:
//   - switch between engines based on configuration
//   - add retry/backoff for transient connect failures
//   - enforce connection pool settings
package dbpool

import (
	"database/sql"
	"fmt"
)

// Engine identifies the database engine to use.
type Engine string

const (
	EngineMySQL     Engine = "mysql"
	EngineSQLite    Engine = "sqlite"
	EngineSnowflake Engine = "snowflake"
)

// ParseEngine maps a config string to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EngineMySQL, EngineSQLite, EngineSnowflake:
		return Engine(s), nil
	case "":
		return EngineMySQL, nil
	default:
		return "", fmt.Errorf("dbpool: unsupported engine %q", s)
	}
}

// OpenOptions configures how a database connection is opened.
type OpenOptions struct {
	// Engine to use. Defaults to the manager's engine if empty.
	Engine Engine
	// DSN is the connection string. For SQLite this is the file path
	// (or ":memory:"), for MySQL/Snowflake the driver DSN.
	DSN string
	// ReadOnly requests read-only access where the engine supports it.
	ReadOnly bool
	// MaxRetries overrides the default retry count (0 = use default).
	MaxRetries int
	// RetryBaseMs overrides the base retry interval in milliseconds (0 = use default).
	RetryBaseMs int
}

// Logger is a simple logging function signature.
type Logger func(string)

// DBManager is the central connection manager.
type DBManager struct {
	logger Logger
	engine Engine
}

// New creates a new DBManager with the given default engine and logger.
func New(defaultEngine Engine, logger Logger) *DBManager {
	if logger == nil {
		logger = func(string) {}
	}
	return &DBManager{
		engine: defaultEngine,
		logger: logger,
	}
}

// DefaultEngine returns the manager's default engine.
func (m *DBManager) DefaultEngine() Engine {
	return m.engine
}

// Open opens a database connection with the given options.
func (m *DBManager) Open(opts OpenOptions) (*sql.DB, error) {
	eng := opts.Engine
	if eng == "" {
		eng = m.engine
	}

	switch eng {
	case EngineMySQL:
		return m.openMySQL(opts)
	case EngineSQLite:
		return m.openSQLite(opts)
	case EngineSnowflake:
		return m.openSnowflake(opts)
	default:
		return nil, fmt.Errorf("dbpool: unsupported engine %q", eng)
	}
}

// OpenReadOnly is a convenience wrapper for read-only access.
func (m *DBManager) OpenReadOnly(dsn string) (*sql.DB, error) {
	return m.Open(OpenOptions{DSN: dsn, ReadOnly: true})
}

// configurePool sets conservative pool parameters. The pipeline runs one
// linear query sequence per session, so a single connection is enough and
// keeps file locks short-lived for SQLite.
func configurePool(db *sql.DB) {
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(1)
}

// retryParams returns (maxRetries, baseMs) from opts or defaults.
func retryParams(opts OpenOptions) (int, int) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	baseMs := opts.RetryBaseMs
	if baseMs <= 0 {
		baseMs = 400
	}
	return maxRetries, baseMs
}
