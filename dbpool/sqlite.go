package dbpool

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openSQLite opens a SQLite database with retry logic. WAL mode is enabled
// for better concurrency; retries cover SQLITE_BUSY on contended files.
func (m *DBManager) openSQLite(opts OpenOptions) (*sql.DB, error) {
	maxRetries, baseMs := retryParams(opts)

	connStr := opts.DSN
	if connStr != ":memory:" && !strings.Contains(connStr, "?") {
		params := "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		if opts.ReadOnly {
			params += "&mode=ro"
		}
		connStr += params
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sql.Open("sqlite", connStr)
		if err == nil {
			configurePool(db)
			err = db.Ping()
			if err != nil {
				db.Close()
			}
		}

		if err != nil {
			lastErr = err
			m.logger(fmt.Sprintf("[dbpool] SQLite open attempt %d/%d failed: %v", i+1, maxRetries, err))
			if maxRetries > 1 {
				time.Sleep(time.Duration(baseMs*(i+1)) * time.Millisecond)
			}
			continue
		}

		return db, nil
	}

	return nil, fmt.Errorf("dbpool: failed to open SQLite %q after %d retries: %w", opts.DSN, maxRetries, lastErr)
}
