package dbpool

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
)

// openSnowflake opens a Snowflake warehouse connection with retry. The DSN
// follows gosnowflake's format: user:password@account/database/schema.
func (m *DBManager) openSnowflake(opts OpenOptions) (*sql.DB, error) {
	maxRetries, baseMs := retryParams(opts)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sql.Open("snowflake", opts.DSN)
		if err == nil {
			err = db.Ping()
			if err != nil {
				db.Close()
			}
		}

		if err != nil {
			lastErr = err
			m.logger(fmt.Sprintf("[dbpool] Snowflake attempt %d/%d failed: %v", i+1, maxRetries, err))
			if maxRetries > 1 {
				time.Sleep(time.Duration(baseMs*(i+1)) * time.Millisecond)
			}
			continue
		}

		return db, nil
	}

	return nil, fmt.Errorf("dbpool: failed to open Snowflake after %d retries: %w", maxRetries, lastErr)
}
