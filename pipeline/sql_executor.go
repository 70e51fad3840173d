package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sqlchart/dbpool"
)

// SQLExecutor runs validated candidates and materializes column-oriented
// results. Database failures keep the engine's error text verbatim; that text
// is the repair loop's feedback signal.
type SQLExecutor struct {
	db       *sql.DB
	dialect  *dbpool.Dialect
	rowLimit int
	timeout  time.Duration
	logf     func(string)
}

// NewSQLExecutor creates an executor bound to one connection.
func NewSQLExecutor(db *sql.DB, engine dbpool.Engine, rowLimit int, timeout time.Duration, logf func(string)) *SQLExecutor {
	if rowLimit <= 0 {
		rowLimit = 1000
	}
	if logf == nil {
		logf = func(string) {}
	}
	return &SQLExecutor{
		db:       db,
		dialect:  dbpool.NewDialect(engine),
		rowLimit: rowLimit,
		timeout:  timeout,
		logf:     logf,
	}
}

// Execute runs a validated candidate. A query matching zero rows returns an
// empty TabularResult, not an error. Unvalidated or rejected candidates are
// refused outright; that is a caller bug, not a repairable failure.
func (e *SQLExecutor) Execute(ctx context.Context, cand *SQLCandidate) (*TabularResult, error) {
	if cand.State != StateValidated {
		return nil, fmt.Errorf("refusing to execute %s candidate", cand.State)
	}

	query := cand.Text
	if e.dialect.Engine == dbpool.EngineSQLite {
		query = translateMySQLFunctions(query)
	}
	query = e.applyRowLimit(query)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, e.executionError(ctx, cand.Text, query, err)
	}
	defer rows.Close()

	result, err := scanColumns(rows)
	if err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}

	e.logf(fmt.Sprintf("[SQL-EXEC] %d rows x %d columns in %v", result.RowCount(), len(result.Columns), time.Since(start)))
	return result, nil
}

// applyRowLimit strips trailing semicolons and appends LIMIT when the query
// has none, preventing runaway result sets.
func (e *SQLExecutor) applyRowLimit(query string) string {
	query = strings.TrimRight(strings.TrimSpace(query), "; \t\n\r")
	if !strings.Contains(strings.ToUpper(query), "LIMIT") {
		query = fmt.Sprintf("%s LIMIT %d", query, e.rowLimit)
	}
	return query
}

var fromTableRe = regexp.MustCompile("(?i)FROM\\s+[`\"]?([a-zA-Z0-9_]+)[`\"]?")

// executionError wraps a database failure, keeping the engine's text
// verbatim and, for unknown-column failures, appending the table's actual
// columns so the model can correct itself in one step.
func (e *SQLExecutor) executionError(ctx context.Context, original, processed string, err error) error {
	execErr := &ExecutionError{Query: processed, Err: err}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "no such column") || strings.Contains(lower, "unknown column") {
		if m := fromTableRe.FindStringSubmatch(processed); len(m) > 1 {
			if cols := e.tableColumns(ctx, m[1]); len(cols) > 0 {
				execErr.Hint = fmt.Sprintf("Available columns in table %q: %s. Rewrite the query using only these columns.",
					m[1], strings.Join(cols, ", "))
			}
		}
	}

	e.logf(fmt.Sprintf("[SQL-EXEC] query failed: %v", err))
	return execErr
}

func (e *SQLExecutor) tableColumns(ctx context.Context, table string) []string {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", e.dialect.QuoteIdent(table)))
	if err != nil {
		return nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil
	}
	return cols
}

// scanColumns materializes rows column-first. []byte values (text columns in
// several drivers) become strings.
func scanColumns(rows *sql.Rows) (*TabularResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &TabularResult{
		Columns: cols,
		Values:  make([][]interface{}, len(cols)),
	}

	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			result.Values[i] = append(result.Values[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var (
	yearRe       = regexp.MustCompile(`(?i)\bYEAR\s*\(\s*([^)]+)\s*\)`)
	monthRe      = regexp.MustCompile(`(?i)\bMONTH\s*\(\s*([^)]+)\s*\)`)
	dayRe        = regexp.MustCompile(`(?i)\bDAY\s*\(\s*([^)]+)\s*\)`)
	dateFormatRe = regexp.MustCompile(`(?i)DATE_FORMAT\s*\(\s*([^,]+)\s*,\s*'([^']+)'\s*\)`)
	nowRe        = regexp.MustCompile(`(?i)\bNOW\s*\(\s*\)`)
	curdateRe    = regexp.MustCompile(`(?i)\bCURDATE\s*\(\s*\)`)
	ifnullRe     = regexp.MustCompile(`(?i)\bIFNULL\s*\(`)
	substringRe  = regexp.MustCompile(`(?i)\bSUBSTRING\s*\(`)
	concatRe     = regexp.MustCompile(`(?i)\bCONCAT\s*\(([^)]+)\)`)
)

// translateMySQLFunctions rewrites common MySQL function spellings into their
// SQLite equivalents. Models trained mostly on MySQL emit these constantly;
// fixing them here saves a repair round trip.
func translateMySQLFunctions(query string) string {
	query = yearRe.ReplaceAllString(query, "strftime('%Y', $1)")
	query = monthRe.ReplaceAllString(query, "strftime('%m', $1)")
	query = dayRe.ReplaceAllString(query, "strftime('%d', $1)")
	query = dateFormatRe.ReplaceAllString(query, "strftime('$2', $1)")
	query = nowRe.ReplaceAllString(query, "datetime('now')")
	query = curdateRe.ReplaceAllString(query, "date('now')")
	query = ifnullRe.ReplaceAllString(query, "COALESCE(")
	query = substringRe.ReplaceAllString(query, "SUBSTR(")

	// CONCAT(a, b, c) -> (a || b || c); GROUP_CONCAT is excluded by the
	// word boundary.
	for _, match := range concatRe.FindAllStringSubmatch(query, -1) {
		if len(match) < 2 {
			continue
		}
		args := strings.Split(match[1], ",")
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
		query = strings.Replace(query, match[0], "("+strings.Join(args, " || ")+")", 1)
	}

	return query
}
