package dbpool

import (
	"fmt"
	"strings"
)

// Dialect provides engine-specific SQL fragments so callers don't need to
// know which engine is in use.
type Dialect struct {
	Engine Engine
}

// NewDialect creates a Dialect for the given engine.
func NewDialect(engine Engine) *Dialect {
	return &Dialect{Engine: engine}
}

// QuoteIdent returns a properly quoted SQL identifier.
// SQLite/Snowflake use double quotes; MySQL uses backticks.
func (d *Dialect) QuoteIdent(name string) string {
	switch d.Engine {
	case EngineMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// ListTablesQuery returns the SQL to list user tables.
func (d *Dialect) ListTablesQuery() string {
	switch d.Engine {
	case EngineSQLite:
		return "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'"
	case EngineSnowflake:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_type = 'BASE TABLE'"
	default:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()"
	}
}

// DescribeColumnsQuery returns the SQL to describe columns for a table.
// For SQLite the result shape is PRAGMA table_info; for the others it is
// (column_name, data_type) pairs.
func (d *Dialect) DescribeColumnsQuery(tableName string) string {
	switch d.Engine {
	case EngineSQLite:
		return fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdent(tableName))
	case EngineSnowflake:
		return fmt.Sprintf("SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = CURRENT_SCHEMA() AND table_name = '%s' ORDER BY ordinal_position",
			strings.ReplaceAll(tableName, "'", "''"))
	default:
		return fmt.Sprintf("SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = '%s' ORDER BY ordinal_position",
			strings.ReplaceAll(tableName, "'", "''"))
	}
}

// SynthesisHints returns dialect rules embedded into SQL generation prompts.
// Generated queries fail most often on date and string functions, so those
// are spelled out per engine.
func (d *Dialect) SynthesisHints() string {
	switch d.Engine {
	case EngineSQLite:
		return `SQLite syntax rules:
- Date: strftime('%Y', col), strftime('%m', col), strftime('%d', col)
- Concat: col1 || ' ' || col2 (NOT CONCAT())
- COALESCE(a, b) instead of IFNULL()
- SUBSTR(str, start, len)
- NO YEAR(), MONTH(), DAY() functions!
- Current: date('now'), datetime('now')`
	case EngineSnowflake:
		return `Snowflake syntax rules:
- Date: YEAR(col), MONTH(col), DAY(col), DATE_TRUNC('month', col)
- Date format: TO_CHAR(col, 'YYYY-MM')
- Concat: col1 || col2 or CONCAT(col1, col2)
- IFNULL(a, b) or COALESCE(a, b)
- Current: CURRENT_TIMESTAMP(), CURRENT_DATE()
- Unquoted identifiers are folded to UPPERCASE`
	default:
		return `MySQL syntax rules:
- Date: YEAR(col), MONTH(col), DAY(col)
- Date format: DATE_FORMAT(col, '%Y-%m')
- Concat: CONCAT(col1, ' ', col2)
- IFNULL(a, b) or COALESCE(a, b)
- SUBSTRING(str, start, len)
- Current: NOW(), CURDATE()`
	}
}
