package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sqlchart/dbpool"
)

// Introspector reads table and column metadata from an open connection and
// assembles the SchemaContext consumed by both synthesis stages. It issues
// only metadata and sample reads; it never mutates the database.
type Introspector struct {
	db         *sql.DB
	dialect    *dbpool.Dialect
	sampleRows int
	logf       func(string)
}

// NewIntrospector creates an introspector for the given connection.
func NewIntrospector(db *sql.DB, engine dbpool.Engine, sampleRows int, logf func(string)) *Introspector {
	if sampleRows <= 0 {
		sampleRows = 3
	}
	if logf == nil {
		logf = func(string) {}
	}
	return &Introspector{
		db:         db,
		dialect:    dbpool.NewDialect(engine),
		sampleRows: sampleRows,
		logf:       logf,
	}
}

// Describe takes a schema snapshot. Failures to read metadata surface as
// ConnectionError; a failure to sample one table is logged and skipped.
func (in *Introspector) Describe(ctx context.Context) (*SchemaContext, error) {
	tables, err := in.listTables(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("failed to list tables: %w", err)}
	}

	schema := &SchemaContext{
		Engine:    string(in.dialect.Engine),
		FetchedAt: time.Now(),
	}

	for _, name := range tables {
		columns, err := in.listColumns(ctx, name)
		if err != nil {
			return nil, &ConnectionError{Err: fmt.Errorf("failed to describe table %s: %w", name, err)}
		}

		table := TableSchema{Name: name, Columns: in.annotateKeys(columns, tables, name, schema)}

		if sample, err := in.sampleTable(ctx, name); err == nil {
			table.SampleData = sample
		} else {
			in.logf(fmt.Sprintf("[INTROSPECT] sample read for %s failed: %v", name, err))
		}
		if count, err := in.rowCount(ctx, name); err == nil {
			table.RowCount = count
		}

		schema.Tables = append(schema.Tables, table)
	}

	in.logf(fmt.Sprintf("[INTROSPECT] described %d tables (%s)", len(schema.Tables), schema.Engine))
	return schema, nil
}

func (in *Introspector) listTables(ctx context.Context) ([]string, error) {
	rows, err := in.db.QueryContext(ctx, in.dialect.ListTablesQuery())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (in *Introspector) listColumns(ctx context.Context, table string) ([]ColumnSchema, error) {
	rows, err := in.db.QueryContext(ctx, in.dialect.DescribeColumnsQuery(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnSchema
	if in.dialect.Engine == dbpool.EngineSQLite {
		// PRAGMA table_info: cid, name, type, notnull, dflt_value, pk
		for rows.Next() {
			var cid, notNull, pk int
			var name, colType string
			var dflt interface{}
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				return nil, err
			}
			columns = append(columns, ColumnSchema{
				Name:     name,
				Type:     colType,
				IsPK:     pk > 0,
				Nullable: notNull == 0,
			})
		}
	} else {
		for rows.Next() {
			var name, colType string
			if err := rows.Scan(&name, &colType); err != nil {
				return nil, err
			}
			columns = append(columns, ColumnSchema{Name: name, Type: colType})
		}
	}
	return columns, rows.Err()
}

// annotateKeys marks likely primary and foreign keys by naming convention and
// records detected relationships on the schema. Declared constraints are not
// always present (imported CSVs rarely have them), so inference from the
// table/column names covers the common "orders.product_id -> products.id"
// shape the model needs for JOINs.
func (in *Introspector) annotateKeys(columns []ColumnSchema, tables []string, tableName string, schema *SchemaContext) []ColumnSchema {
	for i := range columns {
		lower := strings.ToLower(columns[i].Name)
		if lower == "id" {
			columns[i].IsPK = true
			continue
		}
		if !strings.HasSuffix(lower, "_id") {
			continue
		}

		ref := strings.TrimSuffix(lower, "_id")
		for _, t := range tables {
			tl := strings.ToLower(t)
			if tl != ref && tl != ref+"s" {
				continue
			}
			columns[i].IsFK = true
			columns[i].FKRef = t + ".id"
			schema.Relationships = append(schema.Relationships, Relationship{
				FromTable:  tableName,
				FromColumn: columns[i].Name,
				ToTable:    t,
				ToColumn:   "id",
			})
			break
		}
	}
	return columns
}

func (in *Introspector) sampleTable(ctx context.Context, table string) ([]map[string]interface{}, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", in.dialect.QuoteIdent(table), in.sampleRows)
	rows, err := in.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var sample []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if s, ok := v.(string); ok && len(s) > 50 {
				v = s[:47] + "..."
			}
			row[c] = v
		}
		sample = append(sample, row)
	}
	return sample, rows.Err()
}

func (in *Introspector) rowCount(ctx context.Context, table string) (int, error) {
	var count int
	err := in.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", in.dialect.QuoteIdent(table))).Scan(&count)
	return count, err
}

// FormatForPrompt renders the schema the way synthesis prompts consume it:
// a DDL-like table listing with key markers, sample rows and detected join
// relationships.
func (s *SchemaContext) FormatForPrompt() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Database Schema (Type: %s)\n\n", strings.ToUpper(s.Engine)))
	sb.WriteString("### Tables\n\n")
	for _, table := range s.Tables {
		sb.WriteString(fmt.Sprintf("**Table: %s**", table.Name))
		if table.RowCount > 0 {
			sb.WriteString(fmt.Sprintf(" (~%d rows)", table.RowCount))
		}
		sb.WriteString("\nColumns:\n")
		for _, col := range table.Columns {
			marker := "  "
			if col.IsPK {
				marker = "PK"
			} else if col.IsFK {
				marker = "FK"
			}
			sb.WriteString(fmt.Sprintf("  [%s] %s %s", marker, col.Name, col.Type))
			if col.FKRef != "" {
				sb.WriteString(fmt.Sprintf(" -> %s", col.FKRef))
			}
			sb.WriteString("\n")
		}

		if len(table.SampleData) > 0 {
			sampleJSON, err := json.Marshal(table.SampleData)
			if err == nil {
				sb.WriteString(fmt.Sprintf("Sample data: %s\n", sampleJSON))
			}
		}
		sb.WriteString("\n")
	}

	if len(s.Relationships) > 0 {
		sb.WriteString("### Detected Relationships (for JOIN)\n")
		for _, rel := range s.Relationships {
			sb.WriteString(fmt.Sprintf("- %s.%s -> %s.%s\n",
				rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn))
		}
	}

	return sb.String()
}
