// Package pipeline turns a natural-language question about a connected
// database into executed SQL plus a rendered chart. Each stage generates a
// candidate artifact with a language model, validates it, executes it and,
// on failure, feeds the error back into a bounded repair loop.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sqlchart/render"
)

// ColumnSchema describes one column of an introspected table.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	IsPK     bool   `json:"is_primary_key,omitempty"`
	IsFK     bool   `json:"is_foreign_key,omitempty"`
	FKRef    string `json:"fk_reference,omitempty"` // e.g. "products.id"
	Nullable bool   `json:"nullable,omitempty"`
}

// TableSchema describes one table: columns, an approximate row count and a
// few sample rows used to ground synthesis prompts.
type TableSchema struct {
	Name       string                   `json:"name"`
	Columns    []ColumnSchema           `json:"columns"`
	RowCount   int                      `json:"row_count,omitempty"`
	SampleData []map[string]interface{} `json:"sample_data,omitempty"`
}

// Relationship describes a detected join relationship between tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// SchemaContext is an immutable snapshot of the connected database's schema,
// taken once per session and shared read-only by both synthesis stages.
type SchemaContext struct {
	Engine        string         `json:"engine"`
	Tables        []TableSchema  `json:"tables"`
	Relationships []Relationship `json:"relationships,omitempty"`
	FetchedAt     time.Time      `json:"fetched_at"`
}

// HasColumn reports whether any table carries the named column.
func (s *SchemaContext) HasColumn(table, column string) bool {
	for _, t := range s.Tables {
		if !strings.EqualFold(t.Name, table) {
			continue
		}
		for _, c := range t.Columns {
			if strings.EqualFold(c.Name, column) {
				return true
			}
		}
	}
	return false
}

// ValidationState tags a SQL candidate's progress through the read-only gate.
type ValidationState int

const (
	StateUnvalidated ValidationState = iota
	StateValidated
	StateRejected
)

func (s ValidationState) String() string {
	switch s {
	case StateValidated:
		return "validated"
	case StateRejected:
		return "rejected"
	default:
		return "unvalidated"
	}
}

// SQLCandidate is a single generated statement. It must reach StateValidated
// before the executor will touch it.
type SQLCandidate struct {
	Text    string          `json:"text"`
	State   ValidationState `json:"state"`
	Attempt int             `json:"attempt"`
}

// TabularResult is the column-oriented materialization of a query's rows.
// Columns and Values are aligned by index; rows align by position across
// columns. Zero rows is a valid state, not an error.
type TabularResult struct {
	Columns []string        `json:"columns"`
	Values  [][]interface{} `json:"values"` // Values[i] holds column i, top to bottom
}

// RowCount returns the number of rows.
func (r *TabularResult) RowCount() int {
	if r == nil || len(r.Values) == 0 {
		return 0
	}
	return len(r.Values[0])
}

// Empty reports whether the result holds zero rows.
func (r *TabularResult) Empty() bool {
	return r.RowCount() == 0
}

// Column returns the values of the named column (case-insensitive).
func (r *TabularResult) Column(name string) ([]interface{}, bool) {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Rows converts up to limit rows into row-major maps, for prompt samples and
// display. limit <= 0 means all rows.
func (r *TabularResult) Rows(limit int) []map[string]interface{} {
	n := r.RowCount()
	if limit > 0 && limit < n {
		n = limit
	}
	rows := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[string]interface{}, len(r.Columns))
		for j, c := range r.Columns {
			row[c] = r.Values[j][i]
		}
		rows = append(rows, row)
	}
	return rows
}

// Strings returns the named column rendered as strings.
func (r *TabularResult) Strings(name string) ([]string, bool) {
	col, ok := r.Column(name)
	if !ok {
		return nil, false
	}
	out := make([]string, len(col))
	for i, v := range col {
		out[i] = scalarString(v)
	}
	return out, true
}

// Floats returns the named column coerced to float64. Values that cannot be
// coerced become 0; ok is still true since the column exists.
func (r *TabularResult) Floats(name string) ([]float64, bool) {
	col, ok := r.Column(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	for i, v := range col {
		f, _ := toFloat(v)
		out[i] = f
	}
	return out, true
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// PlotSpec is the structured chart description derived from a result set.
// Every referenced field must exist among the result's columns.
type PlotSpec struct {
	Kind    render.ChartKind `json:"kind"`
	Title   string           `json:"title,omitempty"`
	XField  string           `json:"x_field"`
	YFields []string         `json:"y_fields"`
}

// Validate checks that all referenced fields exist in the result's columns.
// A missing field is a synthesis failure, phrased so the repair loop can feed
// it straight back to the model.
func (s *PlotSpec) Validate(res *TabularResult) error {
	if s.XField == "" {
		return fmt.Errorf("plot spec names no x field")
	}
	if len(s.YFields) == 0 {
		return fmt.Errorf("plot spec names no y fields")
	}
	for _, f := range append([]string{s.XField}, s.YFields...) {
		if _, ok := res.Column(f); !ok {
			return fmt.Errorf("unknown column %q: available columns are %s",
				f, strings.Join(res.Columns, ", "))
		}
	}
	return nil
}

// PlotArtifact binds a plot spec to the generated script that realizes it.
// Artifacts are execution-scoped and discarded after the run.
type PlotArtifact struct {
	Spec    PlotSpec `json:"spec"`
	Script  string   `json:"script"`
	Attempt int      `json:"attempt"`
}

// OutcomeKind enumerates the terminal states of a pipeline run.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNoData
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoData:
		return "no_data"
	default:
		return "failure"
	}
}

// Outcome is the single result of a pipeline run. Success carries SQL,
// result and chart; NoData carries SQL and the empty result; Failure carries
// the failing stage and the last underlying error verbatim.
type Outcome struct {
	Kind   OutcomeKind
	SQL    string
	Result *TabularResult
	Chart  render.Chart
	Stage  string // "schema", "sql" or "plot"; set on failure
	Err    error
}

// Run is the aggregate record of one pipeline invocation: the question, every
// SQL candidate tried, the accepted result, the plot artifact and the final
// outcome. It is owned by the controller for the duration of the invocation.
type Run struct {
	ID        string
	Question  string
	Attempts  []SQLCandidate
	SQL       string
	Result    *TabularResult
	Artifact  *PlotArtifact
	Outcome   Outcome
	Narrative string
	Started   time.Time
	Elapsed   time.Duration
}
