package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"sqlchart/dbpool"
	"sqlchart/render"
)

// MockChatModel replays scripted responses in order, repeating the last one
// when the script runs out. It records every call for assertions.
type MockChatModel struct {
	Responses []string
	Err       error
	Calls     int
	Inputs    [][]*schema.Message
}

func (m *MockChatModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.Inputs = append(m.Inputs, input)
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &schema.Message{Role: schema.Assistant, Content: ""}, nil
	}
	i := m.Calls - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return &schema.Message{Role: schema.Assistant, Content: m.Responses[i]}, nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("mock: streaming not supported")
}

// LastUserPrompt returns the user message of the most recent call.
func (m *MockChatModel) LastUserPrompt() string {
	if len(m.Inputs) == 0 {
		return ""
	}
	last := m.Inputs[len(m.Inputs)-1]
	for _, msg := range last {
		if msg.Role == schema.User {
			return msg.Content
		}
	}
	return ""
}

// openTestDB opens an in-memory SQLite database seeded with a small
// products/orders dataset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	manager := dbpool.New(dbpool.EngineSQLite, nil)
	db, err := manager.Open(dbpool.OpenOptions{DSN: ":memory:", MaxRetries: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL, price REAL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, product_id INTEGER, quantity INTEGER, created_at TEXT)`,
		`INSERT INTO products (id, name, price) VALUES
			(1, 'Widget', 9.99),
			(2, 'Gadget', 24.50),
			(3, 'Doohickey', 3.25)`,
		`INSERT INTO orders (id, product_id, quantity, created_at) VALUES
			(1, 1, 3, '2026-01-05'),
			(2, 1, 1, '2026-01-12'),
			(3, 2, 2, '2026-02-02'),
			(4, 3, 5, '2026-02-14'),
			(5, 2, 4, '2026-03-01')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed test database: %v", err)
		}
	}
	return db
}

func validatedCandidate(t *testing.T, text string) *SQLCandidate {
	t.Helper()
	cand := &SQLCandidate{Text: text}
	if err := ValidateReadOnly(cand); err != nil {
		t.Fatalf("candidate unexpectedly rejected: %v", err)
	}
	return cand
}

// recordingRenderer captures chart constructor calls and returns stub charts.
type recordingRenderer struct {
	kind   render.ChartKind
	title  string
	x      []string
	series []render.Series
	labels []string
	values []float64
}

// nopChart satisfies render.Chart without producing output.
type nopChart struct{}

func (nopChart) Render(w io.Writer) error { return nil }

func (r *recordingRenderer) Bar(title string, x []string, series []render.Series) (render.Chart, error) {
	r.kind, r.title, r.x, r.series = render.KindBar, title, x, series
	return nopChart{}, nil
}

func (r *recordingRenderer) Line(title string, x []string, series []render.Series) (render.Chart, error) {
	r.kind, r.title, r.x, r.series = render.KindLine, title, x, series
	return nopChart{}, nil
}

func (r *recordingRenderer) Pie(title string, labels []string, values []float64) (render.Chart, error) {
	r.kind, r.title, r.labels, r.values = render.KindPie, title, labels, values
	return nopChart{}, nil
}

func (r *recordingRenderer) Scatter(title string, x []string, series []render.Series) (render.Chart, error) {
	r.kind, r.title, r.x, r.series = render.KindScatter, title, x, series
	return nopChart{}, nil
}
