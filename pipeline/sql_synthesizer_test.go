package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sqlchart/dbpool"
)

func testSchema() *SchemaContext {
	return &SchemaContext{
		Engine: "sqlite",
		Tables: []TableSchema{
			{Name: "products", Columns: []ColumnSchema{
				{Name: "id", Type: "INTEGER", IsPK: true},
				{Name: "name", Type: "TEXT"},
				{Name: "price", Type: "REAL"},
			}},
			{Name: "orders", Columns: []ColumnSchema{
				{Name: "id", Type: "INTEGER", IsPK: true},
				{Name: "product_id", Type: "INTEGER", IsFK: true, FKRef: "products.id"},
				{Name: "quantity", Type: "INTEGER"},
			}},
		},
		Relationships: []Relationship{
			{FromTable: "orders", FromColumn: "product_id", ToTable: "products", ToColumn: "id"},
		},
	}
}

func TestValidateReadOnlyGate(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"plain select", "SELECT * FROM products", true},
		{"lowercase select", "select name, price from products", true},
		{"cte", "WITH top AS (SELECT * FROM products) SELECT * FROM top", true},
		{"trailing semicolon", "SELECT 1;", true},
		{"leading comment", "-- total sales\nSELECT SUM(quantity) FROM orders", true},
		{"updatedefault column name", "SELECT updated_at FROM products", true},
		{"insert", "INSERT INTO products (name) VALUES ('x')", false},
		{"update", "UPDATE products SET price = 0", false},
		{"delete", "DELETE FROM orders", false},
		{"drop", "DROP TABLE products", false},
		{"create", "CREATE TABLE t (id INTEGER)", false},
		{"alter", "ALTER TABLE products ADD COLUMN x TEXT", false},
		{"truncate", "TRUNCATE TABLE orders", false},
		{"pragma", "PRAGMA writable_schema = 1", false},
		{"select then drop", "SELECT 1; DROP TABLE products", false},
		{"nested delete", "SELECT * FROM products WHERE id IN (DELETE FROM orders RETURNING id)", false},
		{"comment-hidden drop", "SELECT 1 /* x */; DROP TABLE products", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cand := &SQLCandidate{Text: tc.sql}
			err := ValidateReadOnly(cand)
			if tc.ok {
				if err != nil {
					t.Fatalf("rejected valid query: %v", err)
				}
				if cand.State != StateValidated {
					t.Errorf("state = %s, want validated", cand.State)
				}
				return
			}
			if err == nil {
				t.Fatal("unsafe statement passed the gate")
			}
			if cand.State != StateRejected {
				t.Errorf("state = %s, want rejected", cand.State)
			}
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				t.Errorf("expected SynthesisError, got %T", err)
			}
		})
	}
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
		ok       bool
	}{
		{"sql fence", "Here you go:\n```sql\nSELECT 1\n```", "SELECT 1", true},
		{"bare fence", "```\nSELECT name FROM products\n```", "SELECT name FROM products", true},
		{"raw statement", "SELECT COUNT(*) FROM orders", "SELECT COUNT(*) FROM orders", true},
		{"prose around fence", "I think this works.\n```sql\nWITH t AS (SELECT 1) SELECT * FROM t\n```\nLet me know.", "WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"no sql at all", "I cannot answer that question.", "", false},
		{"typo keyword", "```sql\nSELCT * FROM products\n```", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractSQL(tc.response)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSynthesizeValidCandidate(t *testing.T) {
	mock := &MockChatModel{Responses: []string{
		"```sql\nSELECT name, SUM(quantity) AS total FROM orders JOIN products ON orders.product_id = products.id GROUP BY name\n```",
	}}
	synth := NewSQLSynthesizer(mock, dbpool.EngineSQLite, nil)

	cand, err := synth.Synthesize(context.Background(), "total quantity per product", testSchema(), 1, nil, "")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if cand.State != StateValidated {
		t.Errorf("state = %s, want validated", cand.State)
	}
	if !strings.Contains(cand.Text, "JOIN products") {
		t.Errorf("unexpected candidate: %q", cand.Text)
	}

	prompt := mock.LastUserPrompt()
	for _, want := range []string{"total quantity per product", "Table: products", "orders.product_id -> products.id", "SQLite syntax rules"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestSynthesizeUnparsableResponse(t *testing.T) {
	mock := &MockChatModel{Responses: []string{"Sorry, I do not understand the question."}}
	synth := NewSQLSynthesizer(mock, dbpool.EngineSQLite, nil)

	_, err := synth.Synthesize(context.Background(), "anything", testSchema(), 1, nil, "")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "unparsable") {
		t.Errorf("error should identify an unparsable response: %v", err)
	}
}

func TestSynthesizeMutatingResponseRejected(t *testing.T) {
	mock := &MockChatModel{Responses: []string{"```sql\nSELECT 1; DROP TABLE products\n```"}}
	synth := NewSQLSynthesizer(mock, dbpool.EngineSQLite, nil)

	cand, err := synth.Synthesize(context.Background(), "anything", testSchema(), 1, nil, "")
	if err == nil {
		t.Fatal("mutating statement passed synthesis")
	}
	if cand == nil || cand.State != StateRejected {
		t.Error("rejected candidate should be returned for repair context")
	}
}

func TestSynthesizeRepairPromptCarriesFailure(t *testing.T) {
	mock := &MockChatModel{Responses: []string{"```sql\nSELECT name FROM products\n```"}}
	synth := NewSQLSynthesizer(mock, dbpool.EngineSQLite, nil)

	prior := &SQLCandidate{Text: "SELECT namee FROM products", Attempt: 1}
	_, err := synth.Synthesize(context.Background(), "product names", testSchema(), 2, prior, "no such column: namee")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	prompt := mock.LastUserPrompt()
	if !strings.Contains(prompt, "SELECT namee FROM products") {
		t.Error("repair prompt is missing the previous SQL")
	}
	if !strings.Contains(prompt, "no such column: namee") {
		t.Error("repair prompt is missing the error message")
	}
}

func TestSynthesizeModelFailure(t *testing.T) {
	mock := &MockChatModel{Err: errors.New("connection reset")}
	synth := NewSQLSynthesizer(mock, dbpool.EngineMySQL, nil)

	_, err := synth.Synthesize(context.Background(), "anything", testSchema(), 1, nil, "")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %T: %v", err, err)
	}
}
