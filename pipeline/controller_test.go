package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sqlchart/dbpool"
)

const joinSQLResponse = "```sql\n" +
	"SELECT products.name AS name, SUM(orders.quantity) AS total " +
	"FROM orders JOIN products ON orders.product_id = products.id " +
	"GROUP BY products.name\n```"

func newTestSession(t *testing.T, mock *MockChatModel) (*Session, *recordingRenderer) {
	t.Helper()
	rec := &recordingRenderer{}
	db := openTestDB(t)
	session := NewSession(db, dbpool.EngineSQLite, mock, rec, Options{MaxAttempts: 3}, nil)
	return session, rec
}

func TestRunQuestionToChart(t *testing.T) {
	mock := &MockChatModel{Responses: []string{joinSQLResponse, goodPlotResponse}}
	session, rec := newTestSession(t, mock)

	run := session.Run(context.Background(), "total quantity sold per product")

	if run.Outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success", run.Outcome.Kind, run.Outcome.Err)
	}
	if run.Outcome.Chart == nil {
		t.Fatal("success outcome carries no chart")
	}
	if !strings.Contains(run.SQL, "JOIN products") {
		t.Errorf("unexpected SQL: %q", run.SQL)
	}
	if run.Result.RowCount() != 3 {
		t.Errorf("got %d rows, want 3", run.Result.RowCount())
	}
	if len(run.Attempts) != 1 {
		t.Errorf("got %d SQL attempts, want 1", len(run.Attempts))
	}
	if mock.Calls != 2 {
		t.Errorf("model called %d times, want 2 (one per stage)", mock.Calls)
	}
	if rec.kind == "" {
		t.Error("renderer never invoked")
	}
	if run.ID == "" || run.Elapsed <= 0 {
		t.Error("run bookkeeping incomplete")
	}
}

func TestRunRepairsBrokenSQL(t *testing.T) {
	mock := &MockChatModel{Responses: []string{
		"```sql\nSELECT name, SUM(quantity) AS total FROM ordres GROUP BY name\n```",
		joinSQLResponse,
		goodPlotResponse,
	}}
	session, _ := newTestSession(t, mock)

	run := session.Run(context.Background(), "total quantity sold per product")

	if run.Outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success after repair", run.Outcome.Kind, run.Outcome.Err)
	}
	if len(run.Attempts) != 2 {
		t.Fatalf("got %d SQL attempts, want 2", len(run.Attempts))
	}

	// The second synthesis call must have seen the database error.
	repairPrompt := ""
	for _, msg := range mock.Inputs[1] {
		repairPrompt += msg.Content
	}
	if !strings.Contains(repairPrompt, "ordres") {
		t.Error("repair prompt is missing the failed SQL")
	}
	if !strings.Contains(strings.ToLower(repairPrompt), "no such table") {
		t.Error("repair prompt is missing the database error text")
	}
}

func TestRunEmptyResultShortCircuits(t *testing.T) {
	mock := &MockChatModel{Responses: []string{
		"```sql\nSELECT name, price FROM products WHERE price > 100000\n```",
	}}
	session, rec := newTestSession(t, mock)

	run := session.Run(context.Background(), "products over 100k")

	if run.Outcome.Kind != OutcomeNoData {
		t.Fatalf("outcome = %s (%v), want no_data", run.Outcome.Kind, run.Outcome.Err)
	}
	if mock.Calls != 1 {
		t.Errorf("model called %d times; plot synthesis must never run on empty results", mock.Calls)
	}
	if rec.kind != "" {
		t.Error("renderer invoked for an empty result")
	}
	if run.Outcome.SQL == "" || run.Outcome.Result == nil {
		t.Error("no_data outcome should keep the SQL and the empty result")
	}
	if run.Outcome.Chart != nil {
		t.Error("no_data outcome carries a chart")
	}
}

func TestRunRepairsBrokenPlotSpec(t *testing.T) {
	badPlot := "```json\n" +
		`{"kind": "bar", "x_field": "name", "y_fields": ["totall"]}` +
		"\n```\n```python\nbar(x=column(\"name\"), y=column(\"totall\"))\n```"
	mock := &MockChatModel{Responses: []string{joinSQLResponse, badPlot, goodPlotResponse}}
	session, _ := newTestSession(t, mock)

	run := session.Run(context.Background(), "total quantity sold per product")

	if run.Outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success after plot repair", run.Outcome.Kind, run.Outcome.Err)
	}
	if mock.Calls != 3 {
		t.Errorf("model called %d times, want 3", mock.Calls)
	}

	repairPrompt := ""
	for _, msg := range mock.Inputs[2] {
		repairPrompt += msg.Content
	}
	if !strings.Contains(repairPrompt, `unknown column "totall"`) {
		t.Error("plot repair prompt is missing the validation error")
	}
}

func TestRunSQLStageExhaustion(t *testing.T) {
	mock := &MockChatModel{Responses: []string{"```sql\nDELETE FROM orders; SELECT 1\n```"}}
	session, _ := newTestSession(t, mock)

	run := session.Run(context.Background(), "destroy everything")

	if run.Outcome.Kind != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", run.Outcome.Kind)
	}
	if run.Outcome.Stage != "sql" {
		t.Errorf("stage = %q, want sql", run.Outcome.Stage)
	}
	if mock.Calls != 3 {
		t.Errorf("model called %d times, want the full budget of 3", mock.Calls)
	}

	var pipeErr *PipelineError
	if !errors.As(run.Outcome.Err, &pipeErr) {
		t.Fatalf("expected PipelineError, got %T", run.Outcome.Err)
	}
	if pipeErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", pipeErr.Attempts)
	}
	if !strings.Contains(run.Outcome.Err.Error(), "only SELECT") {
		t.Errorf("final gate error not preserved: %v", run.Outcome.Err)
	}
	for _, cand := range run.Attempts {
		if cand.State == StateValidated {
			t.Errorf("mutating candidate %q was validated", cand.Text)
		}
	}
}

func TestRunPlotStageExhaustionKeepsSQL(t *testing.T) {
	badPlot := "```json\n" +
		`{"kind": "bar", "x_field": "name", "y_fields": ["totall"]}` +
		"\n```\n```python\nbar(x=column(\"name\"), y=column(\"totall\"))\n```"
	mock := &MockChatModel{Responses: []string{joinSQLResponse, badPlot}}
	session, _ := newTestSession(t, mock)

	run := session.Run(context.Background(), "total quantity sold per product")

	if run.Outcome.Kind != OutcomeFailure || run.Outcome.Stage != "plot" {
		t.Fatalf("outcome = %s stage=%q, want plot failure", run.Outcome.Kind, run.Outcome.Stage)
	}
	// One SQL call plus the full plot budget; the SQL stage is never re-run.
	if mock.Calls != 4 {
		t.Errorf("model called %d times, want 4", mock.Calls)
	}
	if run.Outcome.SQL == "" || run.Outcome.Result == nil {
		t.Error("plot failure should keep the successful SQL and result")
	}
}

func TestRunCancellation(t *testing.T) {
	mock := &MockChatModel{Responses: []string{joinSQLResponse, goodPlotResponse}}
	session, _ := newTestSession(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := session.Run(ctx, "total quantity sold per product")

	if run.Outcome.Kind != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", run.Outcome.Kind)
	}
	if !errors.Is(run.Outcome.Err, context.Canceled) {
		t.Errorf("cancellation cause not preserved: %v", run.Outcome.Err)
	}
}

func TestSchemaCachedAcrossRuns(t *testing.T) {
	mock := &MockChatModel{Responses: []string{joinSQLResponse, goodPlotResponse}}
	session, _ := newTestSession(t, mock)

	first, err := session.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	second, err := session.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if first != second {
		t.Error("schema was re-introspected despite the cache")
	}

	session.Invalidate()
	third, err := session.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if third == first {
		t.Error("Invalidate did not drop the cached schema")
	}
}

func TestRunDeterministicForFixedModelAndData(t *testing.T) {
	mock := &MockChatModel{Responses: []string{
		joinSQLResponse, goodPlotResponse,
		joinSQLResponse, goodPlotResponse,
	}}
	session, _ := newTestSession(t, mock)

	first := session.Run(context.Background(), "total quantity sold per product")
	second := session.Run(context.Background(), "total quantity sold per product")

	if first.Outcome.Kind != second.Outcome.Kind {
		t.Errorf("outcome changed across runs: %s vs %s", first.Outcome.Kind, second.Outcome.Kind)
	}
	if first.SQL != second.SQL {
		t.Errorf("SQL changed across runs:\n%q\n%q", first.SQL, second.SQL)
	}
	if first.ID == second.ID {
		t.Error("runs must not share identifiers")
	}
}

func TestRunSchemaFailure(t *testing.T) {
	mock := &MockChatModel{}
	rec := &recordingRenderer{}
	db := openTestDB(t)
	db.Close()
	session := NewSession(db, dbpool.EngineSQLite, mock, rec, Options{}, nil)

	run := session.Run(context.Background(), "anything")

	if run.Outcome.Kind != OutcomeFailure || run.Outcome.Stage != "schema" {
		t.Fatalf("outcome = %s stage=%q, want schema failure", run.Outcome.Kind, run.Outcome.Stage)
	}
	var connErr *ConnectionError
	if !errors.As(run.Outcome.Err, &connErr) {
		t.Errorf("expected ConnectionError, got %T", run.Outcome.Err)
	}
	if mock.Calls != 0 {
		t.Errorf("model called %d times after a connection failure", mock.Calls)
	}
}
