package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoSchema "github.com/cloudwego/eino/schema"

	"sqlchart/dbpool"
)

// SQLSynthesizer asks the language model for a single SQL statement answering
// the question against the introspected schema, then validates it through the
// read-only gate before anything touches the database.
type SQLSynthesizer struct {
	chatModel model.ChatModel
	dialect   *dbpool.Dialect
	logf      func(string)
}

// NewSQLSynthesizer creates a synthesizer for the given engine.
func NewSQLSynthesizer(chatModel model.ChatModel, engine dbpool.Engine, logf func(string)) *SQLSynthesizer {
	if logf == nil {
		logf = func(string) {}
	}
	return &SQLSynthesizer{
		chatModel: chatModel,
		dialect:   dbpool.NewDialect(engine),
		logf:      logf,
	}
}

// Synthesize generates one validated SQL candidate. prior and priorErr carry
// the previous failed attempt for repair calls; both are empty on the first
// attempt. The returned candidate has passed the read-only gate.
func (s *SQLSynthesizer) Synthesize(ctx context.Context, question string, schema *SchemaContext, attempt int, prior *SQLCandidate, priorErr string) (*SQLCandidate, error) {
	prompt := s.buildPrompt(question, schema, prior, priorErr)

	msgs := []*einoSchema.Message{
		{Role: einoSchema.System, Content: s.systemPrompt()},
		{Role: einoSchema.User, Content: prompt},
	}

	resp, err := s.chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, &SynthesisError{Reason: "model call failed", Err: err}
	}

	text, ok := extractSQL(resp.Content)
	if !ok {
		return nil, &SynthesisError{Reason: "unparsable response: no SQL statement found"}
	}

	cand := &SQLCandidate{Text: text, State: StateUnvalidated, Attempt: attempt}
	if err := ValidateReadOnly(cand); err != nil {
		return cand, err
	}

	s.logf(fmt.Sprintf("[SQL-SYNTH] attempt %d produced: %s", attempt, truncate(text, 200)))
	return cand, nil
}

func (s *SQLSynthesizer) systemPrompt() string {
	eng := strings.ToUpper(string(s.dialect.Engine))
	return fmt.Sprintf(`## Role
You are a senior database expert, proficient in %s SQL syntax.

## Constraints
1. NO HALLUCINATION: Only use columns and tables that exist in the provided schema.
2. READ ONLY: Emit exactly one SELECT statement (WITH ... SELECT is allowed). Never emit INSERT, UPDATE, DELETE, DDL or any other mutating statement.
3. PERFORMANCE: Prefer JOIN over subqueries, always include a reasonable LIMIT.
4. SYNTAX: All string literals must use single quotes. Use only %s-compatible functions.
5. SAFETY: Handle NULLs with COALESCE and guard against division by zero.`, eng, eng)
}

func (s *SQLSynthesizer) buildPrompt(question string, schema *SchemaContext, prior *SQLCandidate, priorErr string) string {
	var sb strings.Builder

	if prior != nil && priorErr != "" {
		sb.WriteString("You are fixing a failed SQL query.\n\n")
		sb.WriteString("## Previous SQL\n```sql\n")
		sb.WriteString(prior.Text)
		sb.WriteString("\n```\n\n## Error Message\n")
		sb.WriteString(priorErr)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## User Question\n\"")
	sb.WriteString(question)
	sb.WriteString("\"\n\n## SQL Dialect Rules\n")
	sb.WriteString(s.dialect.SynthesisHints())
	sb.WriteString("\n\n")
	sb.WriteString(schema.FormatForPrompt())
	sb.WriteString(`
## Instructions
1. Analyze the question and write exactly ONE SQL statement that answers it.
2. Use JOINs along the detected relationships when multiple tables are needed.
3. Use meaningful GROUP BY clauses for aggregation.
4. ONLY use tables and columns from the schema above.

## Output Format
Output ONLY the SQL query, wrapped in a sql code block:
` + "```sql\nYOUR SQL HERE\n```")

	return sb.String()
}

var (
	sqlFenceRe     = regexp.MustCompile("(?s)```sql\\s*(.+?)\\s*```")
	anyFenceRe     = regexp.MustCompile("(?s)```\\s*(.+?)\\s*```")
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// extractSQL pulls the first statement-shaped span out of a model response:
// a ```sql fence, then any fence, then the raw text. The span must at least
// look like a query to count.
func extractSQL(response string) (string, bool) {
	candidates := []string{}
	if m := sqlFenceRe.FindStringSubmatch(response); len(m) > 1 {
		candidates = append(candidates, m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(response); len(m) > 1 {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, response)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		upper := strings.ToUpper(stripComments(c))
		if strings.Contains(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
			return c, true
		}
	}
	return "", false
}

func stripComments(query string) string {
	query = lineCommentRe.ReplaceAllString(query, "")
	query = blockCommentRe.ReplaceAllString(query, "")
	return strings.TrimSpace(query)
}

// mutatingKeywords are rejected anywhere in a candidate statement. REPLACE is
// included even though some dialects use it as a string function; losing that
// function is cheaper than risking a write.
var mutatingKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "REPLACE", "MERGE", "GRANT", "REVOKE",
	"ATTACH", "DETACH", "VACUUM", "PRAGMA",
}

var keywordRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(mutatingKeywords))
	for _, kw := range mutatingKeywords {
		res[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return res
}()

// ValidateReadOnly is the hard gate between synthesis and execution: the
// statement must be a single SELECT (or WITH ... SELECT) containing no
// mutating keywords. On violation the candidate is marked rejected and a
// SynthesisError is returned; the statement never reaches the database.
func ValidateReadOnly(cand *SQLCandidate) error {
	clean := stripComments(cand.Text)
	upper := strings.ToUpper(clean)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		cand.State = StateRejected
		return &SynthesisError{Reason: fmt.Sprintf("unsafe statement: only SELECT queries are allowed, got %q", truncate(clean, 80))}
	}

	// A second statement after a semicolon could smuggle a write.
	if rest := strings.TrimRight(upper, "; \t\n\r"); strings.Contains(rest, ";") {
		cand.State = StateRejected
		return &SynthesisError{Reason: "unsafe statement: multiple statements are not allowed"}
	}

	for _, kw := range mutatingKeywords {
		if keywordRes[kw].MatchString(upper) {
			cand.State = StateRejected
			return &SynthesisError{Reason: fmt.Sprintf("unsafe statement: %s is not allowed (only SELECT queries)", kw)}
		}
	}

	cand.State = StateValidated
	return nil
}
