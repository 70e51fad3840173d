package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"sqlchart/dbpool"
	"sqlchart/render"
)

// Options tunes a Session. Zero values fall back to the defaults below.
type Options struct {
	MaxAttempts      int
	SampleRows       int
	RowLimit         int
	StatementTimeout time.Duration
	RenderTimeout    time.Duration
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.SampleRows <= 0 {
		o.SampleRows = 3
	}
	if o.RowLimit <= 0 {
		o.RowLimit = 1000
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = 60 * time.Second
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = 30 * time.Second
	}
}

// Session wires the pipeline stages over one database connection and one chat
// model. It caches the introspected schema between runs; Invalidate drops the
// cache after a reconnect or a schema change.
type Session struct {
	introspector *Introspector
	sqlSynth     *SQLSynthesizer
	sqlExec      *SQLExecutor
	plotSynth    *PlotSynthesizer
	plotExec     *PlotExecutor
	opts         Options
	logf         func(string)

	mu     sync.Mutex
	schema *SchemaContext
}

// NewSession builds a session from an open database handle, its engine, a
// bound chat model and a chart renderer.
func NewSession(db *sql.DB, engine dbpool.Engine, chatModel model.ChatModel, renderer render.Renderer, opts Options, logf func(string)) *Session {
	opts.fillDefaults()
	if logf == nil {
		logf = func(string) {}
	}
	return &Session{
		introspector: NewIntrospector(db, engine, opts.SampleRows, logf),
		sqlSynth:     NewSQLSynthesizer(chatModel, engine, logf),
		sqlExec:      NewSQLExecutor(db, engine, opts.RowLimit, opts.StatementTimeout, logf),
		plotSynth:    NewPlotSynthesizer(chatModel, opts.SampleRows, logf),
		plotExec:     NewPlotExecutor(renderer, opts.RenderTimeout, logf),
		opts:         opts,
		logf:         logf,
	}
}

// Schema returns the cached schema context, introspecting on first use.
func (s *Session) Schema(ctx context.Context) (*SchemaContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return s.schema, nil
	}
	schema, err := s.introspector.Describe(ctx)
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return schema, nil
}

// Invalidate drops the cached schema so the next run re-introspects.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.schema = nil
	s.mu.Unlock()
}

// Run executes the full pipeline for one question. It always returns a Run
// whose Outcome is one of Success, NoData or Failure; errors never escape as
// bare return values. Each stage repairs independently up to MaxAttempts;
// once a stage is exhausted the run fails without revisiting earlier stages.
func (s *Session) Run(ctx context.Context, question string) *Run {
	run := &Run{
		ID:       uuid.NewString(),
		Question: question,
		Started:  time.Now(),
	}
	defer func() {
		run.Elapsed = time.Since(run.Started)
		s.logf(fmt.Sprintf("[PIPELINE] run %s finished: %s (%.2fs)", run.ID, run.Outcome.Kind, run.Elapsed.Seconds()))
	}()

	s.logf(fmt.Sprintf("[PIPELINE] run %s: %s", run.ID, truncate(question, 200)))

	schema, err := s.Schema(ctx)
	if err != nil {
		run.Outcome = Outcome{Kind: OutcomeFailure, Stage: "schema", Err: err}
		run.Narrative = fmt.Sprintf("Could not inspect the database: %v", err)
		return run
	}

	type sqlOutcome struct {
		cand   *SQLCandidate
		result *TabularResult
	}

	var prior *SQLCandidate
	so, err := repairLoop(ctx, "sql", s.opts.MaxAttempts, s.logf, func(ctx context.Context, attempt int, feedback string) (sqlOutcome, error) {
		cand, err := s.sqlSynth.Synthesize(ctx, question, schema, attempt, prior, feedback)
		if cand != nil {
			prior = cand
			run.Attempts = append(run.Attempts, *cand)
		}
		if err != nil {
			return sqlOutcome{}, err
		}
		result, err := s.sqlExec.Execute(ctx, cand)
		if err != nil {
			return sqlOutcome{}, err
		}
		return sqlOutcome{cand: cand, result: result}, nil
	})
	if err != nil {
		run.Outcome = Outcome{Kind: OutcomeFailure, Stage: "sql", Err: err}
		run.Narrative = fmt.Sprintf("Could not answer the question with SQL: %v", err)
		return run
	}

	run.SQL = so.cand.Text
	run.Result = so.result

	if so.result.Empty() {
		run.Outcome = Outcome{Kind: OutcomeNoData, SQL: so.cand.Text, Result: so.result}
		run.Narrative = "The query ran successfully but returned no rows, so there is nothing to chart."
		return run
	}

	type plotOutcome struct {
		artifact *PlotArtifact
		chart    render.Chart
	}

	var priorArt *PlotArtifact
	po, err := repairLoop(ctx, "plot", s.opts.MaxAttempts, s.logf, func(ctx context.Context, attempt int, feedback string) (plotOutcome, error) {
		art, err := s.plotSynth.Synthesize(ctx, question, so.result, attempt, priorArt, feedback)
		if art != nil {
			priorArt = art
		}
		if err != nil {
			return plotOutcome{}, err
		}
		chart, err := s.plotExec.Render(ctx, art, so.result)
		if err != nil {
			return plotOutcome{}, err
		}
		return plotOutcome{artifact: art, chart: chart}, nil
	})
	if err != nil {
		run.Outcome = Outcome{Kind: OutcomeFailure, SQL: so.cand.Text, Result: so.result, Stage: "plot", Err: err}
		run.Narrative = fmt.Sprintf("The query succeeded but the chart could not be produced: %v", err)
		return run
	}

	run.Artifact = po.artifact
	run.Outcome = Outcome{Kind: OutcomeSuccess, SQL: so.cand.Text, Result: so.result, Chart: po.chart}
	run.Narrative = fmt.Sprintf("Answered with a %s chart over %d rows.", po.artifact.Spec.Kind, so.result.RowCount())
	return run
}
