package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"sqlchart/render"
)

// PlotExecutor runs generated plot scripts inside a Starlark interpreter.
// The namespace is built fresh for every run and contains only the result
// data and the renderer's chart constructors; no filesystem, network or
// process access exists inside the interpreter. A wall-clock timeout and an
// execution-step cap bound untrusted code that loops.
type PlotExecutor struct {
	renderer render.Renderer
	timeout  time.Duration
	maxSteps uint64
	logf     func(string)
}

// NewPlotExecutor creates an executor backed by the given renderer.
func NewPlotExecutor(renderer render.Renderer, timeout time.Duration, logf func(string)) *PlotExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logf == nil {
		logf = func(string) {}
	}
	return &PlotExecutor{
		renderer: renderer,
		timeout:  timeout,
		maxSteps: 10_000_000,
		logf:     logf,
	}
}

// Render executes the artifact's script against the result and returns the
// chart it constructs. Any runtime fault surfaces as a RenderError carrying
// the interpreter's message, which feeds the plot stage's repair loop.
func (e *PlotExecutor) Render(ctx context.Context, art *PlotArtifact, res *TabularResult) (render.Chart, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var chart render.Chart
	env := e.buildEnv(res, &chart)

	// Scripts are written as top-level statements, so loops and conditionals
	// must be legal outside function bodies. while stays off; the step cap
	// bounds for loops.
	opts := &syntax.FileOptions{
		Set:             true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
	_, prog, err := starlark.SourceProgramOptions(opts, "plot.star", art.Script, env.Has)
	if err != nil {
		return nil, &RenderError{Err: fmt.Errorf("script failed to compile: %w", err)}
	}

	thread := &starlark.Thread{
		Name: "plot",
		Print: func(_ *starlark.Thread, msg string) {
			e.logf("[PLOT-EXEC] print: " + msg)
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	if _, err := prog.Init(thread, env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, &RenderError{Err: fmt.Errorf("%s", evalErr.Backtrace())}
		}
		return nil, &RenderError{Err: err}
	}

	if chart == nil {
		return nil, &RenderError{Err: fmt.Errorf("script completed without producing a chart")}
	}

	e.logf(fmt.Sprintf("[PLOT-EXEC] %s chart rendered", art.Spec.Kind))
	return chart, nil
}

// buildEnv constructs the per-run namespace: the result data plus one
// builtin per chart kind. The chart handle is captured through the out
// pointer so the builtins can hand it back to Go.
func (e *PlotExecutor) buildEnv(res *TabularResult, out *render.Chart) starlark.StringDict {
	columnFunc := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		col, ok := res.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		return columnToStarlark(col), nil
	}

	axisChart := func(build func(title string, x []string, series []render.Series) (render.Chart, error)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x, y starlark.Value
			var title, name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "y", &y, "title??", &title, "name??", &name); err != nil {
				return nil, err
			}

			labels, err := starlarkToStrings(x)
			if err != nil {
				return nil, fmt.Errorf("%s: x: %w", b.Name(), err)
			}
			series, err := starlarkToSeries(y, name)
			if err != nil {
				return nil, fmt.Errorf("%s: y: %w", b.Name(), err)
			}

			chart, err := build(title, labels, series)
			if err != nil {
				return nil, err
			}
			*out = chart
			return starlark.None, nil
		}
	}

	pieFunc := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var labelsV, valuesV starlark.Value
		var title string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "labels", &labelsV, "values", &valuesV, "title??", &title); err != nil {
			return nil, err
		}

		labels, err := starlarkToStrings(labelsV)
		if err != nil {
			return nil, fmt.Errorf("pie: labels: %w", err)
		}
		values, err := starlarkToFloats(valuesV)
		if err != nil {
			return nil, fmt.Errorf("pie: values: %w", err)
		}

		chart, err := e.renderer.Pie(title, labels, values)
		if err != nil {
			return nil, err
		}
		*out = chart
		return starlark.None, nil
	}

	columnNames := make([]starlark.Value, len(res.Columns))
	for i, c := range res.Columns {
		columnNames[i] = starlark.String(c)
	}

	return starlark.StringDict{
		"columns": starlark.NewList(columnNames),
		"rows":    rowsToStarlark(res),
		"column":  starlark.NewBuiltin("column", columnFunc),
		"bar":     starlark.NewBuiltin("bar", axisChart(e.renderer.Bar)),
		"line":    starlark.NewBuiltin("line", axisChart(e.renderer.Line)),
		"scatter": starlark.NewBuiltin("scatter", axisChart(e.renderer.Scatter)),
		"pie":     starlark.NewBuiltin("pie", pieFunc),
	}
}

func rowsToStarlark(res *TabularResult) *starlark.List {
	rows := res.Rows(0)
	items := make([]starlark.Value, len(rows))
	for i, row := range rows {
		d := starlark.NewDict(len(row))
		for _, c := range res.Columns {
			// SetKey on a fresh dict only fails for unhashable keys;
			// column names are strings.
			_ = d.SetKey(starlark.String(c), scalarToStarlark(row[c]))
		}
		items[i] = d
	}
	return starlark.NewList(items)
}

func columnToStarlark(col []interface{}) *starlark.List {
	items := make([]starlark.Value, len(col))
	for i, v := range col {
		items[i] = scalarToStarlark(v)
	}
	return starlark.NewList(items)
}

func scalarToStarlark(v interface{}) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case int:
		return starlark.MakeInt(x)
	case int32:
		return starlark.MakeInt64(int64(x))
	case int64:
		return starlark.MakeInt64(x)
	case uint64:
		return starlark.MakeUint64(x)
	case float32:
		return starlark.Float(float64(x))
	case float64:
		return starlark.Float(x)
	case []byte:
		return starlark.String(string(x))
	case time.Time:
		return starlark.String(x.Format("2006-01-02 15:04:05"))
	case string:
		return starlark.String(x)
	default:
		return starlark.String(fmt.Sprintf("%v", x))
	}
}

func starlarkToStrings(v starlark.Value) ([]string, error) {
	it, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %s", v.Type())
	}

	var out []string
	iter := it.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		switch x := item.(type) {
		case starlark.String:
			out = append(out, string(x))
		default:
			out = append(out, item.String())
		}
	}
	return out, nil
}

func starlarkToFloats(v starlark.Value) ([]float64, error) {
	it, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list of numbers, got %s", v.Type())
	}

	var out []float64
	iter := it.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		if f, ok := starlark.AsFloat(item); ok {
			out = append(out, f)
			continue
		}
		if s, ok := item.(starlark.String); ok {
			if f, err := strconv.ParseFloat(string(s), 64); err == nil {
				out = append(out, f)
				continue
			}
		}
		return nil, fmt.Errorf("value %s is not a number", item.String())
	}
	return out, nil
}

// starlarkToSeries accepts either a flat list of numbers (one series) or a
// dict mapping series names to number lists.
func starlarkToSeries(v starlark.Value, defaultName string) ([]render.Series, error) {
	if defaultName == "" {
		defaultName = "value"
	}

	if d, ok := v.(*starlark.Dict); ok {
		var series []render.Series
		for _, kv := range d.Items() {
			name, ok := kv[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("series name %s is not a string", kv[0].String())
			}
			values, err := starlarkToFloats(kv[1])
			if err != nil {
				return nil, fmt.Errorf("series %q: %w", string(name), err)
			}
			series = append(series, render.Series{Name: string(name), Values: values})
		}
		return series, nil
	}

	values, err := starlarkToFloats(v)
	if err != nil {
		return nil, err
	}
	return []render.Series{{Name: defaultName, Values: values}}, nil
}
