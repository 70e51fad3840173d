package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoSchema "github.com/cloudwego/eino/schema"

	"sqlchart/render"
)

// PlotSynthesizer asks the model for a chart specification plus the script
// that realizes it, grounded on the actual result columns and a bounded row
// sample. The caller routes empty results to NoData before ever invoking it;
// zero rows is a terminal state, not a synthesis target.
type PlotSynthesizer struct {
	chatModel  model.ChatModel
	validator  *ScriptValidator
	sampleRows int
	logf       func(string)
}

// NewPlotSynthesizer creates a plot synthesizer.
func NewPlotSynthesizer(chatModel model.ChatModel, sampleRows int, logf func(string)) *PlotSynthesizer {
	if sampleRows <= 0 {
		sampleRows = 3
	}
	if logf == nil {
		logf = func(string) {}
	}
	return &PlotSynthesizer{
		chatModel:  chatModel,
		validator:  NewScriptValidator(),
		sampleRows: sampleRows,
		logf:       logf,
	}
}

// Synthesize generates a plot artifact for a non-empty result. Every field
// the spec references is checked against the result's columns; a miss is a
// synthesis failure the repair loop can feed back.
func (p *PlotSynthesizer) Synthesize(ctx context.Context, question string, res *TabularResult, attempt int, prior *PlotArtifact, priorErr string) (*PlotArtifact, error) {
	if res.Empty() {
		return nil, &SynthesisError{Reason: "empty result: nothing to plot"}
	}

	msgs := []*einoSchema.Message{
		{Role: einoSchema.System, Content: plotSystemPrompt},
		{Role: einoSchema.User, Content: p.buildPrompt(question, res, prior, priorErr)},
	}

	resp, err := p.chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, &SynthesisError{Reason: "model call failed", Err: err}
	}

	spec, script, err := parsePlotResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	if err := spec.Validate(res); err != nil {
		return nil, &SynthesisError{Reason: err.Error()}
	}
	if err := p.validator.Validate(script); err != nil {
		return nil, &SynthesisError{Reason: err.Error()}
	}

	p.logf(fmt.Sprintf("[PLOT-SYNTH] attempt %d produced %s chart (x=%s, y=%s)",
		attempt, spec.Kind, spec.XField, strings.Join(spec.YFields, ",")))

	return &PlotArtifact{Spec: *spec, Script: script, Attempt: attempt}, nil
}

const plotSystemPrompt = `You are a data visualization expert. You translate query results into chart scripts.
The script language is Starlark (a Python subset): no imports, no while loops, no classes.
Output only the JSON spec and the script, exactly in the requested format.`

func (p *PlotSynthesizer) buildPrompt(question string, res *TabularResult, prior *PlotArtifact, priorErr string) string {
	var sb strings.Builder

	if prior != nil && priorErr != "" {
		sb.WriteString("Your previous chart script failed.\n\n## Previous Script\n```python\n")
		sb.WriteString(prior.Script)
		sb.WriteString("\n```\n\n## Error Message\n")
		sb.WriteString(priorErr)
		sb.WriteString("\n\nFix the problem and output a corrected spec and script.\n\n")
	}

	sampleJSON, _ := json.Marshal(res.Rows(p.sampleRows))

	sb.WriteString(fmt.Sprintf(`## User Question
"%s"

## Query Result
Columns: %s
Total rows: %d
Sample rows: %s

## Chart Selection
- Categorical x + aggregated numeric y -> "bar"
- Time series -> "line"
- Two continuous variables -> "scatter"
- Percentage composition -> "pie"
If the question names a chart type, use that type.

## Script Environment
The script runs in a restricted namespace. Available names (nothing else):
- columns: list of column name strings
- rows: list of dicts, one per result row
- column(name): returns the named column as a list
- bar(x, y, title="", name=""), line(x, y, title="", name=""), scatter(x, y, title="", name="")
  where x is a list of labels and y is a list of numbers or a dict {series_name: numbers}
- pie(labels, values, title="")
Call exactly one chart function. x and y values must come from column(...).

## Output Format
First a JSON spec in a json code block:
`+"```json\n{\"kind\": \"bar\", \"title\": \"...\", \"x_field\": \"...\", \"y_fields\": [\"...\"]}\n```"+`
Then the script in a python code block:
`+"```python\nbar(x=column(\"...\"), y=column(\"...\"), title=\"...\")\n```"+`
x_field and y_fields must be existing column names from the list above.`,
		question, strings.Join(res.Columns, ", "), res.RowCount(), sampleJSON))

	return sb.String()
}

var taggedFenceRe = regexp.MustCompile("(?s)```([a-zA-Z]*)[ \\t]*\\n(.*?)```")

// parsePlotResponse splits a model response into the JSON spec and the
// script. Responses without both parts are unparsable.
func parsePlotResponse(response string) (*PlotSpec, string, error) {
	var specJSON, script string

	for _, m := range taggedFenceRe.FindAllStringSubmatch(response, -1) {
		tag := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		switch {
		case tag == "json" && specJSON == "":
			specJSON = body
		case (tag == "python" || tag == "starlark" || tag == "") && script == "":
			if strings.HasPrefix(body, "{") {
				// Untagged fence holding the spec.
				if specJSON == "" {
					specJSON = body
				}
				continue
			}
			script = body
		}
	}

	// Fallback for responses that skip fences entirely.
	if specJSON == "" {
		if start := strings.Index(response, "{"); start >= 0 {
			if end := strings.Index(response[start:], "}"); end > 0 {
				specJSON = response[start : start+end+1]
			}
		}
	}

	if specJSON == "" {
		return nil, "", &SynthesisError{Reason: "unparsable response: no chart spec found"}
	}
	if script == "" {
		return nil, "", &SynthesisError{Reason: "unparsable response: no chart script found"}
	}

	var raw struct {
		Kind    string   `json:"kind"`
		Title   string   `json:"title"`
		XField  string   `json:"x_field"`
		YFields []string `json:"y_fields"`
	}
	if err := json.Unmarshal([]byte(specJSON), &raw); err != nil {
		return nil, "", &SynthesisError{Reason: "unparsable response: invalid spec JSON", Err: err}
	}

	kind, err := render.ParseKind(raw.Kind)
	if err != nil {
		return nil, "", &SynthesisError{Reason: err.Error()}
	}

	return &PlotSpec{
		Kind:    kind,
		Title:   raw.Title,
		XField:  raw.XField,
		YFields: raw.YFields,
	}, script, nil
}
