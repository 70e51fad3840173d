// Package render defines the plotting contract exposed to generated code:
// one constructor per supported chart kind, column-shaped data in, an opaque
// chart handle out. The pipeline never inspects rendered output beyond the
// handle; display is the caller's concern.
package render

import (
	"fmt"
	"io"
	"strings"
)

// ChartKind enumerates the supported chart types.
type ChartKind string

const (
	KindBar     ChartKind = "bar"
	KindLine    ChartKind = "line"
	KindPie     ChartKind = "pie"
	KindScatter ChartKind = "scatter"
)

// Kinds lists every supported chart kind, in the order they are offered to
// the language model.
func Kinds() []ChartKind {
	return []ChartKind{KindBar, KindLine, KindPie, KindScatter}
}

// ParseKind maps a model-emitted kind string to a ChartKind. A few common
// aliases are accepted; anything else is an error.
func ParseKind(s string) (ChartKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bar", "column", "barh":
		return KindBar, nil
	case "line", "area", "trend":
		return KindLine, nil
	case "pie", "donut", "doughnut":
		return KindPie, nil
	case "scatter", "point":
		return KindScatter, nil
	default:
		return "", fmt.Errorf("unsupported chart kind %q", s)
	}
}

// Chart is an opaque renderable handle. Callers decide where it is written.
type Chart interface {
	Render(w io.Writer) error
}

// Series is one named sequence of y values aligned with the x axis.
type Series struct {
	Name   string
	Values []float64
}

// Renderer is the fixed set of chart-construction entry points. It is the
// only capability surfaced inside the restricted execution namespace for
// generated plot code.
type Renderer interface {
	Bar(title string, x []string, series []Series) (Chart, error)
	Line(title string, x []string, series []Series) (Chart, error)
	Pie(title string, labels []string, values []float64) (Chart, error)
	Scatter(title string, x []string, series []Series) (Chart, error)
}
