package render

import (
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// EchartsRenderer renders charts as self-contained HTML via go-echarts.
type EchartsRenderer struct{}

// NewEchartsRenderer creates the default renderer.
func NewEchartsRenderer() *EchartsRenderer {
	return &EchartsRenderer{}
}

// Bar builds a bar chart with one bar series per y field.
func (r *EchartsRenderer) Bar(title string, x []string, series []Series) (Chart, error) {
	if err := checkSeries(x, series); err != nil {
		return nil, err
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))
	bar.SetXAxis(x)
	for _, s := range series {
		data := make([]opts.BarData, len(s.Values))
		for i, v := range s.Values {
			data[i] = opts.BarData{Value: v}
		}
		bar.AddSeries(s.Name, data)
	}
	return bar, nil
}

// Line builds a line chart with one line per y field.
func (r *EchartsRenderer) Line(title string, x []string, series []Series) (Chart, error) {
	if err := checkSeries(x, series); err != nil {
		return nil, err
	}
	line := charts.NewLine()
	line.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))
	line.SetXAxis(x)
	for _, s := range series {
		data := make([]opts.LineData, len(s.Values))
		for i, v := range s.Values {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(s.Name, data)
	}
	return line, nil
}

// Pie builds a pie chart from aligned labels and values.
func (r *EchartsRenderer) Pie(title string, labels []string, values []float64) (Chart, error) {
	if len(labels) != len(values) {
		return nil, fmt.Errorf("pie: %d labels but %d values", len(labels), len(values))
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("pie: no data")
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))
	data := make([]opts.PieData, len(labels))
	for i := range labels {
		data[i] = opts.PieData{Name: labels[i], Value: values[i]}
	}
	pie.AddSeries(title, data)
	return pie, nil
}

// Scatter builds a scatter chart; x values are treated as axis labels so the
// same column-shaped input works for categorical and numeric x fields.
func (r *EchartsRenderer) Scatter(title string, x []string, series []Series) (Chart, error) {
	if err := checkSeries(x, series); err != nil {
		return nil, err
	}
	sc := charts.NewScatter()
	sc.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))
	sc.SetXAxis(x)
	for _, s := range series {
		data := make([]opts.ScatterData, len(s.Values))
		for i, v := range s.Values {
			data[i] = opts.ScatterData{Value: v}
		}
		sc.AddSeries(s.Name, data)
	}
	return sc, nil
}

func checkSeries(x []string, series []Series) error {
	if len(x) == 0 {
		return fmt.Errorf("no x values")
	}
	if len(series) == 0 {
		return fmt.Errorf("no series")
	}
	for _, s := range series {
		if len(s.Values) != len(x) {
			return fmt.Errorf("series %q has %d values but x axis has %d", s.Name, len(s.Values), len(x))
		}
	}
	return nil
}
