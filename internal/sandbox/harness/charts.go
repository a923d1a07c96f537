package harness

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"
	"go.starlark.net/starlark"
)

func (g *pathGuard) chartLine(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	abs, title, labels, values, err := g.unpackChartArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, len(values))
	ticks := make([]chart.Tick, len(labels))
	for i := range values {
		xs[i] = float64(i)
	}
	for i, label := range labels {
		ticks[i] = chart.Tick{Value: float64(i), Label: label}
	}
	graph := chart.Chart{
		Title:  title,
		Width:  800,
		Height: 480,
		XAxis:  chart.XAxis{Ticks: ticks},
		Series: []chart.Series{
			chart.ContinuousSeries{XValues: xs, YValues: values},
		},
	}
	if err := renderPNG(abs, graph.Render); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (g *pathGuard) chartBar(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	abs, title, labels, values, err := g.unpackChartArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	bars := make([]chart.Value, len(values))
	for i, v := range values {
		bars[i] = chart.Value{Label: labels[i], Value: v}
	}
	graph := chart.BarChart{
		Title:    title,
		Width:    800,
		Height:   480,
		BarWidth: 40,
		Bars:     bars,
	}
	if err := renderPNG(abs, graph.Render); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// unpackChartArgs validates the shared chart signature: path, title, a list
// of string labels and a list of numeric values of the same length.
func (g *pathGuard) unpackChartArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, string, []string, []float64, error) {
	var path, title string
	var labelList, valueList *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 4, &path, &title, &labelList, &valueList); err != nil {
		return "", "", nil, nil, err
	}
	abs, err := g.writable(path)
	if err != nil {
		return "", "", nil, nil, err
	}
	if labelList.Len() != valueList.Len() {
		return "", "", nil, nil, fmt.Errorf("%s: labels and values must have the same length, got %d and %d", b.Name(), labelList.Len(), valueList.Len())
	}
	if labelList.Len() == 0 {
		return "", "", nil, nil, fmt.Errorf("%s: labels must not be empty", b.Name())
	}
	labels := make([]string, labelList.Len())
	for i := 0; i < labelList.Len(); i++ {
		s, ok := starlark.AsString(labelList.Index(i))
		if !ok {
			return "", "", nil, nil, fmt.Errorf("%s: label %d is not a string", b.Name(), i)
		}
		labels[i] = s
	}
	values := make([]float64, valueList.Len())
	for i := 0; i < valueList.Len(); i++ {
		f, ok := starlark.AsFloat(valueList.Index(i))
		if !ok {
			return "", "", nil, nil, fmt.Errorf("%s: value %d is not a number", b.Name(), i)
		}
		values[i] = f
	}
	return abs, title, labels, values, nil
}

func renderPNG(path string, render func(chart.RendererProvider, io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(chart.PNG, f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
