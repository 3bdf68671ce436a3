package trainer

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// TracePlot builds a plot of the training objective and, when recorded, the
// negative validation score against the iteration number. Both curves are in
// bits per output component, lower is better.
func TracePlot(t *Trace) (*plot.Plot, error) {
	if t == nil || t.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "trace is empty")
	}

	p := plot.New()
	p.Title.Text = "Training trace"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "negative log-likelihood [bit/component]"
	p.Add(plotter.NewGrid())

	train := make(plotter.XYs, t.Len())
	for i := range train {
		train[i].X = float64(t.Iterations[i])
		train[i].Y = t.Objectives[i]
	}
	line, err := plotter.NewLine(train)
	if err != nil {
		return nil, errors.Wrap(err, "training curve")
	}
	line.Color = plotter.DefaultLineStyle.Color
	p.Add(line)
	p.Legend.Add("training", line)

	if len(t.Validation) > 0 {
		val := make(plotter.XYs, len(t.Validation))
		for i := range val {
			val[i].X = float64(t.ValidationIterations[i])
			val[i].Y = -t.Validation[i]
		}
		scatter, err := plotter.NewScatter(val)
		if err != nil {
			return nil, errors.Wrap(err, "validation curve")
		}
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
		p.Legend.Add("validation", scatter)
	}
	return p, nil
}

// PlotTrace renders the trace to filename. The format follows the file
// extension (png, svg, pdf, ...).
func PlotTrace(t *Trace, filename string) error {
	p, err := TracePlot(t)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return errors.Wrap(err, "failed to save trace plot")
	}
	return nil
}
