// Package report renders post-session visualisations from stored results:
// an HTML report (go-echarts) with angle-over-time traces, a compensation
// timeline, and the feedback table, plus a PNG angle-trace export
// (gonum/plot) for embedding in clinic documents.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/store"
)

// Data is everything a session report renders. Callers load it from the
// store; the report layer never touches the database itself.
type Data struct {
	Session      *store.SessionRow
	Measurements []*goniometry.JointMeasurement
	Events       []*compensation.Event
	Feedback     []feedback.Item
}

// secondsFrom converts a nanosecond timestamp to seconds past session start.
func (d *Data) secondsFrom(nanos int64) float64 {
	return float64(nanos-d.Session.StartNano) / 1e9
}

// SessionHTML renders the full session report page.
func SessionHTML(w io.Writer, data *Data) error {
	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Session %s", data.Session.SessionID))

	page.AddCharts(angleChart(data), eventChart(data), feedbackChart(data))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render session report: %w", err)
	}
	return nil
}

// angleChart plots every joint's angle trace against seconds from start.
func angleChart(data *Data) components.Charter {
	byJoint := make(map[goniometry.JointID][]*goniometry.JointMeasurement)
	for _, m := range data.Measurements {
		byJoint[m.Joint] = append(byJoint[m.Joint], m)
	}
	joints := make([]goniometry.JointID, 0, len(byJoint))
	for id := range byJoint {
		joints = append(joints, id)
	}
	sort.Slice(joints, func(i, j int) bool { return joints[i] < joints[j] })

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Joint angles",
			Subtitle: fmt.Sprintf("exercise=%s frames=%d reps=%d", data.Session.ExerciseID, data.Session.FrameCount, data.Session.Repetitions),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "angle (°)"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	for _, id := range joints {
		series := byJoint[id]
		points := make([]opts.LineData, 0, len(series))
		for _, m := range series {
			points = append(points, opts.LineData{Value: []interface{}{data.secondsFrom(m.TimestampNano), m.AngleDegrees}})
		}
		line.AddSeries(string(id), points)
	}
	return line
}

// eventChart plots compensation events as a timeline scatter: x = onset
// seconds, y = severity rank, point size ~ duration.
func eventChart(data *Data) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Compensations", Subtitle: fmt.Sprintf("%d events", len(data.Events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "onset (s)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "severity", Min: 0, Max: 3}),
	)

	byType := make(map[compensation.Type][]opts.ScatterData)
	for _, ev := range data.Events {
		byType[ev.Type] = append(byType[ev.Type], opts.ScatterData{
			Value:      []interface{}{data.secondsFrom(ev.StartNano), ev.Severity.Rank()},
			SymbolSize: int(6 + ev.Duration().Seconds()*4),
		})
	}
	types := make([]compensation.Type, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		scatter.AddSeries(string(t), byType[t])
	}
	return scatter
}

// feedbackChart shows the ranked feedback as a horizontal bar of priorities.
func feedbackChart(data *Data) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Feedback priorities"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	keys := make([]string, 0, len(data.Feedback))
	values := make([]opts.BarData, 0, len(data.Feedback))
	for _, item := range data.Feedback {
		keys = append(keys, item.MessageKey)
		values = append(values, opts.BarData{Value: item.Priority})
	}
	bar.SetXAxis(keys)
	bar.AddSeries("priority", values)
	return bar
}

// AngleTracePNG writes a single joint's angle trace as a PNG.
func AngleTracePNG(w io.Writer, data *Data, joint goniometry.JointID) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s, session %s", joint, data.Session.SessionID)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "angle (°)"

	pts := make(plotter.XYs, 0, len(data.Measurements))
	for _, m := range data.Measurements {
		if m.Joint != joint {
			continue
		}
		pts = append(pts, plotter.XY{X: data.secondsFrom(m.TimestampNano), Y: m.AngleDegrees})
	}
	if len(pts) == 0 {
		return fmt.Errorf("no measurements for joint %s", joint)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render png: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}
