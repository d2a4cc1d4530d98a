package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// waveformChart renders the latest conditioned waveform as an HTML line
// chart. This is a debugging-only endpoint to eyeball the signal without a
// connected telemetry client.
func (s *Server) waveformChart(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.history.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no telemetry cycles yet")
		return
	}

	xAxis := make([]string, len(latest.Waveform))
	data := make([]opts.LineData, len(latest.Waveform))
	for i, v := range latest.Waveform {
		xAxis[i] = fmt.Sprintf("%d", i)
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Breathing Waveform", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Conditioned Breathing Waveform",
			Subtitle: fmt.Sprintf("captured %s, motion=%s alert=%s", latest.Timestamp.Format("15:04:05.000"), latest.Classification.Motion, latest.Classification.Alert),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Amplitude"}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("waveform", data, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// trendChart renders breathing rate and variability across the in-memory
// history as an HTML line chart.
func (s *Server) trendChart(w http.ResponseWriter, r *http.Request) {
	snapshots := s.history.Snapshots()
	if len(snapshots) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no telemetry cycles yet")
		return
	}

	xAxis := make([]string, len(snapshots))
	rates := make([]opts.LineData, len(snapshots))
	variability := make([]opts.LineData, len(snapshots))
	for i, snap := range snapshots {
		xAxis[i] = snap.Timestamp.Format("15:04:05")
		rates[i] = opts.LineData{Value: snap.BreathingRate}
		variability[i] = opts.LineData{Value: snap.Classification.Variability}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Breathing Trend", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Breathing Trend",
			Subtitle: fmt.Sprintf("%d cycles", len(snapshots)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("rate (bpm)", rates)
	line.AddSeries("variability", variability)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// waveformPNG renders the latest waveform as a static PNG for clients that
// cannot run the echarts JS bundle.
func (s *Server) waveformPNG(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.history.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no telemetry cycles yet")
		return
	}

	p := plot.New()
	p.Title.Text = "Conditioned Breathing Waveform"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Amplitude"

	pts := make(plotter.XYs, len(latest.Waveform))
	for i, v := range latest.Waveform {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)

	writer, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := writer.WriteTo(w); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to write plot")
		return
	}
}
