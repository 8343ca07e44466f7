package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/httputil"
)

// handleDelayChart renders the snapshot history as an HTML line chart of
// average, p50 and p99 delay in milliseconds. Debugging aid only.
func (ws *WebServer) handleDelayChart(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	history := append([]correlate.Snapshot(nil), ws.history...)
	ws.mu.Unlock()

	if len(history) == 0 {
		httputil.NotFound(w, "no stats history yet")
		return
	}

	labels := make([]string, len(history))
	avg := make([]opts.LineData, len(history))
	p50 := make([]opts.LineData, len(history))
	p99 := make([]opts.LineData, len(history))
	for i, s := range history {
		labels[i] = s.At.Format("15:04:05")
		avg[i] = opts.LineData{Value: float64(s.AvgDelay.Microseconds()) / 1000}
		p50[i] = opts.LineData{Value: float64(s.P50Delay.Microseconds()) / 1000}
		p99[i] = opts.LineData{Value: float64(s.P99Delay.Microseconds()) / 1000}
	}

	last := history[len(history)-1]
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cross-feed delay", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cross-feed delay",
			Subtitle: fmt.Sprintf("%s vs %s, %d matched", last.Feed0Name, last.Feed1Name, last.Matched),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "delay (ms)"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(labels).
		AddSeries("avg", avg).
		AddSeries("p50", p50).
		AddSeries("p99", p99)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
